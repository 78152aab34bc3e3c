// Package profile stores per-user profile documents and their favorite tools.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound     = errors.New("profile not found")
	ErrInvalidField = errors.New("invalid profile field")
)

// Document is one user's profile. Fields holds every stored field, including
// the well-known ones mirrored into the typed attributes.
type Document struct {
	UserID    string            `json:"userId"`
	Name      string            `json:"name,omitempty"`
	Email     string            `json:"email,omitempty"`
	Avatar    string            `json:"avatar,omitempty"`
	Plan      string            `json:"plan,omitempty"`
	Status    string            `json:"status,omitempty"`
	Role      string            `json:"role,omitempty"`
	Favorites []string          `json:"favorites"`
	Fields    map[string]string `json:"fields,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

func newDocument(userID string, fields map[string]string, favorites []string) *Document {
	sort.Strings(favorites)
	d := &Document{
		UserID:    userID,
		Name:      fields["name"],
		Email:     fields["email"],
		Avatar:    fields["avatar"],
		Plan:      fields["plan"],
		Status:    fields["status"],
		Role:      fields["role"],
		Favorites: favorites,
		Fields:    make(map[string]string, len(fields)),
	}
	if d.Favorites == nil {
		d.Favorites = []string{}
	}
	for k, v := range fields {
		if k == updatedAtField {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				d.UpdatedAt = t
			}
			continue
		}
		d.Fields[k] = v
	}
	return d
}

const updatedAtField = "updatedAt"

// Store is the document store the profile endpoints consume. Favorite
// updates are atomic set operations; nothing spans documents.
type Store interface {
	Get(ctx context.Context, userID string) (*Document, error)
	Update(ctx context.Context, userID string, fields map[string]string) (*Document, error)
	AddFavorite(ctx context.Context, userID, tool string) error
	RemoveFavorite(ctx context.Context, userID, tool string) error
	Delete(ctx context.Context, userID string) error
}

func validateFields(fields map[string]string) error {
	for k := range fields {
		if strings.TrimSpace(k) == "" || k == updatedAtField {
			return fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
	}
	return nil
}

// RedisStore keeps fields in a hash and favorites in a set per user.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "profile:"}
}

func (s *RedisStore) fieldsKey(userID string) string    { return s.prefix + userID }
func (s *RedisStore) favoritesKey(userID string) string { return s.prefix + userID + ":favorites" }

func (s *RedisStore) Get(ctx context.Context, userID string) (*Document, error) {
	var (
		fieldsCmd *redis.MapStringStringCmd
		favCmd    *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		fieldsCmd = p.HGetAll(ctx, s.fieldsKey(userID))
		favCmd = p.SMembers(ctx, s.favoritesKey(userID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	fields, favorites := fieldsCmd.Val(), favCmd.Val()
	if len(fields) == 0 && len(favorites) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return newDocument(userID, fields, favorites), nil
}

func (s *RedisStore) Update(ctx context.Context, userID string, fields map[string]string) (*Document, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[updatedAtField] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.fieldsKey(userID), values).Err(); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *RedisStore) AddFavorite(ctx context.Context, userID, tool string) error {
	if err := s.client.SAdd(ctx, s.favoritesKey(userID), tool).Err(); err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveFavorite(ctx context.Context, userID, tool string) error {
	if err := s.client.SRem(ctx, s.favoritesKey(userID), tool).Err(); err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	n, err := s.client.Del(ctx, s.fieldsKey(userID), s.favoritesKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return nil
}

// MemoryStore is the single-process Store used in development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	fields    map[string]map[string]string
	favorites map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fields:    make(map[string]map[string]string),
		favorites: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(userID)
}

func (s *MemoryStore) getLocked(userID string) (*Document, error) {
	fields, okF := s.fields[userID]
	favs, okS := s.favorites[userID]
	if !okF && !okS {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	list := make([]string, 0, len(favs))
	for t := range favs {
		list = append(list, t)
	}
	return newDocument(userID, cp, list), nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, fields map[string]string) (*Document, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.fields[userID]
	if !ok {
		doc = make(map[string]string)
		s.fields[userID] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc[updatedAtField] = time.Now().UTC().Format(time.RFC3339Nano)
	return s.getLocked(userID)
}

func (s *MemoryStore) AddFavorite(_ context.Context, userID, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.favorites[userID]
	if !ok {
		set = make(map[string]struct{})
		s.favorites[userID] = set
	}
	set[tool] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveFavorite(_ context.Context, userID, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.favorites[userID]; ok {
		delete(set, tool)
		if len(set) == 0 {
			delete(s.favorites, userID)
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, okF := s.fields[userID]
	_, okS := s.favorites[userID]
	if !okF && !okS {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	delete(s.fields, userID)
	delete(s.favorites, userID)
	return nil
}
