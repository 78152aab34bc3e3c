// Package session owns the artifacts of one tool visit and the operations
// that process, reorder and export them.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/packaging"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/tools"
)

// ViewMode is the coarse state shown to the user.
type ViewMode string

const (
	ViewEmpty    ViewMode = "empty"
	ViewSettings ViewMode = "settings"
	ViewResults  ViewMode = "results"
)

// Session holds the ordered artifacts of one tool. Every preview it hands out
// comes from its registry, so Dispose leaves nothing live.
type Session struct {
	ID    string
	Owner string
	tool  tools.Tool

	mu        sync.Mutex
	artifacts []*models.Artifact
	activeID  string
	view      ViewMode
	settings  tools.Settings
	previews  *preview.Registry
	disposed  bool

	// settingsGen and layoutGen advance on settings changes and on list
	// changes; revs advances per artifact when its own state changes.
	settingsGen uint64
	layoutGen   uint64
	revs        map[string]uint64
	combining   bool

	combined *models.Derived
	packaged *packaging.Result

	createdAt  time.Time
	lastAccess time.Time
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID        string             `json:"id"`
	Tool      tools.Spec         `json:"tool"`
	View      ViewMode           `json:"view"`
	ActiveID  string             `json:"activeId,omitempty"`
	Settings  tools.Settings     `json:"settings"`
	Artifacts []*models.Artifact `json:"artifacts"`
	Combined  *models.Derived    `json:"combined,omitempty"`
	Previews  preview.Stats      `json:"previews"`
	CreatedAt time.Time          `json:"createdAt"`
}

func New(id, owner string, tool tools.Tool) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Owner:      owner,
		tool:       tool,
		view:       ViewEmpty,
		settings:   tools.DefaultSettings(),
		previews:   preview.NewRegistry(),
		revs:       make(map[string]uint64),
		createdAt:  now,
		lastAccess: now,
	}
}

func (s *Session) Tool() tools.Tool { return s.tool }

// Previews is the registry intake allocates original previews from.
func (s *Session) Previews() *preview.Registry { return s.previews }

func (s *Session) touch() {
	s.lastAccess = time.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) indexOf(id string) int {
	for i, a := range s.artifacts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) find(id string) *models.Artifact {
	if i := s.indexOf(id); i >= 0 {
		return s.artifacts[i]
	}
	return nil
}

// invalidate discards every result that depends on the list as a whole. Any
// structural change leaves the results view.
func (s *Session) invalidate() {
	if s.combined != nil {
		s.previews.Revoke(s.combined.Preview)
		s.combined = nil
	}
	s.packaged = nil
	s.refreshView()
}

// dropDerived revokes an artifact's processed preview and clears its result.
func (s *Session) dropDerived(a *models.Artifact) {
	if a.Derived != nil {
		s.previews.Revoke(a.Derived.Preview)
		a.Derived = nil
	}
	a.Processed = false
	a.Error = ""
}

func (s *Session) refreshView() {
	if len(s.artifacts) == 0 {
		s.view = ViewEmpty
		return
	}
	s.view = ViewSettings
}

func (s *Session) allProcessed() bool {
	if s.tool.Spec().Combine {
		return s.combined != nil
	}
	for _, a := range s.artifacts {
		if !a.Processed {
			return false
		}
	}
	return len(s.artifacts) > 0
}

// Add appends artifacts in arrival order and activates the first one when
// nothing is active.
func (s *Session) Add(artifacts []*models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		for _, a := range artifacts {
			s.previews.Revoke(a.OriginalPreview)
		}
		return ErrDisposed
	}
	s.touch()
	if len(artifacts) == 0 {
		return nil
	}

	s.artifacts = append(s.artifacts, artifacts...)
	if s.activeID == "" {
		s.activeID = artifacts[0].ID
	}
	s.layoutGen++
	s.invalidate()
	return nil
}

// Remove revokes both previews of the artifact and drops it. A removed active
// artifact hands the active slot to the new first artifact.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.touch()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	a := s.artifacts[i]
	s.dropDerived(a)
	s.previews.Revoke(a.OriginalPreview)
	s.artifacts = append(s.artifacts[:i], s.artifacts[i+1:]...)
	delete(s.revs, id)

	if s.activeID == id {
		s.activeID = ""
		if len(s.artifacts) > 0 {
			s.activeID = s.artifacts[0].ID
		}
	}
	s.layoutGen++
	s.invalidate()
	return nil
}

// Reset revokes every live preview and clears the list.
func (s *Session) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0
	}
	s.touch()

	n := s.previews.RevokeAll()
	s.artifacts = nil
	s.activeID = ""
	s.combined = nil
	s.packaged = nil
	s.revs = make(map[string]uint64)
	s.layoutGen++
	s.refreshView()
	return n
}

// Move splices the artifact at from to position to. The order is the output
// order of combine tools, so the combined result is discarded.
func (s *Session) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.touch()

	n := len(s.artifacts)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d to %d with %d files", ErrInvalidIndex, from, to, n)
	}
	if from == to {
		return nil
	}
	a := s.artifacts[from]
	s.artifacts = append(s.artifacts[:from], s.artifacts[from+1:]...)
	s.artifacts = append(s.artifacts[:to], append([]*models.Artifact{a}, s.artifacts[to:]...)...)
	s.layoutGen++
	s.invalidate()
	return nil
}

func (s *Session) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.touch()
	if id != "" && s.find(id) == nil {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	s.activeID = id
	return nil
}

// Settings returns a copy of the current settings.
func (s *Session) Settings() tools.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// UpdateSettings replaces the shared settings. Every result computed with the
// old settings is discarded.
func (s *Session) UpdateSettings(settings tools.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.touch()

	s.settings = settings.Clone()
	s.settingsGen++
	for _, a := range s.artifacts {
		s.dropDerived(a)
	}
	s.invalidate()
	return nil
}

// UpdateArtifactState stores per-artifact overrides such as crop geometry,
// which survive switching the active artifact.
func (s *Session) UpdateArtifactState(id string, state models.ArtifactState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.touch()

	a := s.find(id)
	if a == nil {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	a.State = state
	s.revs[id]++
	s.dropDerived(a)
	s.invalidate()
	return nil
}

// OpenPreview returns the bytes behind a live preview reference.
func (s *Session) OpenPreview(ref preview.Ref) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	data, mime, ok := s.previews.Open(ref)
	if !ok {
		return nil, "", fmt.Errorf("%w: preview %s", ErrNotFound, ref)
	}
	return data, mime, nil
}

// Artifacts returns copies of the artifacts in list order.
func (s *Session) Artifacts() []*models.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneArtifacts()
}

func (s *Session) cloneArtifacts() []*models.Artifact {
	out := make([]*models.Artifact, len(s.artifacts))
	for i, a := range s.artifacts {
		out[i] = a.Clone()
	}
	return out
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	snap := Snapshot{
		ID:        s.ID,
		Tool:      s.tool.Spec(),
		View:      s.view,
		ActiveID:  s.activeID,
		Settings:  s.settings.Clone(),
		Artifacts: s.cloneArtifacts(),
		Previews:  s.previews.Stats(),
		CreatedAt: s.createdAt,
	}
	if s.combined != nil {
		d := *s.combined
		snap.Combined = &d
	}
	return snap
}

// Packaged returns the last export, or nil when it was invalidated.
func (s *Session) Packaged() *packaging.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packaged
}

// Dispose revokes every preview. Late task completions are dropped afterwards.
func (s *Session) Dispose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return 0
	}
	s.disposed = true
	s.artifacts = nil
	s.activeID = ""
	s.combined = nil
	s.packaged = nil
	s.view = ViewEmpty
	return s.previews.Dispose()
}

func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
