package handoff

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/internal/packaging"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStashOverwritesStaleFields(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			layer := NewLayer(store, "/api/v1/download", logger.NewTestLogger())

			first := Handoff{Payload: "data:image/png;base64,AA==", Filename: "a.png", Size: 1, MimeType: "image/png", ReturnTo: "/tools/compress"}
			require.NoError(t, layer.Stash(ctx, "s1", "compress", first))

			second := Handoff{Payload: "data:application/zip;base64,UEs=", Filename: "b.zip", Size: 2, MimeType: "application/zip"}
			require.NoError(t, layer.Stash(ctx, "s1", "compress", second))

			got, err := layer.Load(ctx, "s1", "compress")
			require.NoError(t, err)
			assert.Equal(t, second, *got, "returnTo from the first run must not leak")
		})
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			layer := NewLayer(store, "/dl", logger.NewTestLogger())
			_, err := layer.Load(ctx, "nobody", "resize")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, layer.Stash(ctx, "s", "resize", Handoff{Payload: "data:x;base64,AA==", Filename: "f"}))
			require.NoError(t, layer.Clear(ctx, "s", "resize"))
			_, err = layer.Load(ctx, "s", "resize")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStashValidates(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), "/dl", logger.NewTestLogger())
	assert.Error(t, layer.Stash(context.Background(), "", "t", Handoff{Payload: "p", Filename: "f"}))
	assert.Error(t, layer.Stash(context.Background(), "s", "t", Handoff{Filename: "f"}))
}

func TestRedisStoreUsesOneHash(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, store.Replace(context.Background(), Key("s", "crop"), map[string]string{"payload": "p", "filename": "f"}))
	assert.Equal(t, "p", mr.HGet("handoff:s:crop", "payload"))
	assert.Equal(t, "f", mr.HGet("handoff:s:crop", "filename"))
}

func TestFromResultDecodes(t *testing.T) {
	res, err := packaging.Package([]packaging.Entry{{Name: "x_resized.png", MimeType: "image/png", Data: []byte("img")}}, "")
	require.NoError(t, err)
	h := FromResult(res, "/tools/resize")
	assert.Equal(t, int64(3), h.Size)
	data, err := h.Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestDownloadPath(t *testing.T) {
	layer := NewLayer(NewMemoryStore(), "/api/v1/download/", logger.NewNop())
	assert.Equal(t, "/api/v1/download/abc/html-to-image", layer.DownloadPath("abc", "html-to-image"))
}

func TestOwnerRoundTrips(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			layer := NewLayer(store, "/dl", logger.NewTestLogger())
			require.NoError(t, layer.Stash(ctx, "user-1", "resize", Handoff{Payload: "data:x;base64,AA==", Filename: "f", Owner: "user-1"}))

			got, err := layer.Load(ctx, "user-1", "resize")
			require.NoError(t, err)
			assert.Equal(t, "user-1", got.Owner)
			assert.True(t, got.VisibleTo("user-1"))
			assert.False(t, got.VisibleTo(""))
			assert.False(t, got.VisibleTo("user-2"))

			anon := Handoff{Payload: "data:x;base64,AA==", Filename: "f"}
			assert.True(t, anon.VisibleTo(""))
		})
	}
}
