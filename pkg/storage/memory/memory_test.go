package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/pkg/logger"
)

func TestStoreGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewStorage(logger.NewTestLogger())

	key, err := m.Store(ctx, strings.NewReader("payload"), "exports/s1/a.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "exports/s1/a.png", key)
	assert.Equal(t, "image/png", m.ContentType(key))

	rc, err := m.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, m.Delete(ctx, key))
	_, err = m.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, key), ErrNotFound)
}

func TestCleanupBeforeHonoursPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewStorage(logger.NewTestLogger())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	_, _ = m.Store(ctx, bytes.NewReader(nil), "exports/old", "")
	_, _ = m.Store(ctx, bytes.NewReader(nil), "inputs/old", "")
	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, _ = m.Store(ctx, bytes.NewReader(nil), "exports/new", "")

	n, err := m.CleanupBefore(ctx, "exports/", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"exports/new"}, m.Keys("exports/"))
	assert.Len(t, m.Keys("inputs/"), 1)
}
