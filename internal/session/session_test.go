package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// stubTool echoes the artifact name, optionally after waiting on gate.
type stubTool struct {
	spec    tools.Spec
	gate    chan struct{}
	fail    map[string]bool
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newStub(sequential bool) *stubTool {
	return &stubTool{
		spec: tools.Spec{Name: "stub", Suffix: "_stub", Sequential: sequential},
		fail: map[string]bool{},
	}
}

func (t *stubTool) Spec() tools.Spec { return t.spec }

func (t *stubTool) Process(ctx context.Context, a *models.Artifact, s tools.Settings) (*tools.Output, error) {
	n := t.active.Add(1)
	defer t.active.Add(-1)
	for {
		m := t.maxSeen.Load()
		if n <= m || t.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		time.Sleep(2 * time.Millisecond)
	}
	if t.fail[a.Name] {
		return nil, errors.New("boom")
	}
	return &tools.Output{Data: []byte(fmt.Sprintf("%s@q%d", a.Name, s.Quality)), MimeType: "image/png", Ext: "png"}, nil
}

func addFiles(t *testing.T, s *Session, names ...string) []*models.Artifact {
	t.Helper()
	arts := make([]*models.Artifact, len(names))
	for i, name := range names {
		arts[i] = &models.Artifact{
			ID:              fmt.Sprintf("%s-%d", name, i),
			Name:            name,
			MimeType:        "image/png",
			Data:            []byte(name),
			OriginalPreview: s.Previews().Allocate([]byte(name), "image/png"),
		}
	}
	require.NoError(t, s.Add(arts))
	return arts
}

func newController() *Controller {
	return NewController(4, logger.NewTestLogger())
}

func TestAddActivatesFirstAndRemoveReassigns(t *testing.T) {
	s := New("s1", "", newStub(false))
	assert.Equal(t, ViewEmpty, s.Snapshot().View)

	arts := addFiles(t, s, "a.png", "b.png", "c.png")
	snap := s.Snapshot()
	assert.Equal(t, arts[0].ID, snap.ActiveID)
	assert.Equal(t, ViewSettings, snap.View)

	// adding more keeps the active one
	addFiles(t, s, "d.png")
	assert.Equal(t, arts[0].ID, s.Snapshot().ActiveID)

	report, err := newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ViewResults, report.View)

	require.NoError(t, s.SetActive(arts[1].ID))
	require.NoError(t, s.Remove(arts[1].ID))
	snap = s.Snapshot()
	assert.Equal(t, arts[0].ID, snap.ActiveID)
	assert.Len(t, snap.Artifacts, 3)
	assert.Equal(t, ViewSettings, snap.View, "removing a file leaves the results view")

	report, err = newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ViewResults, report.View)
	addFiles(t, s, "e.png")
	assert.Equal(t, ViewSettings, s.Snapshot().View, "adding a file leaves the results view")

	assert.ErrorIs(t, s.Remove("missing"), ErrNotFound)
	assert.ErrorIs(t, s.SetActive("missing"), ErrNotFound)

	for _, a := range s.Artifacts() {
		require.NoError(t, s.Remove(a.ID))
	}
	snap = s.Snapshot()
	assert.Empty(t, snap.ActiveID)
	assert.Equal(t, ViewEmpty, snap.View)
}

func TestRemoveRevokesBothPreviews(t *testing.T) {
	s := New("s1", "", newStub(false))
	arts := addFiles(t, s, "a.png")
	done, err := newController().ProcessOne(context.Background(), s, arts[0].ID)
	require.NoError(t, err)

	require.NoError(t, s.Remove(arts[0].ID))
	_, _, err = s.OpenPreview(arts[0].OriginalPreview)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.OpenPreview(done.Derived.Preview)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Previews().Stats().Live)
}

func TestProcessOneReplacesDerived(t *testing.T) {
	s := New("s1", "", newStub(false))
	arts := addFiles(t, s, "a.png")
	c := newController()

	first, err := c.ProcessOne(context.Background(), s, arts[0].ID)
	require.NoError(t, err)
	assert.True(t, first.Processed)
	assert.False(t, first.Processing)
	assert.Equal(t, "a_stub.png", first.Derived.Filename)
	assert.Equal(t, int64(len("a.png@q80")), first.Derived.Size)

	second, err := c.ProcessOne(context.Background(), s, arts[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Derived.Preview, second.Derived.Preview)

	_, _, err = s.OpenPreview(first.Derived.Preview)
	assert.ErrorIs(t, err, ErrNotFound, "replaced preview must be revoked")
	data, _, err := s.OpenPreview(second.Derived.Preview)
	require.NoError(t, err)
	assert.Equal(t, "a.png@q80", string(data))

	// original preview is untouched
	_, _, err = s.OpenPreview(arts[0].OriginalPreview)
	assert.NoError(t, err)
}

func TestProcessOneFailureClearsInFlight(t *testing.T) {
	tool := newStub(false)
	tool.fail["bad.png"] = true
	s := New("s1", "", tool)
	arts := addFiles(t, s, "bad.png")
	c := newController()

	_, err := c.ProcessOne(context.Background(), s, arts[0].ID)
	require.Error(t, err)
	a := s.Artifacts()[0]
	assert.False(t, a.Processing)
	assert.False(t, a.Processed)
	assert.Equal(t, "boom", a.Error)

	// retry is possible
	delete(tool.fail, "bad.png")
	a, err = c.ProcessOne(context.Background(), s, arts[0].ID)
	require.NoError(t, err)
	assert.True(t, a.Processed)
	assert.Empty(t, a.Error)
}

func TestProcessOneRejectsSecondInFlight(t *testing.T) {
	tool := newStub(false)
	tool.gate = make(chan struct{})
	s := New("s1", "", tool)
	arts := addFiles(t, s, "a.png")
	c := newController()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ProcessOne(context.Background(), s, arts[0].ID)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return s.Artifacts()[0].Processing }, time.Second, time.Millisecond)

	_, err := c.ProcessOne(context.Background(), s, arts[0].ID)
	assert.ErrorIs(t, err, ErrBusy)

	close(tool.gate)
	require.NoError(t, <-errCh)
}

func TestProcessAllReportsInListOrder(t *testing.T) {
	tool := newStub(false)
	tool.fail["b.png"] = true
	s := New("s1", "", tool)
	addFiles(t, s, "a.png", "b.png", "c.png", "d.png")

	report, err := newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, report.Items, 4)
	for i, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		assert.Equal(t, name, report.Items[i].Name)
	}
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Items[1].OK)
	assert.Equal(t, ViewSettings, report.View, "results need every artifact processed")

	// only the failed one is retried
	delete(tool.fail, "b.png")
	report, err = newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "b.png", report.Items[0].Name)
	assert.Equal(t, ViewResults, report.View)
}

func TestProcessAllConcurrencyLimits(t *testing.T) {
	parallel := newStub(false)
	s := New("s1", "", parallel)
	addFiles(t, s, "1", "2", "3", "4", "5", "6", "7", "8")
	_, err := NewController(3, logger.NewNop()).ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.LessOrEqual(t, parallel.maxSeen.Load(), int32(3))

	sequential := newStub(true)
	s = New("s2", "", sequential)
	addFiles(t, s, "1", "2", "3", "4")
	_, err = NewController(3, logger.NewNop()).ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int32(1), sequential.maxSeen.Load())
}

func TestSettingsSnapshotDropsStaleResults(t *testing.T) {
	tool := newStub(false)
	tool.gate = make(chan struct{})
	s := New("s1", "", tool)
	addFiles(t, s, "a.png", "b.png")

	done := make(chan *Report, 1)
	go func() {
		r, _ := newController().ProcessAll(context.Background(), s)
		done <- r
	}()
	require.Eventually(t, func() bool { return tool.active.Load() == 2 }, time.Second, time.Millisecond)

	settings := s.Settings()
	settings.Quality = 10
	require.NoError(t, s.UpdateSettings(settings))
	close(tool.gate)

	report := <-done
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Failed)
	for _, item := range report.Items {
		assert.Equal(t, ErrStale.Error(), item.Error)
	}
	for _, a := range s.Artifacts() {
		assert.False(t, a.Processed)
		assert.False(t, a.Processing)
	}

	// the next batch uses the new settings
	tool.gate = nil
	_, err := newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	data, _, err := s.OpenPreview(s.Artifacts()[0].Derived.Preview)
	require.NoError(t, err)
	assert.Equal(t, "a.png@q10", string(data))
}

func TestSettingsChangeLeavesResultsView(t *testing.T) {
	s := New("s1", "", newStub(false))
	addFiles(t, s, "a.png")
	_, err := newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ViewResults, s.Snapshot().View)

	require.NoError(t, s.UpdateSettings(s.Settings()))
	snap := s.Snapshot()
	assert.Equal(t, ViewSettings, snap.View)
	assert.Nil(t, snap.Artifacts[0].Derived)
	assert.Equal(t, 1, snap.Previews.Live, "only the original preview stays live")
}

func TestArtifactStateIsKeptPerArtifact(t *testing.T) {
	s := New("s1", "", newStub(false))
	arts := addFiles(t, s, "a.png", "b.png")
	locked := false
	require.NoError(t, s.UpdateArtifactState(arts[1].ID, models.ArtifactState{LockAspect: &locked}))
	require.NoError(t, s.SetActive(arts[0].ID))

	got := s.Artifacts()[1]
	require.NotNil(t, got.State.LockAspect)
	assert.False(t, *got.State.LockAspect)
	assert.ErrorIs(t, s.UpdateArtifactState("nope", models.ArtifactState{}), ErrNotFound)
}

func TestDisposeDropsLateCompletions(t *testing.T) {
	tool := newStub(false)
	tool.gate = make(chan struct{})
	s := New("s1", "", tool)
	arts := addFiles(t, s, "a.png")

	errCh := make(chan error, 1)
	go func() {
		_, err := newController().ProcessOne(context.Background(), s, arts[0].ID)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return tool.active.Load() == 1 }, time.Second, time.Millisecond)

	s.Dispose()
	close(tool.gate)
	assert.ErrorIs(t, <-errCh, ErrDisposed)

	stats := s.Previews().Stats()
	assert.Zero(t, stats.Live)
	assert.Equal(t, stats.Allocated, stats.Revoked)
	assert.ErrorIs(t, s.Add(nil), ErrDisposed)
}

func TestResetRevokesEveryReference(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("reset leaves no live preview", prop.ForAll(
		func(files, rounds int) bool {
			s := New("p", "", newStub(false))
			var refs []preview.Ref
			for i := 0; i < files; i++ {
				ref := s.Previews().Allocate([]byte{byte(i)}, "image/png")
				refs = append(refs, ref)
				if err := s.Add([]*models.Artifact{{ID: fmt.Sprintf("f%d", i), Name: fmt.Sprintf("f%d.png", i), OriginalPreview: ref}}); err != nil {
					return false
				}
			}
			c := NewController(2, logger.NewNop())
			for r := 0; r < rounds; r++ {
				for _, a := range s.Artifacts() {
					out, err := c.ProcessOne(context.Background(), s, a.ID)
					if err != nil {
						return false
					}
					refs = append(refs, out.Derived.Preview)
				}
			}

			s.Reset()
			for _, ref := range refs {
				if _, _, err := s.OpenPreview(ref); err == nil {
					return false
				}
			}
			stats := s.Previews().Stats()
			return stats.Live == 0 && stats.Allocated == stats.Revoked && s.Snapshot().View == ViewEmpty
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 3),
	))
	properties.TestingRun(t)
}

func TestMoveReordersAndValidates(t *testing.T) {
	s := New("s1", "", newStub(false))
	addFiles(t, s, "a", "b", "c")

	require.NoError(t, s.Move(2, 0))
	names := func() []string {
		var out []string
		for _, a := range s.Artifacts() {
			out = append(out, a.Name)
		}
		return out
	}
	assert.Equal(t, []string{"c", "a", "b"}, names())

	require.NoError(t, s.Move(0, 2))
	assert.Equal(t, []string{"a", "b", "c"}, names())

	report, err := newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, ViewResults, report.View)
	require.NoError(t, s.Move(0, 2))
	snap := s.Snapshot()
	assert.Equal(t, ViewSettings, snap.View, "reordering leaves the results view")
	for _, a := range snap.Artifacts {
		assert.True(t, a.Processed, "per-file results survive a reorder")
	}

	// nothing is pending, so processing again only restores the view
	report, err = newController().ProcessAll(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, report.Items)
	assert.Equal(t, ViewResults, report.View)

	assert.ErrorIs(t, s.Move(0, 3), ErrInvalidIndex)
	assert.ErrorIs(t, s.Move(-1, 0), ErrInvalidIndex)
}

func TestProcessOneCompletesResults(t *testing.T) {
	s := New("s1", "", newStub(false))
	arts := addFiles(t, s, "a.png", "b.png")
	c := newController()

	_, err := c.ProcessOne(context.Background(), s, arts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ViewSettings, s.Snapshot().View)

	_, err = c.ProcessOne(context.Background(), s, arts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, ViewResults, s.Snapshot().View, "processing the last pending file completes the run")
}

func TestConcurrentMutationsAreSafe(t *testing.T) {
	s := New("s1", "", newStub(false))
	arts := addFiles(t, s, "a", "b", "c", "d")
	c := newController()

	var wg sync.WaitGroup
	for _, a := range arts {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, _ = c.ProcessOne(context.Background(), s, id)
		}(a.ID)
		go func(id string) {
			defer wg.Done()
			_ = s.SetActive(id)
			_ = s.Snapshot()
		}(a.ID)
	}
	wg.Wait()
	for _, a := range s.Artifacts() {
		assert.False(t, a.Processing)
	}
}
