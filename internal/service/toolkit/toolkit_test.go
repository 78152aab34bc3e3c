package toolkit

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/media-toolkit/internal/handoff"
	"github.com/feichai0017/media-toolkit/internal/intake"
	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/pdfops/pdftest"
	"github.com/feichai0017/media-toolkit/internal/session"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/internal/transform"
	"github.com/feichai0017/media-toolkit/internal/utils/validator"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
	"github.com/feichai0017/media-toolkit/pkg/storage/memory"
)

type fixture struct {
	svc   *ToolkitService
	queue *queue.MemoryQueue
	store *memory.MemoryStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger()
	factory := tools.NewFactory(tools.FactoryConfig{}, transform.NewHTMLRenderer(), log)
	manager := session.NewManager(factory, time.Hour, log)
	t.Cleanup(manager.Close)

	cfg := validator.DefaultConfig()
	in := intake.NewIntake(validator.NewFileValidator(log, &cfg), pdfops.PageBoxRasterizer{}, 2, log)
	layer := handoff.NewLayer(handoff.NewMemoryStore(), "/api/v1/download", log)
	q := queue.NewMemoryQueue(time.Minute, log)
	t.Cleanup(func() { q.Close() })
	store := memory.NewStorage(log)

	svc := NewService(manager, session.NewController(2, log), in, layer, q, store, log, &ServiceConfig{
		MaxFiles:        4,
		QueuePriority:   2,
		RetentionPeriod: time.Hour,
		ReturnBase:      "/tools",
	})
	q.Handle(queue.TaskTypePDFMerge, svc.HandleMerge)
	return &fixture{svc: svc, queue: q, store: store}
}

func pngFile(t *testing.T, name string, w, h int) validator.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.NRGBA{G: 180, A: 255})))
	return validator.File{Name: name, Size: int64(buf.Len()), Data: buf.Bytes()}
}

func pdfFile(name string, pages int) validator.File {
	specs := make([]pdftest.Page, pages)
	for i := range specs {
		specs[i] = pdftest.Page{Width: 300, Height: 200, Label: name}
	}
	data := pdftest.Build(name, specs...)
	return validator.File{Name: name, Size: int64(len(data)), Data: data}
}

func TestResizeDownloadFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.svc.CreateSession(ctx, "resize", "")
	require.NoError(t, err)
	assert.Equal(t, session.ViewEmpty, snap.View)

	added, err := f.svc.AddFiles(ctx, snap.ID, []validator.File{
		pngFile(t, "photo.png", 1000, 800),
		{Name: "notes.txt", Size: 5, Data: []byte("hello")},
	})
	require.NoError(t, err)
	require.Len(t, added.Accepted, 1)
	assert.Equal(t, 1, added.Skipped)
	assert.Equal(t, "notes.txt", added.Rejected[0].Name)
	assert.Equal(t, session.ViewSettings, added.Session.View)

	settings := added.Session.Settings
	settings.Resize = transform.ResizeParams{Mode: transform.ResizePixels, Width: 500, LockAspect: true, LastEdited: transform.EdgeWidth}
	_, err = f.svc.UpdateSettings(ctx, snap.ID, settings)
	require.NoError(t, err)

	report, err := f.svc.Process(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, session.ViewResults, report.View)

	info, err := f.svc.Download(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "photo_resized.png", info.Filename)
	assert.False(t, info.Archive)
	assert.Equal(t, "/api/v1/download/"+snap.ID+"/resize", info.URL)

	h, err := f.svc.LoadHandoff(ctx, snap.ID, "resize", "")
	require.NoError(t, err)
	assert.Equal(t, "/tools/resize", h.ReturnTo)
	data, err := h.Decode()
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 400, cfg.Height)

	assert.Equal(t, []string{"exports/" + snap.ID + "/photo_resized.png"}, f.store.Keys("exports/"))
}

func TestDownloadDropsStaleHandoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.svc.CreateSession(ctx, "resize", "")
	require.NoError(t, err)
	added, err := f.svc.AddFiles(ctx, snap.ID, []validator.File{pngFile(t, "photo.png", 100, 80)})
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, snap.ID)
	require.NoError(t, err)
	_, err = f.svc.Download(ctx, snap.ID)
	require.NoError(t, err)
	_, err = f.svc.LoadHandoff(ctx, snap.ID, "resize", "")
	require.NoError(t, err)

	// new settings discard the processed output
	settings := added.Session.Settings
	settings.Resize = transform.ResizeParams{Mode: transform.ResizePercentage, Percentage: 50}
	_, err = f.svc.UpdateSettings(ctx, snap.ID, settings)
	require.NoError(t, err)

	_, err = f.svc.Download(ctx, snap.ID)
	assert.ErrorIs(t, err, session.ErrNotReady)
	_, err = f.svc.LoadHandoff(ctx, snap.ID, "resize", "")
	assert.ErrorIs(t, err, handoff.ErrNotFound)
}

func TestAddFilesLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.svc.CreateSession(ctx, "compress", "")
	require.NoError(t, err)

	_, err = f.svc.AddFiles(ctx, snap.ID, nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	files := make([]validator.File, 5)
	for i := range files {
		files[i] = pngFile(t, "a.png", 4, 4)
	}
	_, err = f.svc.AddFiles(ctx, snap.ID, files)
	assert.ErrorIs(t, err, ErrTooManyFiles)

	_, err = f.svc.AddFiles(ctx, "missing", files[:1])
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestOffloadMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.svc.CreateSession(ctx, "pdf-merge", "")
	require.NoError(t, err)
	_, err = f.svc.AddFiles(ctx, snap.ID, []validator.File{pdfFile("a.pdf", 2), pdfFile("b.pdf", 3)})
	require.NoError(t, err)

	task, err := f.svc.OffloadMerge(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "2", task.Metadata["files"])
	f.queue.Wait()

	status, err := f.svc.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, status.Status, status.Error)
	assert.Equal(t, "/api/v1/download/"+snap.ID+"/pdf-merge", status.Result)

	h, err := f.svc.LoadHandoff(ctx, snap.ID, "pdf-merge", "")
	require.NoError(t, err)
	assert.Equal(t, "merged.pdf", h.Filename)
	data, err := h.Decode()
	require.NoError(t, err)
	pages, err := pdfops.PageCount(data)
	require.NoError(t, err)
	assert.Equal(t, 5, pages)

	assert.Empty(t, f.store.Keys("inputs/"))
	assert.Equal(t, []string{"exports/" + snap.ID + "/merged.pdf"}, f.store.Keys("exports/"))
}

func TestOffloadMergeRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resize, err := f.svc.CreateSession(ctx, "resize", "")
	require.NoError(t, err)
	_, err = f.svc.OffloadMerge(ctx, resize.ID)
	assert.ErrorIs(t, err, ErrUnsupported)

	merge, err := f.svc.CreateSession(ctx, "pdf-merge", "")
	require.NoError(t, err)
	_, err = f.svc.AddFiles(ctx, merge.ID, []validator.File{pdfFile("only.pdf", 1)})
	require.NoError(t, err)
	_, err = f.svc.OffloadMerge(ctx, merge.ID)
	assert.ErrorIs(t, err, session.ErrNotReady)

	_, err = f.svc.ProcessFile(ctx, merge.ID, "anything")
	assert.ErrorIs(t, err, ErrUnsupported)

	f.svc.queue = nil
	_, err = f.svc.OffloadMerge(ctx, merge.ID)
	assert.ErrorIs(t, err, ErrOffloadUnavailable)
}

func TestHandleMergeRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := queue.NewTask("t-missing", queue.TaskTypePDFMerge, queue.MergePayload{
		SessionID: "s",
		Scope:     "s",
		Tool:      "pdf-merge",
		Inputs:    []queue.MergeInput{{Key: "inputs/t/000-a.pdf"}, {Key: "inputs/t/001-b.pdf"}},
	}, nil)
	require.NoError(t, err)
	assert.Error(t, f.svc.HandleMerge(ctx, task))

	status, err := f.svc.GetTaskStatus(ctx, "t-missing")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.NotEmpty(t, status.Error)
}

func TestCleanupExports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Store(ctx, bytes.NewReader([]byte("zip")), "exports/s/a.zip", "application/zip")
	require.NoError(t, err)
	_, err = f.store.Store(ctx, bytes.NewReader([]byte("pdf")), "inputs/t/000-a.pdf", "application/pdf")
	require.NoError(t, err)
	_, err = f.store.Store(ctx, bytes.NewReader([]byte("keep")), "other/x", "text/plain")
	require.NoError(t, err)

	n, err := f.svc.CleanupExports(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = f.svc.CleanupExports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"other/x"}, f.store.Keys(""))
}

func TestSessionMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.svc.CreateSession(ctx, "compress", "")
	require.NoError(t, err)
	added, err := f.svc.AddFiles(ctx, snap.ID, []validator.File{pngFile(t, "a.png", 6, 6), pngFile(t, "b.png", 6, 6)})
	require.NoError(t, err)
	a, b := added.Accepted[0], added.Accepted[1]

	moved, err := f.svc.MoveFile(ctx, snap.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.Artifacts[0].ID)

	active, err := f.svc.SetActive(ctx, snap.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ActiveID)

	data, mime, err := f.svc.OpenPreview(ctx, snap.ID, a.OriginalPreview)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.NotEmpty(t, data)

	removed, err := f.svc.RemoveFile(ctx, snap.ID, a.ID)
	require.NoError(t, err)
	assert.Len(t, removed.Artifacts, 1)
	_, _, err = f.svc.OpenPreview(ctx, snap.ID, a.OriginalPreview)
	assert.ErrorIs(t, err, session.ErrNotFound)

	reset, err := f.svc.Reset(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ViewEmpty, reset.View)

	require.NoError(t, f.svc.DeleteSession(ctx, snap.ID))
	_, err = f.svc.GetSession(ctx, snap.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
