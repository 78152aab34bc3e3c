package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/media-toolkit/internal/handoff"
	"github.com/feichai0017/media-toolkit/internal/intake"
	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/packaging"
	"github.com/feichai0017/media-toolkit/internal/pdfops"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/session"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/internal/utils/validator"
	"github.com/feichai0017/media-toolkit/pkg/logger"
	"github.com/feichai0017/media-toolkit/pkg/queue"
	"github.com/feichai0017/media-toolkit/pkg/storage"
)

var (
	ErrUnsupported        = errors.New("operation not supported by this tool")
	ErrNoFiles            = errors.New("no files")
	ErrTooManyFiles       = errors.New("too many files")
	ErrOffloadUnavailable = errors.New("background processing is not configured")
)

var _ Toolkit = (*ToolkitService)(nil)

type ToolkitService struct {
	sessions   *session.Manager
	controller *session.Controller
	intake     *intake.Intake
	handoffs   *handoff.Layer
	queue      queue.Queue
	storage    storage.Storage
	logger     logger.Logger
	config     *ServiceConfig
	now        func() time.Time
}

type ServiceConfig struct {
	MaxFiles        int
	QueuePriority   int
	RetentionPeriod time.Duration
	// ReturnBase prefixes the tool path the download view links back to.
	ReturnBase string
}

func defaultConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxFiles:        50,
		QueuePriority:   2,
		RetentionPeriod: 24 * time.Hour,
		ReturnBase:      "/tools",
	}
}

// NewService wires the session layer to the handoff, queue and storage
// backends. q and store may be nil on nodes that never offload or archive.
func NewService(
	sessions *session.Manager,
	controller *session.Controller,
	in *intake.Intake,
	handoffs *handoff.Layer,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) *ToolkitService {
	if cfg == nil {
		cfg = defaultConfig()
	}
	return &ToolkitService{
		sessions:   sessions,
		controller: controller,
		intake:     in,
		handoffs:   handoffs,
		queue:      q,
		storage:    store,
		logger:     log.Named("toolkit"),
		config:     cfg,
		now:        time.Now,
	}
}

func (s *ToolkitService) Tools() []tools.Spec {
	return s.sessions.Specs()
}

func (s *ToolkitService) CreateSession(_ context.Context, tool, owner string) (*session.Snapshot, error) {
	sess, err := s.sessions.Create(tool, owner)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	return &snap, nil
}

func (s *ToolkitService) GetSession(_ context.Context, id string) (*session.Snapshot, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	return &snap, nil
}

func (s *ToolkitService) DeleteSession(_ context.Context, id string) error {
	return s.sessions.Delete(id)
}

// mutate runs fn on the session and returns the state after it.
func (s *ToolkitService) mutate(id string, fn func(*session.Session) error) (*session.Snapshot, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	return &snap, nil
}

// AddFiles validates files against the tool's accept list and appends the
// accepted ones. Rejected files are reported, never fatal.
func (s *ToolkitService) AddFiles(ctx context.Context, id string, files []validator.File) (*AddFilesResult, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: request carried none", ErrNoFiles)
	}
	current := len(sess.Artifacts())
	if s.config.MaxFiles > 0 && current+len(files) > s.config.MaxFiles {
		return nil, fmt.Errorf("%w: session holds %d, limit is %d", ErrTooManyFiles, current, s.config.MaxFiles)
	}

	res, err := s.intake.Ingest(ctx, files, sess.Tool().Spec().Accept, sess.Previews())
	if err != nil {
		return nil, fmt.Errorf("failed to ingest files: %w", err)
	}
	if err := sess.Add(res.Accepted); err != nil {
		return nil, err
	}

	snap := sess.Snapshot()
	accepted := make([]*models.Artifact, len(res.Accepted))
	for i, a := range res.Accepted {
		accepted[i] = a.Clone()
	}
	return &AddFilesResult{
		Accepted: accepted,
		Rejected: res.Rejected,
		Skipped:  res.Skipped(),
		Session:  &snap,
	}, nil
}

func (s *ToolkitService) RemoveFile(_ context.Context, id, artifactID string) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error { return sess.Remove(artifactID) })
}

func (s *ToolkitService) UpdateFileState(_ context.Context, id, artifactID string, state models.ArtifactState) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error { return sess.UpdateArtifactState(artifactID, state) })
}

func (s *ToolkitService) ProcessFile(ctx context.Context, id, artifactID string) (*models.Artifact, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Tool().Spec().Combine {
		return nil, fmt.Errorf("%w: %s only processes the whole list", ErrUnsupported, sess.Tool().Spec().Name)
	}
	return s.controller.ProcessOne(ctx, sess, artifactID)
}

func (s *ToolkitService) SetActive(_ context.Context, id, artifactID string) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error { return sess.SetActive(artifactID) })
}

func (s *ToolkitService) UpdateSettings(_ context.Context, id string, settings tools.Settings) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error { return sess.UpdateSettings(settings) })
}

func (s *ToolkitService) MoveFile(_ context.Context, id string, from, to int) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error { return sess.Move(from, to) })
}

func (s *ToolkitService) Process(ctx context.Context, id string) (*session.Report, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.controller.ProcessAll(ctx, sess)
}

func (s *ToolkitService) Reset(_ context.Context, id string) (*session.Snapshot, error) {
	return s.mutate(id, func(sess *session.Session) error {
		revoked := sess.Reset()
		s.logger.Debug("Session reset",
			logger.String("session_id", id),
			logger.Int("revoked", revoked),
		)
		return nil
	})
}

func (s *ToolkitService) OpenPreview(_ context.Context, id string, ref preview.Ref) ([]byte, string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, "", err
	}
	return sess.OpenPreview(ref)
}

func scopeOf(sess *session.Session) string {
	if sess.Owner != "" {
		return sess.Owner
	}
	return sess.ID
}

func (s *ToolkitService) returnTo(tool string) string {
	return s.config.ReturnBase + "/" + tool
}

// Download packages the session results, stashes them for the download view
// and returns where that view lives. Any earlier handoff for the same scope is
// dropped first so a failed export never leaves stale output behind.
// Archiving to object storage is best effort.
func (s *ToolkitService) Download(ctx context.Context, id string) (*DownloadInfo, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	scope := scopeOf(sess)
	tool := string(sess.Tool().Spec().Name)
	if err := s.handoffs.Clear(ctx, scope, tool); err != nil {
		return nil, fmt.Errorf("failed to clear previous download: %w", err)
	}

	res, err := s.controller.Export(sess)
	if err != nil {
		return nil, err
	}
	ho := handoff.FromResult(res, s.returnTo(tool))
	ho.Owner = sess.Owner
	if err := s.handoffs.Stash(ctx, scope, tool, ho); err != nil {
		return nil, fmt.Errorf("failed to stash download: %w", err)
	}
	s.archive(ctx, sess.ID, res)

	s.logger.Info("Download prepared",
		logger.String("session_id", sess.ID),
		logger.String("filename", res.Filename),
		logger.Int64("size", res.Size()),
		logger.Int("entries", res.Entries),
	)
	return &DownloadInfo{
		URL:      s.handoffs.DownloadPath(scope, tool),
		Filename: res.Filename,
		Size:     res.Size(),
		MimeType: res.MimeType,
		Archive:  res.Archive,
		Entries:  res.Entries,
	}, nil
}

func (s *ToolkitService) archive(ctx context.Context, sessionID string, res *packaging.Result) {
	if s.storage == nil {
		return
	}
	key := storage.ExportKey(sessionID, res.Filename)
	if _, err := s.storage.Store(ctx, bytes.NewReader(res.Data), key, res.MimeType); err != nil {
		s.logger.Warn("Failed to archive export",
			logger.String("session_id", sessionID),
			logger.String("key", key),
			logger.Error(err),
		)
	}
}

// LoadHandoff reads the stashed download for scope and tool. Results of a
// signed-in session are only visible to that user.
func (s *ToolkitService) LoadHandoff(ctx context.Context, scope, tool, user string) (*handoff.Handoff, error) {
	ho, err := s.handoffs.Load(ctx, scope, tool)
	if err != nil {
		return nil, err
	}
	if !ho.VisibleTo(user) {
		s.logger.Warn("Download requested by another user",
			logger.String("scope", scope),
			logger.String("tool", tool),
			logger.String("user_id", user),
		)
		return nil, handoff.ErrForbidden
	}
	return ho, nil
}

// OffloadMerge uploads the session documents in list order and queues a
// merge of them. The result reaches the download view when the task finishes.
func (s *ToolkitService) OffloadMerge(ctx context.Context, id string) (*models.ProcessingTask, error) {
	if s.queue == nil || s.storage == nil {
		return nil, ErrOffloadUnavailable
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	spec := sess.Tool().Spec()
	if spec.Name != tools.PDFMerge {
		return nil, fmt.Errorf("%w: %s cannot be offloaded", ErrUnsupported, spec.Name)
	}
	arts := sess.Artifacts()
	if len(arts) < 2 {
		return nil, fmt.Errorf("%w: need at least two files, have %d", session.ErrNotReady, len(arts))
	}

	taskID := uuid.New().String()
	inputs := make([]queue.MergeInput, 0, len(arts))
	for i, a := range arts {
		key := storage.InputKey(taskID, i, a.Name)
		if _, err := s.storage.Store(ctx, bytes.NewReader(a.Data), key, a.MimeType); err != nil {
			s.removeInputs(ctx, inputs)
			return nil, fmt.Errorf("failed to store file: %w", err)
		}
		inputs = append(inputs, queue.MergeInput{Key: key, Name: a.Name})
	}

	payload := queue.MergePayload{
		SessionID:  sess.ID,
		Scope:      scopeOf(sess),
		Tool:       string(spec.Name),
		Inputs:     inputs,
		OutputName: sess.Settings().OutputName,
		ReturnTo:   s.returnTo(string(spec.Name)),
	}
	metadata := map[string]string{
		"sessionId": sess.ID,
		"files":     strconv.Itoa(len(inputs)),
	}
	task, err := queue.NewTask(taskID, queue.TaskTypePDFMerge, payload, metadata)
	if err != nil {
		s.removeInputs(ctx, inputs)
		return nil, err
	}
	task.Priority = s.config.QueuePriority

	// 保存初始状态
	now := s.now()
	if err := s.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
		TaskID:    taskID,
		Type:      task.Type,
		Status:    queue.StatusPending,
		Metadata:  metadata,
		StartedAt: now,
	}); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}

	// 加入处理队列
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		s.removeInputs(ctx, inputs)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("Merge task created",
		logger.String("taskId", taskID),
		logger.String("session_id", sess.ID),
		logger.Int("files", len(inputs)),
	)
	return &models.ProcessingTask{
		ID:        taskID,
		Status:    models.StatusPending,
		Type:      task.Type,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HandleMerge runs an offloaded merge: fetch the inputs, merge them in
// order, archive and stash the result, then record the final status.
func (s *ToolkitService) HandleMerge(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return fmt.Errorf("invalid task: missing required data")
	}
	var p queue.MergePayload
	if err := task.Decode(&p); err != nil {
		return err
	}

	s.logger.Info("Processing merge",
		logger.String("taskId", task.ID),
		logger.String("session_id", p.SessionID),
		logger.Int("files", len(p.Inputs)),
	)
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:    task.ID,
		Type:      task.Type,
		Status:    queue.StatusRunning,
		Progress:  0.1,
		Metadata:  task.Metadata,
		StartedAt: task.CreatedAt,
	})

	downloadURL, err := s.merge(ctx, task, p)
	if err != nil {
		s.saveStatus(ctx, &queue.TaskStatus{
			TaskID:     task.ID,
			Type:       task.Type,
			Status:     queue.StatusFailed,
			Error:      err.Error(),
			Metadata:   task.Metadata,
			StartedAt:  task.CreatedAt,
			FinishedAt: s.now(),
		})
		return err
	}
	if downloadURL == "" {
		return nil
	}

	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     queue.StatusCompleted,
		Progress:   1.0,
		Result:     downloadURL,
		Metadata:   task.Metadata,
		StartedAt:  task.CreatedAt,
		FinishedAt: s.now(),
	})
	s.removeInputs(ctx, p.Inputs)

	s.logger.Info("Merge completed",
		logger.String("taskId", task.ID),
		logger.String("downloadUrl", downloadURL),
	)
	return nil
}

// merge returns the download path, or "" when the task was cancelled meanwhile.
func (s *ToolkitService) merge(ctx context.Context, task *queue.Task, p queue.MergePayload) (string, error) {
	if len(p.Inputs) < 2 {
		return "", fmt.Errorf("merge needs at least two files, got %d", len(p.Inputs))
	}
	srcs := make([][]byte, len(p.Inputs))
	for i, in := range p.Inputs {
		data, err := s.fetch(ctx, in.Key)
		if err != nil {
			return "", err
		}
		srcs[i] = data
	}

	data, err := pdfops.Merge(srcs...)
	if err != nil {
		return "", fmt.Errorf("failed to merge documents: %w", err)
	}

	if s.cancelled(ctx, task.ID) {
		s.logger.Info("Merge dropped, task was cancelled", logger.String("taskId", task.ID))
		s.removeInputs(ctx, p.Inputs)
		return "", nil
	}

	name := p.OutputName
	if name == "" {
		name = "merged"
	}
	res := &packaging.Result{
		Filename: packaging.OutputName(name, "", "pdf"),
		MimeType: "application/pdf",
		Data:     data,
		Entries:  1,
	}
	s.archive(ctx, p.SessionID, res)
	if err := s.handoffs.Stash(ctx, p.Scope, p.Tool, handoff.FromResult(res, p.ReturnTo)); err != nil {
		return "", fmt.Errorf("failed to stash download: %w", err)
	}
	return s.handoffs.DownloadPath(p.Scope, p.Tool), nil
}

func (s *ToolkitService) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", key, err)
	}
	return data, nil
}

func (s *ToolkitService) cancelled(ctx context.Context, taskID string) bool {
	st, err := s.queue.GetTaskStatus(ctx, taskID)
	return err == nil && st.Status == queue.StatusCancelled
}

func (s *ToolkitService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.String("status", status.Status),
			logger.Error(err),
		)
	}
}

func (s *ToolkitService) removeInputs(ctx context.Context, inputs []queue.MergeInput) {
	for _, in := range inputs {
		if err := s.storage.Delete(ctx, in.Key); err != nil {
			s.logger.Warn("Failed to remove task input",
				logger.String("key", in.Key),
				logger.Error(err),
			)
		}
	}
}

// GetTaskStatus 获取处理状态
func (s *ToolkitService) GetTaskStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	if s.queue == nil {
		return nil, ErrOffloadUnavailable
	}
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case queue.StatusRunning, "active":
		taskStatus = models.StatusRunning
	case queue.StatusCompleted:
		taskStatus = models.StatusCompleted
	case queue.StatusFailed:
		taskStatus = models.StatusFailed
	case queue.StatusCancelled:
		taskStatus = models.StatusCancelled
	default:
		taskStatus = models.StatusPending
	}

	metadata := status.Metadata
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &models.ProcessingTask{
		ID:        status.TaskID,
		Status:    taskStatus,
		Type:      status.Type,
		Progress:  status.Progress,
		Error:     status.Error,
		Result:    status.Result,
		Metadata:  metadata,
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}, nil
}

// CancelTask 取消任务
func (s *ToolkitService) CancelTask(ctx context.Context, taskID string) error {
	if s.queue == nil {
		return ErrOffloadUnavailable
	}
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return err
	}
	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupExports drops archived exports and leftover task inputs older than
// the retention period.
func (s *ToolkitService) CleanupExports(ctx context.Context) (int, error) {
	if s.storage == nil {
		return 0, nil
	}
	threshold := s.now().Add(-s.config.RetentionPeriod)

	total := 0
	for _, prefix := range []string{storage.ExportsPrefix, storage.InputsPrefix} {
		n, err := s.storage.CleanupBefore(ctx, prefix, threshold)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to cleanup storage: %w", err)
		}
	}

	s.logger.Info("Completed storage cleanup",
		logger.Time("threshold", threshold),
		logger.Int("deleted", total),
	)
	return total, nil
}

// RunCleanup calls CleanupExports on every tick until ctx is done.
func (s *ToolkitService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExports(ctx); err != nil {
				s.logger.Error("Storage cleanup failed", logger.Error(err))
			}
		}
	}
}
