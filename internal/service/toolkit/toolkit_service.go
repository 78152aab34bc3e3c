package toolkit

import (
	"context"

	"github.com/feichai0017/media-toolkit/internal/handoff"
	"github.com/feichai0017/media-toolkit/internal/intake"
	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/preview"
	"github.com/feichai0017/media-toolkit/internal/session"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/internal/utils/validator"
	"github.com/feichai0017/media-toolkit/pkg/queue"
)

// Toolkit is everything the HTTP layer and the worker ask of the service.
type Toolkit interface {
	Tools() []tools.Spec

	CreateSession(ctx context.Context, tool, owner string) (*session.Snapshot, error)
	GetSession(ctx context.Context, id string) (*session.Snapshot, error)
	DeleteSession(ctx context.Context, id string) error

	AddFiles(ctx context.Context, id string, files []validator.File) (*AddFilesResult, error)
	RemoveFile(ctx context.Context, id, artifactID string) (*session.Snapshot, error)
	UpdateFileState(ctx context.Context, id, artifactID string, state models.ArtifactState) (*session.Snapshot, error)
	ProcessFile(ctx context.Context, id, artifactID string) (*models.Artifact, error)
	SetActive(ctx context.Context, id, artifactID string) (*session.Snapshot, error)
	UpdateSettings(ctx context.Context, id string, settings tools.Settings) (*session.Snapshot, error)
	MoveFile(ctx context.Context, id string, from, to int) (*session.Snapshot, error)
	Process(ctx context.Context, id string) (*session.Report, error)
	Reset(ctx context.Context, id string) (*session.Snapshot, error)
	OpenPreview(ctx context.Context, id string, ref preview.Ref) ([]byte, string, error)

	Download(ctx context.Context, id string) (*DownloadInfo, error)
	LoadHandoff(ctx context.Context, scope, tool, user string) (*handoff.Handoff, error)

	OffloadMerge(ctx context.Context, id string) (*models.ProcessingTask, error)
	HandleMerge(ctx context.Context, task *queue.Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error)
	CancelTask(ctx context.Context, taskID string) error

	CleanupExports(ctx context.Context) (int, error)
}

// AddFilesResult is the intake outcome plus the session state after it.
type AddFilesResult struct {
	Accepted []*models.Artifact `json:"accepted"`
	Rejected []intake.Rejection `json:"rejected"`
	Skipped  int                `json:"skipped"`
	Session  *session.Snapshot  `json:"session"`
}

// DownloadInfo tells the client where the packaged result waits.
type DownloadInfo struct {
	URL      string `json:"downloadUrl"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Archive  bool   `json:"archive"`
	Entries  int    `json:"entries"`
}
