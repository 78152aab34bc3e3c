package handoff

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/feichai0017/media-toolkit/internal/packaging"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

const (
	fieldPayload  = "payload"
	fieldFilename = "filename"
	fieldSize     = "size"
	fieldMimeType = "mimeType"
	fieldReturnTo = "returnTo"
	fieldOwner    = "owner"
)

// Handoff is what the download view reads back.
type Handoff struct {
	// Payload is a data URI.
	Payload  string `json:"payload"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	ReturnTo string `json:"returnTo,omitempty"`
	// Owner is the signed-in user the result belongs to, empty for
	// anonymous sessions.
	Owner string `json:"-"`
}

// VisibleTo reports whether user may read the handoff.
func (h *Handoff) VisibleTo(user string) bool {
	return h.Owner == "" || h.Owner == user
}

// Decode returns the payload bytes.
func (h *Handoff) Decode() ([]byte, error) {
	_, data, err := packaging.ParseDataURI(h.Payload)
	return data, err
}

// FromResult builds a handoff for a packaged result.
func FromResult(res *packaging.Result, returnTo string) Handoff {
	return Handoff{
		Payload:  res.DataURI(),
		Filename: res.Filename,
		Size:     res.Size(),
		MimeType: res.MimeType,
		ReturnTo: returnTo,
	}
}

// Layer writes and reads handoffs under one key per scope and tool.
type Layer struct {
	store    Store
	basePath string
	logger   logger.Logger
}

// NewLayer builds a layer whose download paths start with basePath,
// for example "/api/v1/download".
func NewLayer(store Store, basePath string, log logger.Logger) *Layer {
	return &Layer{
		store:    store,
		basePath: strings.TrimSuffix(basePath, "/"),
		logger:   log.Named("handoff"),
	}
}

// Key is the store key for a scope and tool.
func Key(scope, tool string) string {
	return "handoff:" + scope + ":" + tool
}

// Stash replaces whatever was stored for scope and tool with h. Stale fields
// from an earlier run never survive a stash.
func (l *Layer) Stash(ctx context.Context, scope, tool string, h Handoff) error {
	if scope == "" || tool == "" {
		return fmt.Errorf("handoff scope and tool are required")
	}
	if h.Payload == "" || h.Filename == "" {
		return fmt.Errorf("handoff payload and filename are required")
	}
	fields := map[string]string{
		fieldPayload:  h.Payload,
		fieldFilename: h.Filename,
		fieldSize:     strconv.FormatInt(h.Size, 10),
		fieldMimeType: h.MimeType,
	}
	if h.ReturnTo != "" {
		fields[fieldReturnTo] = h.ReturnTo
	}
	if h.Owner != "" {
		fields[fieldOwner] = h.Owner
	}
	if err := l.store.Replace(ctx, Key(scope, tool), fields); err != nil {
		l.logger.Error("Failed to stash handoff",
			logger.String("scope", scope),
			logger.String("tool", tool),
			logger.Error(err),
		)
		return err
	}
	l.logger.Debug("Stashed handoff",
		logger.String("scope", scope),
		logger.String("tool", tool),
		logger.String("filename", h.Filename),
		logger.Int64("size", h.Size),
	)
	return nil
}

// Load reads the handoff for scope and tool.
func (l *Layer) Load(ctx context.Context, scope, tool string) (*Handoff, error) {
	fields, err := l.store.Load(ctx, Key(scope, tool))
	if err != nil {
		return nil, err
	}
	if fields[fieldPayload] == "" {
		return nil, ErrNotFound
	}
	size, _ := strconv.ParseInt(fields[fieldSize], 10, 64)
	return &Handoff{
		Payload:  fields[fieldPayload],
		Filename: fields[fieldFilename],
		Size:     size,
		MimeType: fields[fieldMimeType],
		ReturnTo: fields[fieldReturnTo],
		Owner:    fields[fieldOwner],
	}, nil
}

// Clear drops the handoff for scope and tool.
func (l *Layer) Clear(ctx context.Context, scope, tool string) error {
	return l.store.Clear(ctx, Key(scope, tool))
}

// DownloadPath is where the download view for scope and tool lives.
func (l *Layer) DownloadPath(scope, tool string) string {
	return l.basePath + "/" + url.PathEscape(scope) + "/" + url.PathEscape(tool)
}
