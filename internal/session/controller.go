package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/media-toolkit/internal/models"
	"github.com/feichai0017/media-toolkit/internal/packaging"
	"github.com/feichai0017/media-toolkit/internal/tools"
	"github.com/feichai0017/media-toolkit/pkg/logger"
)

// Controller runs tools over session artifacts. It holds no session state.
type Controller struct {
	maxConcurrent int
	logger        logger.Logger
}

func NewController(maxConcurrent int, log logger.Logger) *Controller {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Controller{
		maxConcurrent: maxConcurrent,
		logger:        log.Named("session"),
	}
}

// ItemResult reports the outcome for one artifact of a batch.
type ItemResult struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report lists batch outcomes in session list order, not completion order.
type Report struct {
	View      ViewMode     `json:"view"`
	Items     []ItemResult `json:"items"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
}

func (r *Report) add(a *models.Artifact, err error) {
	item := ItemResult{ID: a.ID, Name: a.Name, OK: err == nil}
	if err != nil {
		item.Error = err.Error()
		r.Failed++
	} else {
		r.Processed++
	}
	r.Items = append(r.Items, item)
}

// ticket is what a task needs to run without holding the session lock.
type ticket struct {
	artifact    *models.Artifact
	settings    tools.Settings
	settingsGen uint64
	rev         uint64
}

func (s *Session) beginLocked(a *models.Artifact, settings tools.Settings) ticket {
	a.Processing = true
	return ticket{
		artifact:    a.Clone(),
		settings:    settings,
		settingsGen: s.settingsGen,
		rev:         s.revs[a.ID],
	}
}

func (s *Session) begin(id string) (ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ticket{}, ErrDisposed
	}
	s.touch()
	if s.tool.Spec().Combine {
		return ticket{}, fmt.Errorf("%w: %s", tools.ErrCombineOnly, s.tool.Spec().Name)
	}
	a := s.find(id)
	if a == nil {
		return ticket{}, fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	if a.Processing {
		return ticket{}, fmt.Errorf("%w: %s", ErrBusy, a.Name)
	}
	return s.beginLocked(a, s.settings.Clone()), nil
}

// beginBatch snapshots the settings once and marks every pending artifact in flight.
func (s *Session) beginBatch() ([]ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}
	s.touch()
	if len(s.artifacts) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrNotReady)
	}

	settings := s.settings.Clone()
	var tickets []ticket
	for _, a := range s.artifacts {
		if a.Processed || a.Processing {
			continue
		}
		tickets = append(tickets, s.beginLocked(a, settings))
	}
	return tickets, nil
}

// finish commits a task result. Results for a disposed session, a removed
// artifact or changed inputs are dropped.
func (s *Session) finish(t ticket, out *tools.Output, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	a := s.find(t.artifact.ID)
	if a == nil {
		return fmt.Errorf("%w: artifact %s was removed", ErrNotFound, t.artifact.ID)
	}
	a.Processing = false

	if t.settingsGen != s.settingsGen || t.rev != s.revs[a.ID] {
		return ErrStale
	}
	if runErr != nil {
		a.Error = runErr.Error()
		return runErr
	}

	s.dropDerived(a)
	a.Derived = &models.Derived{
		Data:     out.Data,
		MimeType: out.MimeType,
		Filename: packaging.OutputName(a.Name, s.tool.Spec().Suffix, out.Ext),
		Preview:  s.previews.Allocate(out.Data, out.MimeType),
		Size:     int64(len(out.Data)),
		Width:    out.Width,
		Height:   out.Height,
	}
	a.Processed = true
	s.packaged = nil
	return nil
}

func (s *Session) completeBatch() ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.disposed && s.allProcessed() {
		s.view = ViewResults
	}
	return s.view
}

func (c *Controller) run(ctx context.Context, tool tools.Tool, t ticket) (out *tools.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Spec().Name, rec)
		}
	}()
	return tool.Process(ctx, t.artifact, t.settings)
}

// ProcessOne runs the session tool over one artifact and replaces its result.
// The in-flight flag is cleared on success and on failure.
func (c *Controller) ProcessOne(ctx context.Context, s *Session, id string) (*models.Artifact, error) {
	log := logger.FromContext(logger.WithSessionID(ctx, s.ID), c.logger)

	t, err := s.begin(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, runErr := c.run(ctx, s.tool, t)
	if err := s.finish(t, out, runErr); err != nil {
		log.Warn("Artifact processing failed",
			logger.String("artifact_id", id),
			logger.String("filename", t.artifact.Name),
			logger.Error(err),
		)
		return nil, err
	}

	view := s.completeBatch()
	log.Info("Artifact processed",
		logger.String("artifact_id", id),
		logger.String("view", string(view)),
		logger.Duration("duration", time.Since(start)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.find(id); a != nil {
		return a.Clone(), nil
	}
	return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, id)
}

// ProcessAll processes every pending artifact with one settings snapshot.
// Failures stay per artifact; the batch waits for every task to settle.
func (c *Controller) ProcessAll(ctx context.Context, s *Session) (*Report, error) {
	spec := s.tool.Spec()
	if spec.Combine {
		return c.combineReport(ctx, s)
	}
	log := logger.FromContext(logger.WithSessionID(ctx, s.ID), c.logger)

	tickets, err := s.beginBatch()
	if err != nil {
		return nil, err
	}

	limit := c.maxConcurrent
	if spec.Sequential {
		limit = 1
	}

	errs := make([]error, len(tickets))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, t := range tickets {
		i, t := i, t
		g.Go(func() error {
			out, runErr := c.run(ctx, s.tool, t)
			errs[i] = s.finish(t, out, runErr)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{View: s.completeBatch()}
	for i, t := range tickets {
		report.add(t.artifact, errs[i])
		if errs[i] != nil {
			log.Warn("Artifact processing failed",
				logger.String("artifact_id", t.artifact.ID),
				logger.String("filename", t.artifact.Name),
				logger.Error(errs[i]),
			)
		}
	}

	log.Info("Batch processed",
		logger.String("tool", string(spec.Name)),
		logger.Int("processed", report.Processed),
		logger.Int("failed", report.Failed),
		logger.Int("concurrency", limit),
	)
	return report, nil
}

type combineTicket struct {
	artifacts   []*models.Artifact
	settings    tools.Settings
	settingsGen uint64
	layoutGen   uint64
}

func (s *Session) beginCombine() (combineTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return combineTicket{}, ErrDisposed
	}
	s.touch()
	if s.combining {
		return combineTicket{}, ErrBusy
	}
	if len(s.artifacts) < 2 {
		return combineTicket{}, fmt.Errorf("%w: need at least two files, have %d", ErrNotReady, len(s.artifacts))
	}

	s.combining = true
	for _, a := range s.artifacts {
		a.Processing = true
	}
	return combineTicket{
		artifacts:   s.cloneArtifacts(),
		settings:    s.settings.Clone(),
		settingsGen: s.settingsGen,
		layoutGen:   s.layoutGen,
	}, nil
}

func (s *Session) finishCombine(t combineTicket, out *tools.Output, runErr error) (*models.Derived, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combining = false
	if s.disposed {
		return nil, ErrDisposed
	}
	for _, a := range s.artifacts {
		a.Processing = false
	}
	if t.settingsGen != s.settingsGen || t.layoutGen != s.layoutGen {
		return nil, ErrStale
	}
	if runErr != nil {
		return nil, runErr
	}

	if s.combined != nil {
		s.previews.Revoke(s.combined.Preview)
	}
	name := t.settings.OutputName
	if name == "" {
		name = "merged"
	}
	s.combined = &models.Derived{
		Data:     out.Data,
		MimeType: out.MimeType,
		Filename: packaging.OutputName(name, "", out.Ext),
		Preview:  s.previews.Allocate(out.Data, out.MimeType),
		Size:     int64(len(out.Data)),
	}
	for _, a := range s.artifacts {
		a.Processed = true
		a.Error = ""
	}
	s.packaged = nil
	s.view = ViewResults
	d := *s.combined
	return &d, nil
}

// Combine runs a combine tool over every artifact in list order.
func (c *Controller) Combine(ctx context.Context, s *Session) (*models.Derived, error) {
	combiner, ok := s.tool.(tools.Combiner)
	if !ok {
		return nil, fmt.Errorf("tool %s does not combine files", s.tool.Spec().Name)
	}
	log := logger.FromContext(logger.WithSessionID(ctx, s.ID), c.logger)

	t, err := s.beginCombine()
	if err != nil {
		return nil, err
	}
	out, runErr := combiner.CombineAll(ctx, t.artifacts, t.settings)
	derived, err := s.finishCombine(t, out, runErr)
	if err != nil {
		log.Warn("Combine failed", logger.Error(err))
		return nil, err
	}

	log.Info("Files combined",
		logger.Int("files", len(t.artifacts)),
		logger.Int64("size", derived.Size),
	)
	return derived, nil
}

func (c *Controller) combineReport(ctx context.Context, s *Session) (*Report, error) {
	arts := s.Artifacts()
	_, err := c.Combine(ctx, s)
	if err != nil && (errors.Is(err, ErrNotReady) || errors.Is(err, ErrBusy) || errors.Is(err, ErrDisposed)) {
		return nil, err
	}
	report := &Report{View: s.Snapshot().View}
	for _, a := range arts {
		report.add(a, err)
	}
	return report, nil
}

// Export packages every result in list order: one file directly, several
// as an archive. It fails as a whole when any artifact is unprocessed.
func (c *Controller) Export(s *Session) (*packaging.Result, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	s.touch()
	spec := s.tool.Spec()
	settingsGen, layoutGen := s.settingsGen, s.layoutGen

	var entries []packaging.Entry
	if spec.Combine {
		if s.combined == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: files have not been combined", ErrNotReady)
		}
		entries = append(entries, packaging.Entry{Name: s.combined.Filename, MimeType: s.combined.MimeType, Data: s.combined.Data})
	} else {
		for _, a := range s.artifacts {
			if !a.Processed || a.Derived == nil {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s is not processed", ErrNotReady, a.Name)
			}
			entries = append(entries, packaging.Entry{Name: a.Derived.Filename, MimeType: a.Derived.MimeType, Data: a.Derived.Data})
		}
	}
	s.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrNotReady)
	}
	res, err := packaging.Package(entries, string(spec.Name)+"-results.zip")
	if err != nil {
		c.logger.Error("Packaging failed",
			logger.String("session_id", s.ID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to package results: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrDisposed
	}
	if settingsGen != s.settingsGen || layoutGen != s.layoutGen {
		return nil, ErrStale
	}
	s.packaged = res
	return res, nil
}
