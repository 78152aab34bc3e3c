package session

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when an artifact or session already has work in flight.
	ErrBusy = errors.New("processing already in progress")
	// ErrNotReady is returned when an export is requested before processing finished.
	ErrNotReady = errors.New("results are not ready")
	ErrDisposed = errors.New("session disposed")
	// ErrStale marks a result computed from settings or state that changed
	// while the task ran. The result is dropped.
	ErrStale        = errors.New("result is stale")
	ErrInvalidIndex = errors.New("index out of range")
)
