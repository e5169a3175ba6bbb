package session

import (
	"context"
	"errors"
	"time"

	"facefeed/internal/aggregate"
	"facefeed/internal/detection"
	"facefeed/internal/reconcile"
)

var (
	// ErrSessionUnavailable is returned by Start when no capture target is configured.
	ErrSessionUnavailable = errors.New("session unavailable: no capture target configured")

	// ErrSessionStartFailed is returned by Start when the capture source rejects acquisition.
	ErrSessionStartFailed = errors.New("session start failed")

	// ErrFetchFailed marks a transient polling failure; the loop keeps running.
	ErrFetchFailed = errors.New("detection fetch failed")

	// ErrCaptureEnded is reported when the capture ends while the session is on.
	ErrCaptureEnded = errors.New("capture ended")
)

// Fetcher returns the detections reported since the previous call.
// Results may repeat detections already returned.
type Fetcher interface {
	FetchDetections(ctx context.Context) ([]detection.Raw, error)
}

// CaptureHandle is a live capture resource. Done is closed when the capture
// ends on its own or after Release; Err then reports why. Release is
// idempotent.
type CaptureHandle interface {
	Done() <-chan struct{}
	Err() error
	Release() error
}

// CaptureProvider acquires the capture resource for a source.
type CaptureProvider interface {
	Acquire(ctx context.Context, sourceID int) (CaptureHandle, error)
}

// RemoteNotifier tells the backend that capture has ended. Best-effort.
type RemoteNotifier interface {
	NotifyStop(ctx context.Context) error
}

// Clearer asks the backend to drop its detection history.
type Clearer interface {
	ClearDetections(ctx context.Context) error
}

// Update is delivered to observers after every successful merge.
type Update struct {
	Session  uint64
	SourceID int
	Snapshot reconcile.Snapshot
	Summary  aggregate.Summary
	At       time.Time
}

// Observer receives updates on the polling goroutine. Implementations must
// return promptly and must not call Stop or Start.
type Observer interface {
	OnUpdate(ctx context.Context, u Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, u Update)

// OnUpdate implements Observer.
func (f ObserverFunc) OnUpdate(ctx context.Context, u Update) { f(ctx, u) }
