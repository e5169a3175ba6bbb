package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"facefeed/internal/aggregate"
	"facefeed/internal/detection"
	"facefeed/internal/platform/metrics"
	"facefeed/internal/reconcile"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultFetchTimeout   = 4 * time.Second
	DefaultNotifyTimeout  = 3 * time.Second
	DefaultAcquireTimeout = 10 * time.Second
)

// Config holds the tunables of a Controller. Zero values select defaults.
type Config struct {
	// SourceID is the capture target. Nil means no target is configured.
	SourceID       *int
	PollInterval   time.Duration
	FetchTimeout   time.Duration
	NotifyTimeout  time.Duration
	// AcquireTimeout bounds opening the capture. Stop cancels it early.
	AcquireTimeout time.Duration
	Capacity       int
}

// Deps are the collaborators of a Controller. Fetcher and Normalizer are
// required; Capture may be nil, in which case Start reports ErrSessionUnavailable.
type Deps struct {
	Fetcher    Fetcher
	Capture    CaptureProvider
	Notifier   RemoteNotifier
	Clearer    Clearer
	Normalizer *detection.Normalizer
	Observers  []Observer
	// OnError is called when a running session ends on its own.
	OnError func(error)
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// runningSession is everything owned by one On period.
type runningSession struct {
	id         uint64
	sourceID   int
	reconciler *reconcile.Reconciler
	capture    CaptureHandle
	cancel     context.CancelFunc
	pollerDone chan struct{}
	watchDone  chan struct{}
}

// Controller owns the session lifecycle: capture, polling and the
// reconciled state of the current session.
type Controller struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *metrics.Metrics

	newTicker tickerFunc
	now       func() time.Time

	// opMu serializes lifecycle transitions.
	opMu sync.Mutex

	mu             sync.RWMutex
	state          State
	sourceID       *int
	sess           *runningSession
	sessions       uint64
	lastFetchErr   error
	lastSessionErr error
	lastUpdate     *time.Time
	// cancelStart aborts a capture acquisition in progress.
	cancelStart context.CancelFunc
}

// NewController returns a Controller in the Off state.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = aggregate.DefaultCapacity
	}
	if deps.Normalizer == nil {
		deps.Normalizer = detection.NewNormalizer(detection.DefaultFieldMapping())
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		log:       log.With(slog.String("component", "session")),
		metrics:   deps.Metrics,
		newTicker: realTicker,
		now:       time.Now,
	}
	if cfg.SourceID != nil {
		id := *cfg.SourceID
		c.sourceID = &id
	}
	c.metrics.SetSessionState(int(Off))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Start acquires the capture and starts polling. It is a no-op when the
// session is already on.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	prev, err := c.startLocked(ctx)
	c.opMu.Unlock()
	waitWatcher(prev)
	return err
}

// Stop ends the session. It always succeeds; the remote stop notification
// is best-effort. A start still acquiring the capture is aborted.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelStart != nil {
		c.cancelStart()
	}
	c.mu.Unlock()

	c.opMu.Lock()
	sess := c.stopLocked(ctx)
	c.opMu.Unlock()
	waitWatcher(sess)
	return nil
}

// Reset discards the reconciled detections of the live session and asks the
// backend to clear its history. Fetches in flight are discarded.
func (c *Controller) Reset(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	sess := c.sess
	c.lastFetchErr = nil
	c.mu.Unlock()

	if sess != nil {
		sess.reconciler.Reset()
		c.metrics.SetDetections(0, 0)
	}
	if c.deps.Clearer != nil {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
		defer cancel()
		if err := c.deps.Clearer.ClearDetections(cctx); err != nil {
			c.log.Warn("backend clear failed", slog.String("error", err.Error()))
		}
	}
	c.log.Info("detections reset")
	return nil
}

// SelectSource switches the capture target. A running session is restarted
// against the new source.
func (c *Controller) SelectSource(ctx context.Context, sourceID int) error {
	c.opMu.Lock()
	c.mu.Lock()
	c.sourceID = &sourceID
	running := c.state == On
	c.mu.Unlock()

	var (
		prev *runningSession
		err  error
	)
	if running {
		prev = c.stopLocked(ctx)
		_, err = c.startLocked(ctx)
	}
	c.opMu.Unlock()
	waitWatcher(prev)

	c.log.Info("capture source selected", slog.Int("source_id", sourceID))
	return err
}

// Status reports the state, the current detections and their summary.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		State:      c.state,
		Session:    c.sessions,
		FetchErr:   c.lastFetchErr,
		SessionErr: c.lastSessionErr,
	}
	if c.sourceID != nil {
		id := *c.sourceID
		st.SourceID = &id
	}
	if c.lastUpdate != nil {
		at := *c.lastUpdate
		st.LastUpdate = &at
	}
	sess := c.sess
	c.mu.RUnlock()

	if sess != nil {
		st.Detections = sess.reconciler.Snapshot()
	} else {
		st.Detections = reconcile.Snapshot{Known: []detection.Event{}, Unknown: []detection.Event{}}
	}
	st.Summary = aggregate.Summarize(st.Detections, c.cfg.Capacity)
	st.LastFetchError = errString(st.FetchErr)
	st.LastSessionError = errString(st.SessionErr)
	return st
}

// UpdateGauges refreshes the state and detection gauges.
func (c *Controller) UpdateGauges() {
	c.mu.RLock()
	state := c.state
	sess := c.sess
	c.mu.RUnlock()

	c.metrics.SetSessionState(int(state))
	if sess == nil {
		c.metrics.SetDetections(0, 0)
		return
	}
	c.metrics.SetDetections(sess.reconciler.Counts())
}

// startLocked must be called with opMu held. It returns a session that was
// torn down on the way, if any.
func (c *Controller) startLocked(ctx context.Context) (*runningSession, error) {
	c.mu.Lock()
	if c.state == On {
		c.mu.Unlock()
		return nil, nil
	}
	if c.deps.Capture == nil || c.sourceID == nil {
		c.mu.Unlock()
		c.metrics.IncSessionStarts("unavailable")
		return nil, ErrSessionUnavailable
	}
	sourceID := *c.sourceID
	c.setStateLocked(Starting)
	prev := c.sess
	c.sess = nil
	actx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	c.cancelStart = cancel
	c.mu.Unlock()

	// At most one capture handle is held at a time.
	c.teardown(prev)

	handle, err := c.deps.Capture.Acquire(actx, sourceID)
	c.mu.Lock()
	c.cancelStart = nil
	c.mu.Unlock()
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: source %d: %w", ErrSessionStartFailed, sourceID, err)
		c.mu.Lock()
		c.setStateLocked(StoppingOnError)
		c.lastSessionErr = err
		c.setStateLocked(Off)
		c.mu.Unlock()
		c.metrics.IncSessionStarts("failed")
		c.log.Error("session start failed", slog.Int("source_id", sourceID), slog.String("error", err.Error()))
		return prev, err
	}

	pctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sessions++
	sess := &runningSession{
		id:         c.sessions,
		sourceID:   sourceID,
		reconciler: reconcile.New(c.deps.Normalizer),
		capture:    handle,
		cancel:     cancel,
		pollerDone: make(chan struct{}),
		watchDone:  make(chan struct{}),
	}
	c.sess = sess
	c.lastFetchErr = nil
	c.lastSessionErr = nil
	c.lastUpdate = nil
	c.setStateLocked(On)
	c.mu.Unlock()

	p := newPoller(c.deps.Fetcher, c.cfg.PollInterval, c.cfg.FetchTimeout, c.newTicker, c.log, c.metrics)
	go func() {
		defer close(sess.pollerDone)
		p.run(pctx, c.pollTarget(sess))
	}()
	go c.watch(pctx, sess)

	c.metrics.IncSessionStarts("ok")
	c.metrics.SetDetections(0, 0)
	c.log.Info("session started", slog.Uint64("session", sess.id), slog.Int("source_id", sourceID))
	return prev, nil
}

// stopLocked must be called with opMu held.
func (c *Controller) stopLocked(ctx context.Context) *runningSession {
	c.mu.Lock()
	sess := c.sess
	if sess == nil && c.state == Off {
		c.mu.Unlock()
		return nil
	}
	c.sess = nil
	c.mu.Unlock()

	c.teardown(sess)
	c.notifyStop(ctx)

	c.mu.Lock()
	c.lastFetchErr = nil
	c.lastUpdate = nil
	c.setStateLocked(Off)
	c.mu.Unlock()
	c.metrics.SetDetections(0, 0)

	if sess != nil {
		c.log.Info("session stopped", slog.Uint64("session", sess.id))
	}
	return sess
}

// fail ends sess after its capture ended on its own. It is a no-op when
// sess is no longer the current session.
func (c *Controller) fail(sess *runningSession, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	if cause == nil {
		cause = ErrCaptureEnded
	} else {
		cause = fmt.Errorf("%w: %w", ErrCaptureEnded, cause)
	}
	c.setStateLocked(StoppingOnError)
	c.sess = nil
	c.lastSessionErr = cause
	c.mu.Unlock()

	c.teardown(sess)
	c.notifyStop(context.Background())

	c.mu.Lock()
	c.lastFetchErr = nil
	c.lastUpdate = nil
	c.setStateLocked(Off)
	c.mu.Unlock()
	c.metrics.SetDetections(0, 0)

	c.log.Error("session ended", slog.Uint64("session", sess.id), slog.String("error", cause.Error()))
	if c.deps.OnError != nil {
		c.deps.OnError(cause)
	}
}

// teardown cancels the poller, invalidates the state, joins the poller and
// releases the capture, in that order. A fetch resolving during teardown
// finds its generation stale.
func (c *Controller) teardown(sess *runningSession) {
	if sess == nil {
		return
	}
	sess.cancel()
	sess.reconciler.Invalidate()
	<-sess.pollerDone
	if err := sess.capture.Release(); err != nil {
		c.log.Warn("capture release failed", slog.Uint64("session", sess.id), slog.String("error", err.Error()))
	}
}

func (c *Controller) notifyStop(ctx context.Context) {
	if c.deps.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.deps.Notifier.NotifyStop(nctx); err != nil {
		c.log.Warn("remote stop notification failed", slog.String("error", err.Error()))
	}
}

// watch turns a capture that ends while the session runs into a failure.
func (c *Controller) watch(ctx context.Context, sess *runningSession) {
	defer close(sess.watchDone)
	select {
	case <-ctx.Done():
		return
	case <-sess.capture.Done():
	}
	if ctx.Err() != nil {
		return
	}
	c.fail(sess, sess.capture.Err())
}

func (c *Controller) pollTarget(sess *runningSession) pollTarget {
	return pollTarget{
		reconciler: sess.reconciler,
		active: func() bool {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.state == On && c.sess == sess
		},
		onSuccess: func(ctx context.Context, snap reconcile.Snapshot) {
			at := c.now()
			summary := aggregate.Summarize(snap, c.cfg.Capacity)

			c.mu.Lock()
			c.lastFetchErr = nil
			c.lastUpdate = &at
			c.mu.Unlock()
			c.metrics.SetDetections(summary.KnownCount, summary.UnknownCount)

			u := Update{Session: sess.id, SourceID: sess.sourceID, Snapshot: snap, Summary: summary, At: at}
			for _, o := range c.deps.Observers {
				o.OnUpdate(ctx, u)
			}
		},
		onFailure: func(err error) {
			c.mu.Lock()
			c.lastFetchErr = err
			c.mu.Unlock()
		},
	}
}

// setStateLocked must be called with mu held.
func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.metrics.SetSessionState(int(s))
}

func waitWatcher(sess *runningSession) {
	if sess != nil {
		<-sess.watchDone
	}
}
