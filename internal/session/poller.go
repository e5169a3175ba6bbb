package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"facefeed/internal/detection"
	"facefeed/internal/platform/metrics"
	"facefeed/internal/reconcile"
)

// tickerFunc returns a tick channel and its stop function.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// pollTarget binds a poller to one session.
type pollTarget struct {
	reconciler *reconcile.Reconciler
	active     func() bool
	onSuccess  func(ctx context.Context, snap reconcile.Snapshot)
	onFailure  func(err error)
}

// poller runs one fetch per tick and applies each result before the next
// fetch starts, so merges land in tick order.
type poller struct {
	fetcher   Fetcher
	interval  time.Duration
	timeout   time.Duration
	newTicker tickerFunc
	log       *slog.Logger
	metrics   *metrics.Metrics

	// failLog throttles repeated fetch failure warnings.
	failLog rate.Sometimes
}

func newPoller(f Fetcher, interval, timeout time.Duration, tf tickerFunc, log *slog.Logger, m *metrics.Metrics) *poller {
	return &poller{
		fetcher:   f,
		interval:  interval,
		timeout:   timeout,
		newTicker: tf,
		log:       log,
		metrics:   m,
		failLog:   rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// run fetches once immediately, then on every tick, until ctx is cancelled.
func (p *poller) run(ctx context.Context, t pollTarget) {
	ticks, stop := p.newTicker(p.interval)
	defer stop()

	p.tick(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			p.tick(ctx, t)
		}
	}
}

func (p *poller) tick(ctx context.Context, t pollTarget) {
	if ctx.Err() != nil || !t.active() {
		return
	}
	p.metrics.IncPollTicks()

	gen := t.reconciler.Generation()
	raws, err := p.fetch(ctx)

	if ctx.Err() != nil {
		p.metrics.IncStaleResults()
		p.log.Debug("discarding result of cancelled fetch", slog.Uint64("generation", gen))
		return
	}
	if err != nil {
		p.metrics.IncFetchFailures()
		p.failLog.Do(func() {
			p.log.Warn("detection fetch failed", slog.String("error", err.Error()))
		})
		t.onFailure(err)
		return
	}

	snap, err := t.reconciler.Apply(gen, raws)
	switch {
	case errors.Is(err, reconcile.ErrStaleResult):
		p.metrics.IncStaleResults()
		p.log.Debug("discarding stale detection batch", slog.Uint64("generation", gen))
		return
	case err != nil:
		p.metrics.IncBatchesRejected()
		p.log.Warn("detection batch rejected",
			slog.Int("records", len(raws)),
			slog.String("error", err.Error()))
		t.onFailure(err)
		return
	}

	p.metrics.IncMerges()
	t.onSuccess(ctx, snap)
}

// fetch bounds one call to the fetcher by the configured timeout.
func (p *poller) fetch(ctx context.Context) ([]detection.Raw, error) {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raws, err := p.fetcher.FetchDetections(fctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return raws, nil
}
