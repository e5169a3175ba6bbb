package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"facefeed/internal/detection"
)

// manualTicker hands ticks to the poller on demand.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) fn(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

// tick blocks until the poller takes the tick, which also means the
// previous tick has been fully processed.
func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not take tick")
	}
}

// taken reports whether a poller took a tick within d.
func (m *manualTicker) taken(d time.Duration) bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(d):
		return false
	}
}

type fetchFunc func(ctx context.Context, call int) ([]detection.Raw, error)

type fakeFetcher struct {
	calls atomic.Int32
	fn    fetchFunc
}

func (f *fakeFetcher) FetchDetections(ctx context.Context) ([]detection.Raw, error) {
	n := int(f.calls.Add(1))
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, n)
}

type fakeHandle struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
	released atomic.Bool
	owner    *fakeCapture
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHandle) Release() error {
	if h.released.CompareAndSwap(false, true) {
		h.owner.live.Add(-1)
	}
	h.end(nil)
	return h.owner.releaseErr
}

// end closes the handle as if the stream had stopped on its own.
func (h *fakeHandle) end(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

type fakeCapture struct {
	acquireErr error
	releaseErr error
	// hang makes Acquire block until its ctx ends. entered, when set,
	// receives once Acquire is blocked.
	hang    bool
	entered chan struct{}

	mu      sync.Mutex
	sources []int
	handles []*fakeHandle

	live    atomic.Int32
	maxLive atomic.Int32
}

func (c *fakeCapture) Acquire(ctx context.Context, sourceID int) (CaptureHandle, error) {
	if c.hang {
		c.mu.Lock()
		c.sources = append(c.sources, sourceID)
		c.mu.Unlock()
		if c.entered != nil {
			c.entered <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, sourceID)
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	h := &fakeHandle{done: make(chan struct{}), owner: c}
	c.handles = append(c.handles, h)
	n := c.live.Add(1)
	for {
		cur := c.maxLive.Load()
		if n <= cur || c.maxLive.CompareAndSwap(cur, n) {
			break
		}
	}
	return h, nil
}

func (c *fakeCapture) acquired() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.sources...)
}

func (c *fakeCapture) handle(i int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[i]
}

type fakeNotifier struct {
	calls atomic.Int32
	err   error
}

func (n *fakeNotifier) NotifyStop(context.Context) error {
	n.calls.Add(1)
	return n.err
}

type fakeClearer struct {
	calls atomic.Int32
	err   error
}

func (c *fakeClearer) ClearDetections(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) OnUpdate(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *updateRecorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

var errBackendDown = errors.New("backend down")

func intPtr(v int) *int { return &v }
