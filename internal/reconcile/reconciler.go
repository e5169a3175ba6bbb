package reconcile

import (
	"errors"
	"sync"

	"facefeed/internal/detection"
)

// ErrStaleResult is returned when a batch belongs to an invalidated generation.
var ErrStaleResult = errors.New("stale result discarded")

// Reconciler is the concurrency-safe owner of one session's State.
// Every read and merge goes through mu; a generation token tags fetches so
// that results issued before Reset or Invalidate are dropped on arrival.
type Reconciler struct {
	mu         sync.RWMutex
	state      *State
	normalizer *detection.Normalizer
	generation uint64
	closed     bool
}

// New returns an empty Reconciler using n to normalize raw batches.
func New(n *detection.Normalizer) *Reconciler {
	return &Reconciler{state: NewState(), normalizer: n}
}

// Generation returns the token a fetch must present to Apply.
func (r *Reconciler) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Apply normalizes raws and merges them if gen is still current.
// A malformed record rejects the batch and leaves the state unchanged.
func (r *Reconciler) Apply(gen uint64, raws []detection.Raw) (Snapshot, error) {
	events, err := r.normalizer.NormalizeBatch(raws)
	if err != nil {
		return r.Snapshot(), err
	}
	return r.MergeEvents(gen, events)
}

// MergeEvents merges already normalized events if gen is still current.
func (r *Reconciler) MergeEvents(gen uint64, events []detection.Event) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || gen != r.generation {
		return r.state.Snapshot(), ErrStaleResult
	}
	if err := r.state.Merge(events); err != nil {
		return r.state.Snapshot(), err
	}
	return r.state.Snapshot(), nil
}

// Snapshot returns a copy of the current partitions.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Snapshot()
}

// Counts returns the partition sizes without copying events.
func (r *Reconciler) Counts() (known, unknown int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Counts()
}

// Reset empties the state and invalidates in-flight fetches.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Reset()
	r.generation++
}

// Invalidate discards the state and rejects every later Apply.
// It is called once the owning session stops.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Reset()
	r.generation++
	r.closed = true
}
