package reconcile

import (
	"errors"

	"facefeed/internal/detection"
)

// Snapshot is a read-only copy of the reconciled partitions.
type Snapshot struct {
	Known   []detection.Event `json:"known"`
	Unknown []detection.Event `json:"unknown"`
}

// Has reports whether id is present in either partition.
func (s Snapshot) Has(id string) bool {
	for _, ev := range s.Known {
		if ev.ID == id {
			return true
		}
	}
	for _, ev := range s.Unknown {
		if ev.ID == id {
			return true
		}
	}
	return false
}

// State holds the known and unknown partitions. It is not safe for
// concurrent use; Reconciler adds the locking.
type State struct {
	known   *partition
	unknown *partition
}

// NewState returns an empty state.
func NewState() *State {
	return &State{known: newPartition(), unknown: newPartition()}
}

// Merge returns a new state with batch applied to s. s is left untouched.
func Merge(s *State, batch []detection.Event) (*State, error) {
	next := s.Clone()
	if err := next.Merge(batch); err != nil {
		return s, err
	}
	return next, nil
}

// Merge applies batch in order. Events routed by identity are refined in
// place when their id is already in the target partition and appended
// otherwise. An id that changes partition moves to the end of its new one.
// A batch containing an invalid event is rejected as a whole.
func (s *State) Merge(batch []detection.Event) error {
	if err := validate(batch); err != nil {
		return err
	}
	for _, ev := range collapse(batch) {
		target, other := s.known, s.unknown
		if !ev.IsKnown() {
			target, other = s.unknown, s.known
		}
		if prev, moved := other.remove(ev.ID); moved {
			ev = prev.Refine(ev)
		}
		target.upsert(ev)
	}
	return nil
}

// Reset empties both partitions.
func (s *State) Reset() {
	s.known = newPartition()
	s.unknown = newPartition()
}

// Clone returns a deep copy of the partitions.
func (s *State) Clone() *State {
	return &State{known: s.known.clone(), unknown: s.unknown.clone()}
}

// Snapshot copies the partitions out.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Known: s.known.list(), Unknown: s.unknown.list()}
}

// Counts returns the partition sizes.
func (s *State) Counts() (known, unknown int) {
	return s.known.len(), s.unknown.len()
}

// Get looks an id up in both partitions.
func (s *State) Get(id string) (detection.Event, bool) {
	if ev, ok := s.known.get(id); ok {
		return ev, true
	}
	return s.unknown.get(id)
}

func validate(batch []detection.Event) error {
	for i, ev := range batch {
		if ev.ID == "" {
			return &detection.NormalizationError{Index: i, Field: "id", Err: errors.New("empty id")}
		}
		if ev.Identity == "" {
			return &detection.NormalizationError{Index: i, Field: "identity", Err: errors.New("empty identity")}
		}
	}
	return nil
}

// collapse folds repeated ids of one batch into a single event holding the
// refined fields, placed where the id first occurred.
func collapse(batch []detection.Event) []detection.Event {
	out := make([]detection.Event, 0, len(batch))
	pos := make(map[string]int, len(batch))
	for _, ev := range batch {
		if i, seen := pos[ev.ID]; seen {
			out[i] = out[i].Refine(ev)
			continue
		}
		pos[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}
