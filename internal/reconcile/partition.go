package reconcile

import "facefeed/internal/detection"

// partition is an insertion-ordered set of events keyed by id.
// index maps an event id to its position in events.
type partition struct {
	events []detection.Event
	index  map[string]int
}

func newPartition() *partition {
	return &partition{index: make(map[string]int)}
}

func (p *partition) get(id string) (detection.Event, bool) {
	i, ok := p.index[id]
	if !ok {
		return detection.Event{}, false
	}
	return p.events[i], true
}

// upsert refines an existing event in place or appends a new one.
func (p *partition) upsert(ev detection.Event) {
	if i, ok := p.index[ev.ID]; ok {
		p.events[i] = p.events[i].Refine(ev)
		return
	}
	p.index[ev.ID] = len(p.events)
	p.events = append(p.events, ev)
}

// remove deletes id and shifts the positions of later events.
func (p *partition) remove(id string) (detection.Event, bool) {
	i, ok := p.index[id]
	if !ok {
		return detection.Event{}, false
	}
	ev := p.events[i]
	p.events = append(p.events[:i], p.events[i+1:]...)
	delete(p.index, id)
	for j := i; j < len(p.events); j++ {
		p.index[p.events[j].ID] = j
	}
	return ev, true
}

func (p *partition) len() int {
	return len(p.events)
}

// list returns a copy of the events in insertion order.
func (p *partition) list() []detection.Event {
	out := make([]detection.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *partition) clone() *partition {
	c := &partition{
		events: p.list(),
		index:  make(map[string]int, len(p.index)),
	}
	for id, i := range p.index {
		c.index[id] = i
	}
	return c
}
