package detection

import "time"

// UnknownIdentity is the identity label of a person the backend could not match.
const UnknownIdentity = "Unknown"

// Raw is one detection record as decoded from the backend payload.
// Its keys are resolved through a FieldMapping.
type Raw map[string]any

// Event is one observation of a person at a point in time.
type Event struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	ObservedAt time.Time `json:"observed_at"`
	SourceID   int       `json:"source_id"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`

	// FirstSeen is set when the backend reports when the person first appeared.
	FirstSeen *time.Time `json:"first_seen,omitempty"`
}

// IsKnown reports whether the event carries a matched identity.
func (e Event) IsKnown() bool {
	return e.Identity != UnknownIdentity
}

// Refine returns e updated with the fields of next. Optional fields that next
// leaves unset keep the values already held by e.
func (e Event) Refine(next Event) Event {
	out := next
	if out.Thumbnail == "" {
		out.Thumbnail = e.Thumbnail
	}
	if out.Confidence == nil {
		out.Confidence = e.Confidence
	}
	if out.FirstSeen == nil {
		out.FirstSeen = e.FirstSeen
	}
	return out
}
