package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNormalization is matched by every NormalizationError.
var ErrNormalization = errors.New("malformed detection record")

// NormalizationError describes a raw record that cannot be turned into an Event.
type NormalizationError struct {
	Index int    // position in the batch, -1 for a single record
	Field string // canonical field name
	Key   string // raw key the value came from
	Value any
	Err   error
}

func (e *NormalizationError) Error() string {
	where := e.Field
	if e.Key != "" && e.Key != e.Field {
		where = fmt.Sprintf("%s (%s)", e.Field, e.Key)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("detection %d: %s: %v", e.Index, where, e.Err)
	}
	return fmt.Sprintf("detection: %s: %v", where, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

func (e *NormalizationError) Is(target error) bool { return target == ErrNormalization }

// timeLayouts are tried in order for string timestamps without a numeric form.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalizer converts raw records into Events. It is safe for concurrent use
// as long as the injected clock and id source are.
type Normalizer struct {
	fields FieldMapping
	now    func() time.Time
	newID  func(time.Time) string
	loc    *time.Location
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock replaces the wall clock used for missing timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithIDSource replaces the synthesized id generator.
func WithIDSource(fn func(time.Time) string) Option {
	return func(n *Normalizer) { n.newID = fn }
}

// WithLocation sets the zone of timestamps that carry no offset. The
// default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// NewNormalizer returns a Normalizer for the given mapping.
func NewNormalizer(fields FieldMapping, opts ...Option) *Normalizer {
	n := &Normalizer{
		fields: fields,
		now:    time.Now,
		newID:  SynthesizeID,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SynthesizeID builds an id from the observation time and a random suffix.
func SynthesizeID(at time.Time) string {
	return "det-" + strconv.FormatInt(at.UnixNano(), 36) + "-" + uuid.NewString()
}

// Normalize converts one raw record. Missing optional fields are defaulted;
// present fields of the wrong shape yield a *NormalizationError.
func (n *Normalizer) Normalize(raw Raw) (Event, error) {
	return n.normalize(raw, -1)
}

// NormalizeBatch converts all records or none: the first malformed record
// fails the whole batch.
func (n *Normalizer) NormalizeBatch(raws []Raw) ([]Event, error) {
	out := make([]Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := n.normalize(raw, i)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (n *Normalizer) normalize(raw Raw, index int) (Event, error) {
	if raw == nil {
		return Event{}, &NormalizationError{Index: index, Field: "record", Err: errors.New("record is null")}
	}
	fail := func(field, key string, value any, err error) (Event, error) {
		return Event{}, &NormalizationError{Index: index, Field: field, Key: key, Value: value, Err: err}
	}

	now := n.now().UTC()
	ev := Event{Identity: UnknownIdentity, ObservedAt: now}

	if key, v, ok := lookup(raw, n.fields.ObservedAt); ok {
		t, err := parseTime(v, n.loc)
		if err != nil {
			return fail("observed_at", key, v, err)
		}
		ev.ObservedAt = t
	}

	if key, v, ok := lookup(raw, n.fields.ID); ok {
		id, err := parseID(v)
		if err != nil {
			return fail("id", key, v, err)
		}
		ev.ID = id
	}
	if ev.ID == "" {
		ev.ID = n.newID(now)
	}

	if key, v, ok := lookup(raw, n.fields.Identity); ok {
		s, isString := v.(string)
		if !isString {
			return fail("identity", key, v, fmt.Errorf("expected string, got %T", v))
		}
		ev.Identity = canonicalIdentity(s)
	}

	if key, v, ok := lookup(raw, n.fields.Status); ok {
		known, err := parseStatus(v)
		if err != nil {
			return fail("status", key, v, err)
		}
		if !known {
			ev.Identity = UnknownIdentity
		}
	}

	if key, v, ok := lookup(raw, n.fields.SourceID); ok {
		id, err := parseInt(v)
		if err != nil {
			return fail("source_id", key, v, err)
		}
		ev.SourceID = id
	}

	if key, v, ok := lookup(raw, n.fields.Thumbnail); ok {
		s, isString := v.(string)
		if !isString {
			return fail("thumbnail", key, v, fmt.Errorf("expected string, got %T", v))
		}
		ev.Thumbnail = s
	}

	if key, v, ok := lookup(raw, n.fields.Confidence); ok {
		c, err := parseConfidence(v)
		if err != nil {
			return fail("confidence", key, v, err)
		}
		ev.Confidence = &c
	}

	if key, v, ok := lookup(raw, n.fields.FirstSeen); ok {
		t, err := parseTime(v, n.loc)
		if err != nil {
			return fail("first_seen", key, v, err)
		}
		ev.FirstSeen = &t
	}

	return ev, nil
}

func canonicalIdentity(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, UnknownIdentity) {
		return UnknownIdentity
	}
	return s
}

// parseStatus returns false only for an explicit "unknown" signal.
func parseStatus(v any) (bool, error) {
	switch s := v.(type) {
	case bool:
		return s, nil
	case string:
		return !strings.EqualFold(strings.TrimSpace(s), "unknown"), nil
	default:
		return false, fmt.Errorf("expected string or bool, got %T", v)
	}
}

func parseID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id), nil
	case json.Number:
		return id.String(), nil
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatInt(int64(id), 10), nil
		}
		return strconv.FormatFloat(id, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", fmt.Errorf("expected string or number, got %T", v)
	}
}

func parseFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case json.Number:
		return f.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func parseInt(v any) (int, error) {
	switch n := v.(type) {
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	case json.Number:
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, nil
		}
	}
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	// -MinInt is the first float past MaxInt.
	if f < float64(math.MinInt) || f >= -float64(math.MinInt) {
		return 0, fmt.Errorf("integer %v out of range", f)
	}
	return int(f), nil
}

func parseConfidence(v any) (float64, error) {
	c, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(c) || c < 0 || c > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", c)
	}
	return c, nil
}

// parseTime accepts epoch seconds (or milliseconds above 1e12) and the
// string layouts in timeLayouts. Zone-less strings are read in loc.
func parseTime(v any, loc *time.Location) (time.Time, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.UTC(), nil
			}
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
		}
	}
	f, err := parseFloat(v)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("invalid epoch %v", f)
	}
	if f > 1e12 {
		f /= 1000
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
