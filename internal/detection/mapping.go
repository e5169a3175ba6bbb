package detection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMapping lists, per canonical field, the raw keys to look up in order.
// The first key present in a record wins.
type FieldMapping struct {
	ID         []string `yaml:"id"`
	Identity   []string `yaml:"identity"`
	Status     []string `yaml:"status"`
	ObservedAt []string `yaml:"observed_at"`
	FirstSeen  []string `yaml:"first_seen"`
	SourceID   []string `yaml:"source_id"`
	Thumbnail  []string `yaml:"thumbnail"`
	Confidence []string `yaml:"confidence"`
}

// DefaultFieldMapping covers the payload shapes served by the recognition backend.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		ID:         []string{"_id", "id", "face_id"},
		Identity:   []string{"name", "identity"},
		Status:     []string{"status", "is_known"},
		ObservedAt: []string{"last_detected", "timestamp", "time"},
		FirstSeen:  []string{"first_detected"},
		SourceID:   []string{"camera_id", "source_id"},
		Thumbnail:  []string{"face_image", "image", "thumbnail"},
		Confidence: []string{"confidence", "score"},
	}
}

// LoadFieldMapping reads a YAML mapping file. Fields the file leaves out keep
// their default keys.
func LoadFieldMapping(path string) (FieldMapping, error) {
	m := DefaultFieldMapping()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read field mapping: %w", err)
	}
	var override FieldMapping
	if err := yaml.Unmarshal(data, &override); err != nil {
		return m, fmt.Errorf("parse field mapping: %w", err)
	}
	return m.merge(override), nil
}

func (m FieldMapping) merge(o FieldMapping) FieldMapping {
	pick := func(def, override []string) []string {
		if len(override) > 0 {
			return override
		}
		return def
	}
	return FieldMapping{
		ID:         pick(m.ID, o.ID),
		Identity:   pick(m.Identity, o.Identity),
		Status:     pick(m.Status, o.Status),
		ObservedAt: pick(m.ObservedAt, o.ObservedAt),
		FirstSeen:  pick(m.FirstSeen, o.FirstSeen),
		SourceID:   pick(m.SourceID, o.SourceID),
		Thumbnail:  pick(m.Thumbnail, o.Thumbnail),
		Confidence: pick(m.Confidence, o.Confidence),
	}
}

// lookup returns the first key of keys present in raw with a non-nil value.
func lookup(raw Raw, keys []string) (key string, value any, ok bool) {
	for _, k := range keys {
		if v, exists := raw[k]; exists && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}
