package session

import (
	"fmt"
	"time"

	"facefeed/internal/aggregate"
	"facefeed/internal/reconcile"
)

// State is the lifecycle state of a session.
type State int

const (
	Off State = iota
	Starting
	On
	StoppingOnError
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Starting:
		return "starting"
	case On:
		return "on"
	case StoppingOnError:
		return "stopping_on_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is what the presentation layer renders. The summary is computed
// from the snapshot at the time Status is called.
type Status struct {
	State            State              `json:"state"`
	Session          uint64             `json:"session"`
	SourceID         *int               `json:"source_id,omitempty"`
	Detections       reconcile.Snapshot `json:"detections"`
	Summary          aggregate.Summary  `json:"summary"`
	LastFetchError   string             `json:"last_fetch_error,omitempty"`
	LastSessionError string             `json:"last_session_error,omitempty"`
	LastUpdate       *time.Time         `json:"last_update,omitempty"`

	FetchErr   error `json:"-"`
	SessionErr error `json:"-"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
