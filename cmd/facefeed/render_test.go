package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"

	"facefeed/internal/aggregate"
	"facefeed/internal/detection"
	"facefeed/internal/reconcile"
	"facefeed/internal/session"
)

func TestRenderUpdate_plain(t *testing.T) {
	conf := 0.87
	snap := reconcile.Snapshot{
		Known: []detection.Event{
			{ID: "a1", Identity: "Alice", SourceID: 0, Confidence: &conf, ObservedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		},
		Unknown: []detection.Event{
			{ID: "u7", Identity: detection.UnknownIdentity, SourceID: 1},
		},
	}
	u := session.Update{Session: 4, SourceID: 0, Snapshot: snap, Summary: aggregate.Summarize(snap, 100), At: time.Now()}

	out := renderUpdate(u, false)

	assert.Contains(t, out, "session 4")
	assert.Contains(t, out, "known 1  unknown 1  total 2  capacity 2% (low)")
	assert.Contains(t, out, "Known (1)")
	assert.Contains(t, out, "Unknown (1)")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "87%")
	assert.Contains(t, out, "u7")
	assert.False(t, strings.Contains(out, "\x1b["), "plain output has no escape codes")
}

func TestRenderUpdate_colorized_occupancy(t *testing.T) {
	text.EnableColors()
	u := session.Update{Summary: aggregate.FromCounts(90, 0, 100), At: time.Now()}

	out := renderUpdate(u, true)

	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "high")
}

func TestShouldColorize_non_file(t *testing.T) {
	assert.False(t, shouldColorize(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	assert.False(t, shouldColorize(f))
}
