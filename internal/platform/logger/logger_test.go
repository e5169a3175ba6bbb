package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_formats(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "text").Info("hello", slog.String("k", "v"))
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	NewWithWriter(&buf, "info", "json").Info("hello")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])

	buf.Reset()
	NewWithWriter(&buf, "warn", "json").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log, "/metrics"))
	r.Get("/summary", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("abc"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/summary", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "quiet paths log at debug")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/summary", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, 3, entry["size"])
	assert.NotEmpty(t, entry["request_id"])
}
