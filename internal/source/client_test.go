package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facefeed/internal/detection"
)

const backend = "http://recognizer.test:5000"

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := New(backend+"/", WithHTTPClient(&http.Client{Transport: mt}))
	require.NoError(t, err)
	return c, mt
}

// streamResponder serves a body the test controls through the returned writer.
func streamResponder(t *testing.T) (httpmock.Responder, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"multipart/x-mixed-replace; boundary=frame"}},
			Body:       pr,
			Request:    req,
		}, nil
	}, pw
}

func TestNew_rejects_empty_url(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestNew_adds_scheme(t *testing.T) {
	c, err := New("localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/stop", c.endpoint("/stop", nil))
}

func TestClient_FetchDetections(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodGet, backend+"/detection_data",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"_id": "64f0c1", "name": "Alice", "timestamp": "2026-03-01 10:00:00", "camera_id": 0, "confidence": 0.93, "status": "known"},
			{"_id": 17, "name": "Unknown", "status": "unknown"}
		]`))

	raws, err := c.FetchDetections(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "Alice", raws[0]["name"])
	assert.Equal(t, json.Number("17"), raws[1]["_id"])

	events, err := detection.NewNormalizer(detection.DefaultFieldMapping()).NormalizeBatch(raws)
	require.NoError(t, err)
	assert.Equal(t, "17", events[1].ID)
	assert.False(t, events[1].IsKnown())
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestClient_FetchDetections_wrapped_and_empty(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrapped", `{"detections": [{"_id": "a"}]}`, 1},
		{"empty list", `[]`, 0},
		{"empty body", ``, 0},
		{"null", `null`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mt := newMockClient(t)
			mt.RegisterResponder(http.MethodGet, backend+"/detection_data",
				httpmock.NewStringResponder(http.StatusOK, tt.body))

			raws, err := c.FetchDetections(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, raws)
			assert.Len(t, raws, tt.want)
		})
	}
}

func TestClient_FetchDetections_invalid_payload(t *testing.T) {
	for _, body := range []string{`{"status": "ok"}`, `"nope"`, `[1, 2`} {
		c, mt := newMockClient(t)
		mt.RegisterResponder(http.MethodGet, backend+"/detection_data",
			httpmock.NewStringResponder(http.StatusOK, body))

		_, err := c.FetchDetections(context.Background())
		assert.ErrorIs(t, err, ErrInvalidPayload, body)
	}
}

func TestClient_FetchDetections_status_error(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodGet, backend+"/detection_data",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	_, err := c.FetchDetections(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestClient_FetchDetections_transport_error(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodGet, backend+"/detection_data",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.FetchDetections(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestClient_NotifyStop_and_ClearDetections(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodPost, backend+"/stop", httpmock.NewStringResponder(http.StatusOK, `{"message":"stopped"}`))
	mt.RegisterResponder(http.MethodPost, backend+"/clear_detections", httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	require.NoError(t, c.NotifyStop(context.Background()))

	err := c.ClearDetections(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "clear detections", se.Op)

	info := mt.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+backend+"/stop"])
	assert.Equal(t, 1, info["POST "+backend+"/clear_detections"])
}

func TestClient_Acquire_and_Release(t *testing.T) {
	c, mt := newMockClient(t)
	responder, pw := streamResponder(t)
	mt.RegisterResponderWithQuery(http.MethodGet, backend+"/video_feed", "camera=2", responder)

	h, err := c.Acquire(context.Background(), 2)
	require.NoError(t, err)

	_, err = pw.Write([]byte("--frame\r\n"))
	require.NoError(t, err)
	select {
	case <-h.Done():
		t.Fatal("stream ended early")
	default:
	}

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	<-h.Done()
	assert.NoError(t, h.Err())
	assert.Equal(t, int64(len("--frame\r\n")), h.(*Stream).Bytes())
}

func TestClient_Acquire_stream_end_is_reported(t *testing.T) {
	c, mt := newMockClient(t)
	responder, pw := streamResponder(t)
	mt.RegisterResponderWithQuery(http.MethodGet, backend+"/video_feed", "camera=0", responder)

	h, err := c.Acquire(context.Background(), 0)
	require.NoError(t, err)

	require.NoError(t, pw.Close())

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream end not observed")
	}
	assert.ErrorIs(t, h.Err(), ErrStreamEnded)
	assert.NoError(t, h.Release())
}

func TestClient_Acquire_rejected(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponderWithQuery(http.MethodGet, backend+"/video_feed", "camera=9",
		httpmock.NewStringResponder(http.StatusNotFound, "no such camera"))

	_, err := c.Acquire(context.Background(), 9)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestClient_Acquire_cancelled_context(t *testing.T) {
	c, mt := newMockClient(t)
	responder, _ := streamResponder(t)
	mt.RegisterResponderWithQuery(http.MethodGet, backend+"/video_feed", "camera=1", responder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
