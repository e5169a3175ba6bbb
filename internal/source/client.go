package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"facefeed/internal/detection"
	"facefeed/internal/session"
)

var (
	// ErrStreamEnded is reported by a capture handle whose stream closed
	// without being released.
	ErrStreamEnded = errors.New("capture stream ended")

	// ErrInvalidPayload is returned when /detection_data is not a JSON list.
	ErrInvalidPayload = errors.New("invalid detection payload")
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Code)
}

// Client talks to the recognition backend over HTTP. It implements the
// fetch, capture, stop notification and clear contracts of a session.
type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for stream lifecycle messages.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a Client for the backend at baseURL. A scheme-less address
// is read as http.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("backend url is empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		// No client timeout: the capture stream stays open until released.
		// Per-call deadlines come from the request context.
		http: &http.Client{},
		log:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(slog.String("component", "source"))
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// FetchDetections returns the detections currently reported by the backend.
// The payload is a JSON list, or an object carrying the list under
// "detections".
func (c *Client) FetchDetections(ctx context.Context) ([]detection.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/detection_data", nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: "fetch detections", Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detections: %w", err)
	}
	return decodeDetections(body)
}

func decodeDetections(body []byte) ([]detection.Raw, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []detection.Raw{}, nil
	}

	if body[0] == '{' {
		var wrapped struct {
			Detections json.RawMessage `json:"detections"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if len(wrapped.Detections) == 0 {
			return nil, fmt.Errorf("%w: object without detections", ErrInvalidPayload)
		}
		body = wrapped.Detections
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out []detection.Raw
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if out == nil {
		out = []detection.Raw{}
	}
	return out, nil
}

// NotifyStop tells the backend the capture has ended.
func (c *Client) NotifyStop(ctx context.Context) error {
	return c.post(ctx, "notify stop", "/stop")
}

// ClearDetections asks the backend to drop its detection history.
func (c *Client) ClearDetections(ctx context.Context) error {
	return c.post(ctx, "clear detections", "/clear_detections")
}

func (c *Client) post(ctx context.Context, op, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	return nil
}

// Acquire opens the MJPEG stream for sourceID. ctx bounds only the
// connection; the stream stays open until the handle is released or the
// backend closes it.
func (c *Client) Acquire(ctx context.Context, sourceID int) (session.CaptureHandle, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(ctx, cancel)

	q := url.Values{}
	q.Set("camera", strconv.Itoa(sourceID))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint("/video_feed", q), nil)
	if err != nil {
		stopAfter()
		cancel()
		return nil, err
	}

	resp, err := c.http.Do(req)
	if !stopAfter() {
		// ctx ended while connecting.
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("open capture stream: %w", context.Cause(ctx))
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{Op: "open capture stream", Code: resp.StatusCode}
	}

	s := newStream(sourceID, resp.Body, cancel, c.log)
	c.log.Info("capture stream opened",
		slog.Int("source_id", sourceID),
		slog.String("content_type", resp.Header.Get("Content-Type")))
	return s, nil
}
