package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stream is an open capture stream. The body is drained in the background
// so the backend keeps producing frames; Done closes when the stream ends.
type Stream struct {
	sourceID int
	body     io.ReadCloser
	cancel   context.CancelFunc
	log      *slog.Logger

	done     chan struct{}
	released atomic.Bool
	once     sync.Once

	mu    sync.Mutex
	err   error
	bytes int64
}

func newStream(sourceID int, body io.ReadCloser, cancel context.CancelFunc, log *slog.Logger) *Stream {
	s := &Stream{
		sourceID: sourceID,
		body:     body,
		cancel:   cancel,
		log:      log,
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *Stream) drain() {
	defer close(s.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.bytes += int64(n)
			s.mu.Unlock()
		}
		if err == nil {
			continue
		}
		if s.released.Load() {
			return
		}
		s.mu.Lock()
		if errors.Is(err, io.EOF) {
			s.err = ErrStreamEnded
		} else {
			s.err = fmt.Errorf("%w: %w", ErrStreamEnded, err)
		}
		s.mu.Unlock()
		s.log.Warn("capture stream ended", slog.Int("source_id", s.sourceID), slog.String("error", err.Error()))
		return
	}
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended. It is nil while the stream is open and
// after Release.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bytes returns how much stream data has been received.
func (s *Stream) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Release closes the stream and waits for the reader to exit. It is safe to
// call more than once.
func (s *Stream) Release() error {
	var err error
	s.once.Do(func() {
		s.released.Store(true)
		s.cancel()
		err = s.body.Close()
		<-s.done
		s.log.Info("capture stream released",
			slog.Int("source_id", s.sourceID),
			slog.Int64("bytes", s.Bytes()))
	})
	return err
}
