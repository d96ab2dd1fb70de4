package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// eventQueueSize bounds how many undelivered events a standing stream may
// buffer before Send reports ErrEventQueueFull.
const eventQueueSize = 100

type sseEvent struct {
	name string
	data []byte
}

// SSEStream represents one open SSE output sink. Writes are serialized and
// every delivered event carries an incrementing numeric id. A stream is
// either driven synchronously via WriteEvent (POST reply streams) or pumped
// by Run from its queue (standing GET streams fed through Send).
type SSEStream struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	queue   chan sseEvent

	mu          sync.Mutex
	nextEventID int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSSEStream wraps a ResponseWriter as an SSE sink. Fails with
// ErrResponseWriterNotFlusher when the writer cannot stream.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrResponseWriterNotFlusher
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SSEStream{
		id:      uuid.New().String(),
		writer:  w,
		flusher: flusher,
		queue:   make(chan sseEvent, eventQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// ID returns the stream identifier.
func (s *SSEStream) ID() string {
	return s.id
}

// Done is closed once the stream has been closed.
func (s *SSEStream) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close marks the stream closed. Safe to call multiple times and from any
// goroutine; pending WriteEvent calls fail afterwards.
func (s *SSEStream) Close() {
	s.closeOnce.Do(s.cancel)
}

// WriteEvent frames and writes one event directly to the response, assigning
// the next event id and flushing.
func (s *SSEStream) WriteEvent(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(s.writer, "id: %d\n", s.nextEventID); err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(s.writer, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.nextEventID++
	s.flusher.Flush()
	return nil
}

// Flush flushes buffered response data, used right after writing headers.
func (s *SSEStream) Flush() {
	s.flusher.Flush()
}

// Send queues an event for delivery by Run. It never blocks: a closed stream
// reports ErrStreamClosed and a saturated queue ErrEventQueueFull.
func (s *SSEStream) Send(name string, data []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrStreamClosed
	case s.queue <- sseEvent{name: name, data: data}:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Run drains the queue onto the wire until the request context or the stream
// is closed. It must be called from the HTTP handler goroutine that owns the
// ResponseWriter.
func (s *SSEStream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.WriteEvent(ev.name, ev.data); err != nil {
				return
			}
		}
	}
}
