package server

import (
	"sync"
	"time"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
)

// Session represents one logical client conversation. It owns its open SSE
// streams exclusively: closing the session closes every registered stream.
type Session struct {
	id         string
	clientInfo domain.ClientInfo
	createdAt  time.Time

	mu             sync.Mutex
	lastAccessedAt time.Time
	streams        map[string]*SSEStream
	closed         bool
}

func newSession(id string, clientInfo domain.ClientInfo, now time.Time) *Session {
	return &Session{
		id:             id,
		clientInfo:     clientInfo,
		createdAt:      now,
		lastAccessedAt: now,
		streams:        make(map[string]*SSEStream),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ClientInfo returns the metadata supplied at session creation.
func (s *Session) ClientInfo() domain.ClientInfo {
	return s.clientInfo
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastAccessedAt returns the time of the most recent touch.
func (s *Session) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

// touch records a legitimate use of the session. lastAccessedAt never moves
// backwards.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAccessedAt) {
		s.lastAccessedAt = now
	}
}

// expiredAt reports whether the session's idle time exceeds the timeout.
func (s *Session) expiredAt(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccessedAt) > timeout
}

// RegisterStream attaches an open SSE stream to the session.
func (s *Session) RegisterStream(stream *SSEStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.streams[stream.ID()] = stream
	return nil
}

// DeregisterStream detaches a stream, typically on client disconnect. The
// stream itself is not closed; its owner does that.
func (s *Session) DeregisterStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

// OpenStreams reports the number of registered streams.
func (s *Session) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Publish queues an event on every open stream of the session. Streams that
// are closed or saturated are skipped.
func (s *Session) Publish(name string, data []byte) error {
	s.mu.Lock()
	streams := make([]*SSEStream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrSessionClosed
	}
	for _, st := range streams {
		_ = st.Send(name, data)
	}
	return nil
}

// close closes every registered stream and marks the session unusable.
func (s *Session) close() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*SSEStream)
	s.closed = true
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
}
