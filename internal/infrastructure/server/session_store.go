package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
)

// SessionStore creates, looks up, expires, and deletes session records. It
// is the only shared mutable state of the transport and is safe for
// concurrent use. Sessions live in process memory only.
type SessionStore struct {
	timeout time.Duration
	logger  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionStore creates a store with the given idle timeout and starts the
// background sweep when sweepInterval is positive.
func NewSessionStore(timeout, sweepInterval time.Duration, logger *logging.Logger) *SessionStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	store := &SessionStore{
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go store.sweepLoop(sweepInterval)
	}
	return store
}

// Create mints a session with a cryptographically random id and inserts it.
// It fails only when secure randomness is unavailable, which is fatal to the
// caller.
func (s *SessionStore) Create(clientInfo domain.ClientInfo) (*Session, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		id, err := newSessionID()
		if err != nil {
			return nil, err
		}
		// A collision between 128-bit random ids is not expected; the loop
		// guarantees uniqueness among live sessions regardless.
		if _, exists := s.sessions[id]; exists {
			continue
		}
		sess := newSession(id, clientInfo, now)
		s.sessions[id] = sess
		s.logger.Debug("session created", logging.Fields{"session_id": id})
		return sess, nil
	}
}

// Get looks up a session and touches it. An expired record is closed and
// removed as a side effect, so expired sessions read as absent.
func (s *SessionStore) Get(id string) *Session {
	if id == "" {
		return nil
	}
	now := time.Now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && sess.expiredAt(now, s.timeout) {
		delete(s.sessions, id)
		s.mu.Unlock()
		sess.close()
		s.logger.Debug("session expired", logging.Fields{"session_id": id})
		return nil
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	sess.touch(now)
	return sess
}

// IsValid reports whether the id names a live, unexpired session.
func (s *SessionStore) IsValid(id string) bool {
	return s.Get(id) != nil
}

// Delete closes every open stream of the session and removes the record,
// reporting whether a record existed.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.close()
	s.logger.Debug("session deleted", logging.Fields{"session_id": id})
	return true
}

// Len reports the number of live session records.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the background sweep and closes every session.
func (s *SessionStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// sweepLoop eagerly reaps expired sessions so abandoned sessions cannot
// accumulate memory and open streams between reads.
func (s *SessionStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *SessionStore) sweep(now time.Time) {
	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.expiredAt(now, s.timeout) {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	if len(expired) > 0 {
		s.logger.Info("swept expired sessions", logging.Fields{"count": len(expired)})
	}
}

// newSessionID returns a 128-bit random token, hex-encoded.
func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", errors.Wrap(err, "generating session id")
	}
	return hex.EncodeToString(buf[:]), nil
}
