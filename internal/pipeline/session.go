package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/index"
	"knowledge-qa/internal/models"
)

// Session is one user's state: an API key and at most one indexed document.
// Nothing in it is persisted.
type Session struct {
	ID string

	mu       sync.Mutex
	apiKey   string
	file     *models.File
	chunks   []models.Chunk
	index    *index.FolderIndex
	closed   bool
	lastUsed atomic.Int64 // unix nanoseconds
}

func newSession(id string) *Session {
	s := &Session{ID: id}
	s.touch()
	return s
}

func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
	s.touch()
}

func (s *Session) HasAPIKey() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey != ""
}

// Document returns the parsed file, or nil before a successful upload.
func (s *Session) Document() *models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Chunks returns the chunks of the current document.
func (s *Session) Chunks() []models.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

func (s *Session) HasIndex() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index != nil
}

// Close drops the document and releases the index. Later uploads and
// questions fail with models.ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.clearLocked()
}

func (s *Session) clearLocked() {
	if s.index != nil {
		if err := s.index.Release(); err != nil {
			log.Warn().Err(err).Str("session", s.ID).Msg("Releasing index failed")
		}
	}
	s.file = nil
	s.chunks = nil
	s.index = nil
}

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Store keeps the live sessions of the HTTP front end. Sessions idle for
// longer than the TTL are closed by Sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{sessions: make(map[string]*Session), ttl: ttl, now: time.Now}
}

func (st *Store) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if ok {
		s.touch()
	}
	return s, ok
}

// Delete closes and forgets a session. It reports whether it existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many.
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.ttl)
	var expired []*Session

	st.mu.Lock()
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		log.Info().Int("sessions", len(expired)).Msg("Expired idle sessions")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// CloseAll closes every session.
func (st *Store) CloseAll() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
