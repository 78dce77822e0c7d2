package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"estimator/pkg/estimator"
)

const (
	sessionCookie = "estimator_session"
	maxSessions   = 1024
)

// session is one browser's view of the estimate: its own Form and edit target
// over the shared store.
type session struct {
	id   string
	root *estimator.Root

	mu    sync.Mutex
	flash string
}

func (s *session) setFlash(msg string) {
	s.mu.Lock()
	s.flash = msg
	s.mu.Unlock()
}

// takeFlash returns the pending message once.
func (s *session) takeFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = ""
	return msg
}

// sessions holds at most limit open Roots. Starting one more closes the
// least recently seen.
type sessions struct {
	ttl   time.Duration
	limit int
	now   func() time.Time
	open  func(ctx context.Context) (*estimator.Root, error)

	mu       sync.Mutex
	byID     map[string]*session
	lastSeen map[string]time.Time
}

func newSessions(ttl time.Duration, open func(ctx context.Context) (*estimator.Root, error)) *sessions {
	return &sessions{
		ttl:      ttl,
		limit:    maxSessions,
		now:      time.Now,
		open:     open,
		byID:     make(map[string]*session),
		lastSeen: make(map[string]time.Time),
	}
}

// find returns the caller's session without starting one.
func (m *sessions) find(r *http.Request) (*session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[c.Value]
	if ok {
		m.lastSeen[c.Value] = m.now()
	}
	return sess, ok
}

// lookup returns the caller's session, starting a new one and setting the
// cookie when the request carries no known id.
func (m *sessions) lookup(w http.ResponseWriter, r *http.Request) (*session, error) {
	if sess, ok := m.find(r); ok {
		return sess, nil
	}

	root, err := m.open(r.Context())
	if err != nil {
		return nil, err
	}
	sess := &session{id: uuid.NewString(), root: root}

	m.mu.Lock()
	evicted := m.evictLocked()
	m.byID[sess.id] = sess
	m.lastSeen[sess.id] = m.now()
	m.mu.Unlock()

	for _, old := range evicted {
		old.root.Close()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// evictLocked makes room for one more session.
func (m *sessions) evictLocked() []*session {
	var evicted []*session
	for m.limit > 0 && len(m.byID) >= m.limit {
		var oldestID string
		var oldest time.Time
		for id, seen := range m.lastSeen {
			if oldestID == "" || seen.Before(oldest) {
				oldestID, oldest = id, seen
			}
		}
		evicted = append(evicted, m.byID[oldestID])
		delete(m.byID, oldestID)
		delete(m.lastSeen, oldestID)
	}
	return evicted
}

// sweep closes sessions idle for longer than the TTL and reports how many.
func (m *sessions) sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var stale []*session
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, m.byID[id])
			delete(m.byID, id)
			delete(m.lastSeen, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range stale {
		sess.root.Close()
	}
	return len(stale)
}

func (m *sessions) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *sessions) closeAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.byID))
	for _, sess := range m.byID {
		all = append(all, sess)
	}
	m.byID = make(map[string]*session)
	m.lastSeen = make(map[string]time.Time)
	m.mu.Unlock()

	for _, sess := range all {
		sess.root.Close()
	}
}
