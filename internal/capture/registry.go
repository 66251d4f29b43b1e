package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry owns the live capture sessions of the gateway. Sessions are
// transient: idle ones are evicted and closed, releasing any camera stream
// they still hold.
type Registry struct {
	deps Deps
	ttl  time.Duration
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry and starts its idle-eviction loop.
func NewRegistry(deps Deps, ttl time.Duration, log zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	r := &Registry{
		deps:     deps,
		ttl:      ttl,
		log:      log,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

// Create opens a new capture session for the user.
func (r *Registry) Create(userID string) *Session {
	session := NewSession(userID, r.deps)
	r.mu.Lock()
	r.sessions[session.ID.String()] = session
	r.mu.Unlock()
	r.log.Info().Str("session_id", session.ID.String()).Str("user_id", userID).Msg("capture session created")
	return session
}

// Get returns the session by id, scoped to its owner.
func (r *Registry) Get(id, userID string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || session.UserID != userID {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return session, nil
}

// Remove discards a session, releasing its resources.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		session.Close()
	}
}

// Shutdown stops eviction and closes every live session.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (r *Registry) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := time.Now().Add(-r.ttl)
	var evicted []*Session

	r.mu.Lock()
	for id, session := range r.sessions {
		if session.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, session)
		}
	}
	r.mu.Unlock()

	for _, session := range evicted {
		session.Close()
		r.log.Debug().Str("session_id", session.ID.String()).Msg("idle capture session evicted")
	}
}
