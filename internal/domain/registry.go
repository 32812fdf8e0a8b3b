package domain

import (
	"sync"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionRegistry owns the map of live sessions. It is the only shared
// mutable structure across sessions: per-session state lives on the
// Session itself. Membership changes for different session IDs are
// wholly concurrent.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	log *logger.ZapLogger
	m   *metrics.Metrics

	idleTimeout   time.Duration
	checkInterval time.Duration

	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewSessionRegistry(zl *logger.ZapLogger, m *metrics.Metrics, idleTimeout, checkInterval time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions:      make(map[string]*Session),
		log:           zl,
		m:             m,
		idleTimeout:   idleTimeout,
		checkInterval: checkInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Create is the single entry point for new sessions.
func (r *SessionRegistry) Create(userID string, client *websocket.Conn, acc *TranscriptAccumulator) (*Session, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	s := newSession(uuid.NewString(), userID, client, acc)

	r.mu.Lock()
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.m.SessionsCreated.Inc()
	r.m.ActiveSessions.Set(float64(count))

	r.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "session created",
		Fields:  map[string]any{"sessionID": s.ID, "userID": userID, "active": count},
	})

	return s, nil
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.m.ActiveSessions.Set(float64(count))
	}
	return ok
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartReaper finalizes sessions that neither send data nor close.
// onExpire must be safe to call for a session that is concurrently
// finalizing for another reason.
func (r *SessionRegistry) StartReaper(onExpire func(*Session)) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.reapIdle(onExpire)
			}
		}
	}()
}

func (r *SessionRegistry) reapIdle(onExpire func(*Session)) {
	now := time.Now().UTC()

	r.mu.RLock()
	expired := make([]*Session, 0)
	for _, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.idleTimeout {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		r.log.Log(logger.LogEntry{
			Level:   "info",
			Message: "session idle, reaping",
			Fields:  map[string]any{"sessionID": s.ID, "idle": now.Sub(s.LastActivity()).String()},
		})
		onExpire(s)
	}
}

// Stop halts the reaper. Live sessions are left to their own
// termination signals.
func (r *SessionRegistry) Stop() {
	close(r.stop)

	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()
	if started {
		<-r.done
	}
}
