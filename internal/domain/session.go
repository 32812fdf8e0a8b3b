package domain

import (
	"sort"
	"sync"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/gorilla/websocket"
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateActive
	StateFinalizing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the state for one live audio-to-transcript interaction.
// It owns both peer connections. All mutable fields are guarded by mu;
// writes to the client socket are serialized by writeMu because gorilla
// allows only one concurrent writer.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time

	Acc *TranscriptAccumulator

	client *websocket.Conn

	mu           sync.Mutex
	state        SessionState
	upstream     ports.UpstreamHandle
	nextSeq      uint64
	audioKeys    []models.AudioKey
	missing      []uint64
	lastActivity time.Time
	finalizedAt  time.Time
	inflight     int
	inflightDone chan struct{}

	writeMu sync.Mutex
}

func newSession(id, userID string, client *websocket.Conn, acc *TranscriptAccumulator) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		UserID:       userID,
		StartedAt:    now,
		Acc:          acc,
		client:       client,
		state:        StateConnecting,
		lastActivity: now,
	}
}

func (s *Session) Client() *websocket.Conn { return s.client }

func (s *Session) AttachUpstream(h ports.UpstreamHandle) {
	s.mu.Lock()
	s.upstream = h
	s.mu.Unlock()
}

func (s *Session) Upstream() ports.UpstreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// Activate moves CONNECTING -> ACTIVE once the upstream leg is open.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateActive
	}
	s.mu.Unlock()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextSequence atomically assigns the next frame sequence number and
// counts as session activity.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.lastActivity = time.Now().UTC()
	return s.nextSeq
}

// AddAudioKey records a persisted frame at the position implied by its
// sequence number. Persist calls complete in arbitrary order; the key
// list must not.
func (s *Session) AddAudioKey(seq uint64, key string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.audioKeys), func(i int) bool {
		return s.audioKeys[i].Seq >= seq
	})
	s.audioKeys = append(s.audioKeys, models.AudioKey{})
	copy(s.audioKeys[i+1:], s.audioKeys[i:])
	s.audioKeys[i] = models.AudioKey{Key: key, Seq: seq, Timestamp: ts}
}

// MarkMissing records a frame whose durable write failed. The session
// keeps running; the gap is visible in the persisted record instead.
func (s *Session) MarkMissing(seq uint64) {
	s.mu.Lock()
	s.missing = append(s.missing, seq)
	s.mu.Unlock()
}

func (s *Session) AudioKeyList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.audioKeys))
	for i, k := range s.audioKeys {
		keys[i] = k.Key
	}
	return keys
}

func (s *Session) AudioKeys() []models.AudioKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AudioKey, len(s.audioKeys))
	copy(out, s.audioKeys)
	return out
}

func (s *Session) Missing() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.missing))
	copy(out, s.missing)
	return out
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// BeginPersist registers an in-flight durable write so finalization
// can wait for it. Returns false once finalization has started; frames
// arriving that late are not persisted.
func (s *Session) BeginPersist() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalizing || s.state == StateClosed {
		return false
	}
	s.inflight++
	return true
}

// EndPersist retires a write registered with BeginPersist.
func (s *Session) EndPersist() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.inflightDone != nil {
		close(s.inflightDone)
		s.inflightDone = nil
	}
	s.mu.Unlock()
}

// waitPersists blocks until every registered write has retired or the
// timeout expires. Only meaningful after beginFinalize, when no new
// writes can register.
func (s *Session) waitPersists(timeout time.Duration) bool {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	s.inflightDone = ch
	s.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// beginFinalize is the one-shot guard: the first caller wins, every
// later termination signal for the same session is a no-op.
func (s *Session) beginFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalizing || s.state == StateClosed {
		return false
	}
	s.state = StateFinalizing
	s.finalizedAt = time.Now().UTC()
	return true
}

func (s *Session) setClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *Session) FinalizedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizedAt
}

// WriteJSON sends one text message to the client.
func (s *Session) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.client == nil {
		return websocket.ErrCloseSent
	}
	return s.client.WriteJSON(v)
}

// CloseClient sends a close frame (best effort) and tears the client
// connection down. Safe to call more than once.
func (s *Session) CloseClient(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.client == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	_ = s.client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), deadline)
	_ = s.client.Close()
}
