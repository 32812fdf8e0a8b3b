package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voicejournal/internal/domain"
	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeUpstreamHandle struct {
	mu        sync.Mutex
	frames    [][]byte
	failSends int

	events    chan ports.TranscriptEvent
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeUpstreamHandle() *fakeUpstreamHandle {
	return &fakeUpstreamHandle{
		events: make(chan ports.TranscriptEvent, 16),
		closed: make(chan struct{}),
	}
}

func (h *fakeUpstreamHandle) Send(frame []byte) error {
	select {
	case <-h.closed:
		return ports.ErrUpstreamUnavailable
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failSends > 0 {
		h.failSends--
		return ports.ErrUpstreamUnavailable
	}
	h.frames = append(h.frames, append([]byte(nil), frame...))
	return nil
}

// failNextSend makes the next Send report a full queue.
func (h *fakeUpstreamHandle) failNextSend() {
	h.mu.Lock()
	h.failSends++
	h.mu.Unlock()
}

func (h *fakeUpstreamHandle) Events() <-chan ports.TranscriptEvent { return h.events }

func (h *fakeUpstreamHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		close(h.events)
	})
	return nil
}

func (h *fakeUpstreamHandle) emit(ev ports.TranscriptEvent) {
	h.events <- ev
}

func (h *fakeUpstreamHandle) pending() int { return len(h.events) }

func (h *fakeUpstreamHandle) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *fakeUpstreamHandle) sentFrames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.frames...)
}

type fakeDialer struct {
	mu      sync.Mutex
	handles []*fakeUpstreamHandle
	err     error
}

func (d *fakeDialer) Open(ctx context.Context) (ports.UpstreamHandle, error) {
	if d.err != nil {
		return nil, d.err
	}
	h := newFakeUpstreamHandle()
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDialer) handle(i int) *fakeUpstreamHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.handles) {
		return nil
	}
	return d.handles[i]
}

type fakeChunkStore struct {
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (s *fakeChunkStore) Put(ctx context.Context, userID, sessionID string, frame []byte) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return fmt.Sprintf("audio/%s/%s/%d", userID, sessionID, s.calls), nil
}

type fakeRecordRepo struct {
	mu    sync.Mutex
	saved []*models.SessionRecord
}

func (f *fakeRecordRepo) SaveRecord(ctx context.Context, rec *models.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeRecordRepo) ListByUser(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	return nil, nil
}

func (f *fakeRecordRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeRecordRepo) record(i int) *models.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[i]
}

type testEnv struct {
	srv      *httptest.Server
	registry *domain.SessionRegistry
	repo     *fakeRecordRepo
	dialer   *fakeDialer
}

func newTestEnv(t *testing.T, dialer *fakeDialer, finalizeOnFinal bool) *testEnv {
	return newTestEnvWithStore(t, dialer, finalizeOnFinal, &fakeChunkStore{})
}

func newTestEnvWithStore(t *testing.T, dialer *fakeDialer, finalizeOnFinal bool, store ports.ChunkStore) *testEnv {
	t.Helper()

	zl := logger.NewZapLogger(zap.NewNop().Sugar())
	m := metrics.NewWith(prometheus.NewRegistry())

	registry := domain.NewSessionRegistry(zl, m, time.Minute, time.Minute)
	repo := &fakeRecordRepo{}
	finalizer := domain.NewSessionFinalizer(repo, registry, zl, m, time.Second)
	persister := domain.NewChunkPersister(store, m)

	relay := NewRelay(registry, dialer, persister, finalizer, nil, m, finalizeOnFinal)

	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, registry: registry, repo: repo, dialer: dialer}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/connect?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMissingUserIDRejected(t *testing.T) {
	env := newTestEnv(t, &fakeDialer{}, false)

	resp, err := http.Get(env.srv.URL + "/connect")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(body)); got != "User ID required" {
		t.Errorf("expected body %q, got %q", "User ID required", got)
	}
	if env.registry.Len() != 0 {
		t.Errorf("no session must exist after rejection, got %d", env.registry.Len())
	}
}

func TestRelayForwardsFramesAndTranscripts(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, false)

	conn := env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })
	upstream := dialer.handle(0)

	for _, frame := range []string{"aaa", "bbb", "ccc"} {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	waitFor(t, "frames forwarded", func() bool { return upstream.frameCount() == 3 })

	upstream.emit(ports.TranscriptEvent{Type: ports.PartialTranscript, Text: "hello", OffsetMs: 40})
	upstream.emit(ports.TranscriptEvent{Type: ports.FinalTranscript, Text: "hello world", OffsetMs: 120})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read transcript push: %v", err)
	}

	var msg struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("bad payload %s: %v", payload, err)
	}
	if msg.Type != "transcription" || msg.Text != "hello world" {
		t.Errorf("unexpected message %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", msg.Timestamp, err)
	}

	// Client hangs up; the session must finalize with everything that
	// was accumulated so far.
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	rec := env.repo.record(0)

	if rec.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", rec.UserID)
	}
	if rec.Status != domain.ReasonClientDisconnect {
		t.Errorf("expected status %s, got %s", domain.ReasonClientDisconnect, rec.Status)
	}
	if len(rec.AudioKeys) != 3 {
		t.Errorf("expected 3 audio keys, got %v", rec.AudioKeys)
	}
	if len(rec.Transcript) != 2 {
		t.Errorf("expected 2 transcript chunks, got %d", len(rec.Transcript))
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry must be empty after finalize, got %d", env.registry.Len())
	}
}

func TestClientCloseWithoutFinalTranscript(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, false)

	conn := env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })

	dialer.handle(0).emit(ports.TranscriptEvent{Type: ports.PartialTranscript, Text: "unfinished", OffsetMs: 0})
	waitFor(t, "event consumed", func() bool { return dialer.handle(0).pending() == 0 })

	conn.Close()

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	rec := env.repo.record(0)

	if len(rec.Transcript) != 1 || rec.Transcript[0].IsFinal {
		t.Errorf("expected one partial chunk, got %+v", rec.Transcript)
	}
	if rec.Summary != "" {
		t.Errorf("expected no summary without finals, got %q", rec.Summary)
	}
}

func TestUpstreamCloseFinalizesSession(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, false)

	conn := env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })

	dialer.handle(0).Close()

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	if got := env.repo.record(0).Status; got != domain.ReasonUpstreamDisconnect {
		t.Errorf("expected status %s, got %s", domain.ReasonUpstreamDisconnect, got)
	}

	// The termination must propagate to the client connection.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected client connection to be closed")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry must be empty, got %d", env.registry.Len())
	}
}

func TestUpstreamDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: fmt.Errorf("service down")}
	env := newTestEnv(t, dialer, false)

	conn := env.dial(t, "user-1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after failed upstream dial")
	}

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	rec := env.repo.record(0)

	if rec.Status != domain.ReasonUpstreamError {
		t.Errorf("expected status %s, got %s", domain.ReasonUpstreamError, rec.Status)
	}
	if len(rec.AudioKeys) != 0 {
		t.Errorf("no audio may be recorded, got %v", rec.AudioKeys)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry must be empty, got %d", env.registry.Len())
	}
}

func TestConcurrentSessionsDoNotCrossWrite(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, false)

	conn1 := env.dial(t, "user-1")
	waitFor(t, "first upstream", func() bool { return dialer.handle(0) != nil })
	conn2 := env.dial(t, "user-2")
	waitFor(t, "second upstream", func() bool { return dialer.handle(1) != nil })

	// Interleave frames from both clients.
	for i := 0; i < 5; i++ {
		if err := conn1.WriteMessage(websocket.BinaryMessage, []byte("one")); err != nil {
			t.Fatalf("conn1 write: %v", err)
		}
		if err := conn2.WriteMessage(websocket.BinaryMessage, []byte("twotwo")); err != nil {
			t.Fatalf("conn2 write: %v", err)
		}
	}

	waitFor(t, "all frames", func() bool {
		return dialer.handle(0).frameCount() == 5 && dialer.handle(1).frameCount() == 5
	})

	for _, frame := range dialer.handle(0).sentFrames() {
		if string(frame) != "one" {
			t.Errorf("user-1 upstream got foreign frame %q", frame)
		}
	}
	for _, frame := range dialer.handle(1).sentFrames() {
		if string(frame) != "twotwo" {
			t.Errorf("user-2 upstream got foreign frame %q", frame)
		}
	}

	conn1.Close()
	conn2.Close()
	waitFor(t, "both records", func() bool { return env.repo.savedCount() == 2 })

	users := map[string]int{}
	for i := 0; i < 2; i++ {
		rec := env.repo.record(i)
		users[rec.UserID] = len(rec.AudioKeys)
		if rec.UserID != "user-1" && rec.UserID != "user-2" {
			t.Errorf("unexpected record owner %s", rec.UserID)
		}
	}
	if users["user-1"] != 5 || users["user-2"] != 5 {
		t.Errorf("audio keys crossed sessions: %v", users)
	}
}

func TestDroppedFrameKeepsSessionAlive(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, false)

	conn := env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })
	upstream := dialer.handle(0)

	// A full send queue drops the first frame; the second must still
	// flow through the same session.
	upstream.failNextSend()
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("lost")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("kept")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	waitFor(t, "surviving frame", func() bool { return upstream.frameCount() == 1 })
	if got := upstream.sentFrames(); string(got[0]) != "kept" {
		t.Errorf("expected the second frame upstream, got %q", got[0])
	}
	if env.registry.Len() != 1 {
		t.Errorf("dropped frame must not end the session, registry len %d", env.registry.Len())
	}
	if env.repo.savedCount() != 0 {
		t.Errorf("dropped frame must not finalize, %d records saved", env.repo.savedCount())
	}

	conn.Close()
	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })

	// Both frames were read, so both were persisted regardless of the
	// forwarding drop.
	if got := len(env.repo.record(0).AudioKeys); got != 2 {
		t.Errorf("expected 2 audio keys, got %d", got)
	}
}

func TestRecordIncludesSlowPersists(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnvWithStore(t, dialer, false, &fakeChunkStore{delay: 50 * time.Millisecond})

	conn := env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })

	for _, frame := range []string{"aaa", "bbb", "ccc"} {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte(frame)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	waitFor(t, "frames forwarded", func() bool { return dialer.handle(0).frameCount() == 3 })

	// Disconnect while the store is still writing: the tail frames of a
	// real session land exactly like this.
	conn.Close()

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	if got := len(env.repo.record(0).AudioKeys); got != 3 {
		t.Errorf("expected 3 audio keys despite slow store, got %d: %v",
			got, env.repo.record(0).AudioKeys)
	}
}

func TestFinalizeOnFinalTranscriptMode(t *testing.T) {
	dialer := &fakeDialer{}
	env := newTestEnv(t, dialer, true)

	env.dial(t, "user-1")
	waitFor(t, "upstream open", func() bool { return dialer.handle(0) != nil })

	dialer.handle(0).emit(ports.TranscriptEvent{Type: ports.FinalTranscript, Text: "done", OffsetMs: 0})

	waitFor(t, "record saved", func() bool { return env.repo.savedCount() == 1 })
	if got := env.repo.record(0).Status; got != domain.ReasonCompleted {
		t.Errorf("expected status %s, got %s", domain.ReasonCompleted, got)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry must be empty, got %d", env.registry.Len())
	}
}
