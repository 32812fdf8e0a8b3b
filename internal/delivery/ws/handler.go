package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/domain"
	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/gorilla/websocket"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// transcriptionMessage is the normalized server -> client payload.
type transcriptionMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Relay owns the client-facing side of a transcription session: it
// validates the upgrade request, wires inbound audio frames to the
// persister and the upstream connector, and pushes transcript events
// back to the client.
type Relay struct {
	registry   *domain.SessionRegistry
	dialer     ports.UpstreamDialer
	persister  *domain.ChunkPersister
	finalizer  *domain.SessionFinalizer
	summarizer ports.Summarizer
	m          *metrics.Metrics

	finalizeOnFinal bool
}

func NewRelay(
	registry *domain.SessionRegistry,
	dialer ports.UpstreamDialer,
	persister *domain.ChunkPersister,
	finalizer *domain.SessionFinalizer,
	summarizer ports.Summarizer,
	m *metrics.Metrics,
	finalizeOnFinal bool,
) *Relay {
	return &Relay{
		registry:        registry,
		dialer:          dialer,
		persister:       persister,
		finalizer:       finalizer,
		summarizer:      summarizer,
		m:               m,
		finalizeOnFinal: finalizeOnFinal,
	}
}

// Handler serves GET /connect?userId=<id>.
func (rl *Relay) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "User ID required", http.StatusBadRequest)
			return
		}

		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ws] upgrade failed user=%s err=%v", userID, err)
			return
		}

		acc := domain.NewTranscriptAccumulator(rl.summarizer)
		sess, err := rl.registry.Create(userID, conn, acc)
		if err != nil {
			conn.Close()
			return
		}

		handle, err := rl.dialer.Open(r.Context())
		if err != nil {
			log.Printf("[ws] upstream dial failed session=%s err=%v", sess.ID, err)
			rl.m.UpstreamDialFailures.Inc()
			rl.finalizer.Finalize(sess, domain.ReasonUpstreamError)
			return
		}

		sess.AttachUpstream(handle)
		sess.Activate()

		log.Printf("[ws] session start id=%s user=%s", sess.ID, userID)

		go rl.upstreamLoop(sess, handle)
		rl.clientLoop(sess, handle)
	}
}

// clientLoop reads binary audio frames until the client goes away.
// Each frame gets its sequence number here, then persistence and
// upstream forwarding proceed without blocking the read path.
func (rl *Relay) clientLoop(sess *domain.Session, handle ports.UpstreamHandle) {
	conn := sess.Client()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				sess.State() == domain.StateActive {
				log.Printf("[ws] client read error session=%s err=%v", sess.ID, err)
			}
			rl.finalizer.Finalize(sess, domain.ReasonClientDisconnect)
			return
		}

		if mt != websocket.BinaryMessage {
			// audio frames are binary; anything else is noise
			continue
		}

		sess.Touch()
		seq := sess.NextSequence()
		rl.m.FramesReceived.Inc()

		if sess.BeginPersist() {
			go func(seq uint64, data []byte) {
				defer sess.EndPersist()
				rl.persister.Persist(context.Background(), sess, seq, data)
			}(seq, data)
		}

		if err := handle.Send(data); err != nil {
			log.Printf("[ws] frame dropped session=%s seq=%d err=%v", sess.ID, seq, err)
			rl.m.FramesDropped.Inc()
			continue
		}
		rl.m.FramesForwarded.Inc()
	}
}

// upstreamLoop consumes transcript events in upstream order. Finals
// are accumulated and relayed to the client; the loop ends when the
// upstream connection closes, which terminates the session.
func (rl *Relay) upstreamLoop(sess *domain.Session, handle ports.UpstreamHandle) {
	for ev := range handle.Events() {
		sess.Touch()

		switch ev.Type {
		case ports.PartialTranscript:
			rl.m.TranscriptEvents.WithLabelValues("partial").Inc()
			sess.Acc.OnPartial(ev.Text, ev.OffsetMs)

		case ports.FinalTranscript:
			rl.m.TranscriptEvents.WithLabelValues("final").Inc()
			sess.Acc.OnFinal(ev.Text, ev.OffsetMs)

			msg := transcriptionMessage{
				Type:      "transcription",
				Text:      ev.Text,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			if err := sess.WriteJSON(msg); err != nil {
				log.Printf("[ws] client push failed session=%s err=%v", sess.ID, err)
			}

			if rl.finalizeOnFinal {
				rl.finalizer.Finalize(sess, domain.ReasonCompleted)
				return
			}
		}
	}

	rl.finalizer.Finalize(sess, domain.ReasonUpstreamDisconnect)
}
