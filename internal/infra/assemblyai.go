package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/ports"
	gws "github.com/gorilla/websocket"
)

// AssemblyAIDialer opens realtime transcription connections. The
// sample rate and PCM encoding are the fixed contract agreed with the
// service; the token authenticates at connect time.
type AssemblyAIDialer struct {
	baseURL    string
	apiKey     string
	sampleRate int
	sendBuffer int
}

func NewAssemblyAIDialer(baseURL, apiKey string, sampleRate, sendBuffer int) *AssemblyAIDialer {
	return &AssemblyAIDialer{
		baseURL:    baseURL,
		apiKey:     apiKey,
		sampleRate: sampleRate,
		sendBuffer: sendBuffer,
	}
}

var _ ports.UpstreamDialer = (*AssemblyAIDialer)(nil)

func (d *AssemblyAIDialer) Open(ctx context.Context) (ports.UpstreamHandle, error) {
	u := fmt.Sprintf("%s?sample_rate=%d&token=%s",
		d.baseURL, d.sampleRate, url.QueryEscape(d.apiKey))

	conn, _, err := gws.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("assemblyai dial: %w", err)
	}

	h := &assemblyHandle{
		conn:   conn,
		send:   make(chan []byte, d.sendBuffer),
		events: make(chan ports.TranscriptEvent, 16),
		closed: make(chan struct{}),
	}
	go h.writeLoop()
	go h.readLoop()

	return h, nil
}

// upstreamMessage is the inbound wire shape. Only the two transcript
// discriminants matter; everything else is dropped with a log line.
type upstreamMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	AudioStart  int64  `json:"audio_start"`
}

type assemblyHandle struct {
	conn   *gws.Conn
	send   chan []byte
	events chan ports.TranscriptEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// Send enqueues one frame for the writer goroutine. A full queue or a
// closed connection yields ErrUpstreamUnavailable so the caller can
// drop the frame instead of stalling the client path.
func (h *assemblyHandle) Send(frame []byte) error {
	select {
	case <-h.closed:
		return ports.ErrUpstreamUnavailable
	default:
	}

	select {
	case h.send <- frame:
		return nil
	default:
		return ports.ErrUpstreamUnavailable
	}
}

func (h *assemblyHandle) Events() <-chan ports.TranscriptEvent {
	return h.events
}

func (h *assemblyHandle) writeLoop() {
	for {
		select {
		case <-h.closed:
			return
		case frame := <-h.send:
			if err := h.conn.WriteMessage(gws.BinaryMessage, frame); err != nil {
				log.Printf("[assemblyai] write error: %v", err)
				_ = h.Close()
				return
			}
		}
	}
}

func (h *assemblyHandle) readLoop() {
	defer close(h.events)

	for {
		_, msg, err := h.conn.ReadMessage()
		if err != nil {
			if !gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				select {
				case <-h.closed:
				default:
					log.Printf("[assemblyai] read error: %v", err)
				}
			}
			_ = h.Close()
			return
		}

		var m upstreamMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			log.Printf("[assemblyai] bad payload: %v", err)
			continue
		}

		var ev ports.TranscriptEvent
		switch m.MessageType {
		case "PartialTranscript":
			ev = ports.TranscriptEvent{Type: ports.PartialTranscript, Text: m.Text, OffsetMs: m.AudioStart}
		case "FinalTranscript":
			ev = ports.TranscriptEvent{Type: ports.FinalTranscript, Text: m.Text, OffsetMs: m.AudioStart}
		default:
			log.Printf("[assemblyai] ignoring message_type=%q", m.MessageType)
			continue
		}

		select {
		case h.events <- ev:
		case <-h.closed:
			return
		}
	}
}

func (h *assemblyHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)

		deadline := time.Now().Add(time.Second)
		_ = h.conn.WriteControl(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, ""), deadline)
		err = h.conn.Close()
	})
	return err
}
