package ports

import (
	"context"
	"errors"
)

// ErrUpstreamUnavailable means a frame could not be handed to the
// recognition service right now. The caller drops the frame and keeps
// the session alive: audio loss beats stalling the client.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

type TranscriptEventType int

const (
	PartialTranscript TranscriptEventType = iota
	FinalTranscript
)

// TranscriptEvent is one recognized-speech update from the upstream
// service. Only the two variants above are meaningful to this system;
// anything else is discarded at the connector.
type TranscriptEvent struct {
	Type     TranscriptEventType
	Text     string
	OffsetMs int64
}

// UpstreamHandle is one open connection to the recognition service.
type UpstreamHandle interface {
	// Send forwards one audio frame without blocking the caller.
	Send(frame []byte) error
	// Events yields inbound transcript events in upstream order. The
	// channel is closed when the upstream connection closes or errors.
	Events() <-chan TranscriptEvent
	// Close is idempotent.
	Close() error
}

type UpstreamDialer interface {
	Open(ctx context.Context) (UpstreamHandle, error)
}
