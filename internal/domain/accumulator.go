package domain

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
)

const summaryTimeout = 20 * time.Second

// TranscriptAccumulator buffers transcript events for one session.
// Partials are provisional; finals are stable utterances. Each final
// refreshes the session summary asynchronously through the Summarizer
// collaborator, latest successful result wins.
type TranscriptAccumulator struct {
	summarizer ports.Summarizer

	mu      sync.Mutex
	chunks  []models.TranscriptChunk
	summary string
}

func NewTranscriptAccumulator(summarizer ports.Summarizer) *TranscriptAccumulator {
	return &TranscriptAccumulator{summarizer: summarizer}
}

func (a *TranscriptAccumulator) OnPartial(text string, offsetMs int64) {
	a.mu.Lock()
	a.chunks = append(a.chunks, models.TranscriptChunk{OffsetMs: offsetMs, Text: text, IsFinal: false})
	a.mu.Unlock()
}

// OnFinal appends a stable utterance. A session may see many finals;
// each is accumulated, none terminates the session here.
func (a *TranscriptAccumulator) OnFinal(text string, offsetMs int64) {
	a.mu.Lock()
	a.chunks = append(a.chunks, models.TranscriptChunk{OffsetMs: offsetMs, Text: text, IsFinal: true})
	a.mu.Unlock()

	go a.refreshSummary()
}

func (a *TranscriptAccumulator) refreshSummary() {
	if a.summarizer == nil {
		return
	}
	text := a.FinalText()
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	summary, err := a.summarizer.Summarize(ctx, text)
	if err != nil {
		log.Printf("[accumulator] summary failed: %v", err)
		return
	}

	a.mu.Lock()
	a.summary = summary
	a.mu.Unlock()
}

// FinalText joins all final utterances in arrival order.
func (a *TranscriptAccumulator) FinalText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sb strings.Builder
	for _, c := range a.chunks {
		if !c.IsFinal || c.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(c.Text)
	}
	return sb.String()
}

func (a *TranscriptAccumulator) Chunks() []models.TranscriptChunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.TranscriptChunk, len(a.chunks))
	copy(out, a.chunks)
	return out
}

func (a *TranscriptAccumulator) Summary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}
