package domain

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSummarizer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcript)
	return "summary of: " + transcript, nil
}

func TestAccumulatorCollectsChunks(t *testing.T) {
	a := NewTranscriptAccumulator(nil)

	a.OnPartial("hel", 0)
	a.OnPartial("hello", 40)
	a.OnFinal("hello world", 120)
	a.OnFinal("second utterance", 900)

	chunks := a.Chunks()
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if chunks[0].IsFinal || !chunks[2].IsFinal {
		t.Errorf("final flags wrong: %+v", chunks)
	}
	if chunks[3].OffsetMs != 900 {
		t.Errorf("expected offset 900, got %d", chunks[3].OffsetMs)
	}

	if got := a.FinalText(); got != "hello world second utterance" {
		t.Errorf("FinalText: got %q", got)
	}
}

func TestAccumulatorPartialsExcludedFromFinalText(t *testing.T) {
	a := NewTranscriptAccumulator(nil)

	a.OnPartial("noise", 0)

	if got := a.FinalText(); got != "" {
		t.Errorf("partials must not contribute to final text, got %q", got)
	}
}

func TestAccumulatorRefreshesSummaryOnFinal(t *testing.T) {
	sum := &fakeSummarizer{}
	a := NewTranscriptAccumulator(sum)

	a.OnFinal("hello world", 0)

	deadline := time.After(2 * time.Second)
	for a.Summary() == "" {
		select {
		case <-deadline:
			t.Fatal("summary was never refreshed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := a.Summary(); got != "summary of: hello world" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestAccumulatorNoSummaryWithoutFinals(t *testing.T) {
	sum := &fakeSummarizer{}
	a := NewTranscriptAccumulator(sum)

	a.OnPartial("hello", 0)
	time.Sleep(20 * time.Millisecond)

	sum.mu.Lock()
	calls := len(sum.calls)
	sum.mu.Unlock()

	if calls != 0 {
		t.Errorf("summarizer must not run on partials, got %d calls", calls)
	}
}
