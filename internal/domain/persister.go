package domain

import (
	"context"
	"log"
	"time"

	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/Vovarama1992/voicejournal/internal/ports"
)

// ChunkPersister durably stores audio frames. A failed write never
// stalls or aborts the session: the sequence slot is recorded as
// missing and the stream keeps flowing.
type ChunkPersister struct {
	store ports.ChunkStore
	m     *metrics.Metrics
}

func NewChunkPersister(store ports.ChunkStore, m *metrics.Metrics) *ChunkPersister {
	return &ChunkPersister{store: store, m: m}
}

// Persist writes one frame and records its key at the slot implied by
// seq. Meant to run concurrently; completion order does not matter.
func (p *ChunkPersister) Persist(ctx context.Context, s *Session, seq uint64, frame []byte) {
	key, err := p.store.Put(ctx, s.UserID, s.ID, frame)
	if err != nil {
		log.Printf("[persist] session=%s seq=%d err=%v", s.ID, seq, err)
		s.MarkMissing(seq)
		p.m.PersistFailures.Inc()
		return
	}

	s.AddAudioKey(seq, key, time.Now().UTC())
	p.m.ChunksPersisted.Inc()
}
