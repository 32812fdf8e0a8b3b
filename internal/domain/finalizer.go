package domain

import (
	"context"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voicejournal/internal/metrics"
	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/gorilla/websocket"
)

// SessionFinalizer is the single consolidated shutdown path for a
// session. Callable from the client read loop, the upstream event
// loop, the idle reaper or the dial-failure path; only the first call
// does anything.
type SessionFinalizer struct {
	records  ports.SessionRecordRepo
	registry *SessionRegistry
	log      *logger.ZapLogger
	m        *metrics.Metrics

	saveTimeout time.Duration
}

func NewSessionFinalizer(records ports.SessionRecordRepo, registry *SessionRegistry, zl *logger.ZapLogger, m *metrics.Metrics, saveTimeout time.Duration) *SessionFinalizer {
	return &SessionFinalizer{
		records:     records,
		registry:    registry,
		log:         zl,
		m:           m,
		saveTimeout: saveTimeout,
	}
}

// Finalize closes both peer connections, persists the session record
// and releases the registry slot, exactly once. Record persistence is
// best effort: resource release takes priority over durability.
func (f *SessionFinalizer) Finalize(s *Session, reason string) {
	if !s.beginFinalize() {
		return
	}

	closeCode := websocket.CloseNormalClosure
	if reason == ReasonUpstreamError {
		closeCode = websocket.CloseInternalServerErr
	}
	s.CloseClient(closeCode, reason)

	if h := s.Upstream(); h != nil {
		_ = h.Close()
	}

	// Frames read just before the disconnect may still be on their way
	// to the chunk store; the record must include their keys.
	if !s.waitPersists(f.saveTimeout) {
		f.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "finalizing with chunk writes still in flight",
			Fields:  map[string]any{"sessionID": s.ID},
		})
	}

	rec := &models.SessionRecord{
		SessionID:   s.ID,
		UserID:      s.UserID,
		AudioKeys:   s.AudioKeyList(),
		Transcript:  s.Acc.Chunks(),
		Summary:     s.Acc.Summary(),
		Status:      reason,
		CreatedAt:   s.StartedAt,
		CompletedAt: s.FinalizedAt(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.saveTimeout)
	defer cancel()

	if err := f.records.SaveRecord(ctx, rec); err != nil {
		f.m.RecordSaveFailures.Inc()
		f.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "session record save failed",
			Error:   err,
			Fields:  map[string]any{"sessionID": s.ID, "userID": s.UserID},
		})
	}

	f.registry.Remove(s.ID)
	s.setClosed()

	duration := s.FinalizedAt().Sub(s.StartedAt)
	f.m.SessionsFinalized.WithLabelValues(reason).Inc()
	f.m.SessionDuration.Observe(duration.Seconds())

	f.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "session finalized",
		Fields: map[string]any{
			"sessionID": s.ID,
			"userID":    s.UserID,
			"reason":    reason,
			"duration":  duration.String(),
			"audioKeys": len(rec.AudioKeys),
			"missing":   len(s.Missing()),
		},
	})
}
