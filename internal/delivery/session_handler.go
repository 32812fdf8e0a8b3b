package delivery

import (
	"encoding/json"
	"net/http"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/voicejournal/internal/ports"
)

type SessionHandler struct {
	records ports.SessionRecordRepo
	log     *logger.ZapLogger
}

func NewSessionHandler(records ports.SessionRecordRepo, log *logger.ZapLogger) *SessionHandler {
	return &SessionHandler{
		records: records,
		log:     log,
	}
}

// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	sessions, err := h.records.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list sessions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "sessions listed",
		Fields: map[string]any{
			"userID": userID,
			"count":  len(sessions),
		},
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessions": sessions,
	})
}
