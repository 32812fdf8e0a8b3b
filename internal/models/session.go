package models

import "time"

// AudioKey is one durably stored audio frame. Seq is assigned at frame
// arrival and defines the canonical ordering, not the moment the write
// to the chunk store completed.
type AudioKey struct {
	Key       string    `json:"key"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

type TranscriptChunk struct {
	OffsetMs int64  `json:"offsetMs"`
	Text     string `json:"text"`
	IsFinal  bool   `json:"isFinal"`
}

// SessionRecord is what gets persisted when a live session finalizes.
type SessionRecord struct {
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId"`
	AudioKeys   []string          `json:"audioKeys"`
	Transcript  []TranscriptChunk `json:"transcript,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt time.Time         `json:"completedAt"`
}
