package ports

import (
	"context"

	"github.com/Vovarama1992/voicejournal/internal/models"
)

type SessionRecordRepo interface {
	SaveRecord(ctx context.Context, rec *models.SessionRecord) error
	ListByUser(ctx context.Context, userID string) ([]models.SessionRecord, error)
}
