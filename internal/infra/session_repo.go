package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Vovarama1992/voicejournal/internal/models"
	"github.com/Vovarama1992/voicejournal/internal/ports"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionRepo persists finalized transcription sessions.
//
// Expected table:
//
//	CREATE TABLE transcription_session (
//	    id           TEXT PRIMARY KEY,
//	    user_id      TEXT NOT NULL,
//	    audio_keys   TEXT[] NOT NULL DEFAULT '{}',
//	    transcript   JSONB,
//	    summary      TEXT,
//	    status       TEXT NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    completed_at TIMESTAMPTZ NOT NULL
//	);
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) ports.SessionRecordRepo {
	return &PostgresSessionRepo{pool: pool}
}

func (r *PostgresSessionRepo) SaveRecord(ctx context.Context, rec *models.SessionRecord) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	query := `
		INSERT INTO transcription_session
			(id, user_id, audio_keys, transcript, summary, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		rec.SessionID,
		rec.UserID,
		rec.AudioKeys,
		transcript,
		rec.Summary,
		rec.Status,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}

	log.Printf("[DB][SESSION] saved id=%s user=%s keys=%d status=%s",
		rec.SessionID, rec.UserID, len(rec.AudioKeys), rec.Status)

	return nil
}

func (r *PostgresSessionRepo) ListByUser(ctx context.Context, userID string) ([]models.SessionRecord, error) {
	query := `
		SELECT id, user_id, audio_keys, COALESCE(transcript, '[]'::jsonb), COALESCE(summary, ''), status, created_at, completed_at
		FROM transcription_session
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		var rec models.SessionRecord
		var transcript []byte

		if err := rows.Scan(
			&rec.SessionID,
			&rec.UserID,
			&rec.AudioKeys,
			&transcript,
			&rec.Summary,
			&rec.Status,
			&rec.CreatedAt,
			&rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}

		if err := json.Unmarshal(transcript, &rec.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}
