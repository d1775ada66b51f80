package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/database"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// MatchRepository persists match records and the feedback attached to them.
type MatchRepository interface {
	Insert(ctx context.Context, rec *models.MatchRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.MatchRecord, error)
	// SetFeedback attaches a selection and feedback signal to a match
	// record. Feedback is one-shot: a record that already carries feedback
	// returns ErrFeedbackAlreadySet.
	SetFeedback(ctx context.Context, id uuid.UUID, selectedResourceID string, feedback models.Feedback) error
	ListSince(ctx context.Context, since time.Time) ([]*models.MatchRecord, error)
	StatsSince(ctx context.Context, since time.Time) (count int64, avgDurationMs float64, err error)
}

type matchRepository struct {
	db *database.DB
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *database.DB) MatchRepository {
	return &matchRepository{db: db}
}

var _ MatchRepository = (*matchRepository)(nil)

func (r *matchRepository) Insert(ctx context.Context, rec *models.MatchRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Feedback == "" {
		rec.Feedback = models.FeedbackNone
	}

	candidates, err := json.Marshal(rec.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO engine_match_records (
			id, query_text, query_hash, candidates, selected_resource_id,
			feedback, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.QueryText, rec.QueryHash, candidates, rec.SelectedResourceID,
		rec.Feedback, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match record: %w", err)
	}
	return nil
}

func (r *matchRepository) Get(ctx context.Context, id uuid.UUID) (*models.MatchRecord, error) {
	rec, err := scanMatchRecord(r.db.QueryRow(ctx, `
		SELECT id, query_text, query_hash, candidates, selected_resource_id,
			feedback, duration_ms, created_at, feedback_at
		FROM engine_match_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match record %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get match record %s: %w", id, err)
	}
	return rec, nil
}

func (r *matchRepository) SetFeedback(ctx context.Context, id uuid.UUID, selectedResourceID string, feedback models.Feedback) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_match_records
		SET selected_resource_id = $2, feedback = $3, feedback_at = now()
		WHERE id = $1 AND feedback = 'none'`,
		id, selectedResourceID, feedback)
	if err != nil {
		return fmt.Errorf("failed to set feedback on match %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from one that already has feedback.
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM engine_match_records WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check match record %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("match record %s: %w", id, apperrors.ErrNotFound)
		}
		return fmt.Errorf("match record %s: %w", id, apperrors.ErrFeedbackAlreadySet)
	}
	return nil
}

func (r *matchRepository) ListSince(ctx context.Context, since time.Time) ([]*models.MatchRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, query_text, query_hash, candidates, selected_resource_id,
			feedback, duration_ms, created_at, feedback_at
		FROM engine_match_records
		WHERE created_at >= $1
		ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list match records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.MatchRecord, 0)
	for rows.Next() {
		rec, err := scanMatchRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match records: %w", err)
	}
	return records, nil
}

func (r *matchRepository) StatsSince(ctx context.Context, since time.Time) (int64, float64, error) {
	var count int64
	var avg float64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(duration_ms), 0)
		FROM engine_match_records WHERE created_at >= $1`, since).Scan(&count, &avg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute match stats: %w", err)
	}
	return count, avg, nil
}

func scanMatchRecord(row pgx.Row) (*models.MatchRecord, error) {
	var rec models.MatchRecord
	var candidates []byte

	err := row.Scan(&rec.ID, &rec.QueryText, &rec.QueryHash, &candidates,
		&rec.SelectedResourceID, &rec.Feedback, &rec.DurationMs,
		&rec.CreatedAt, &rec.FeedbackAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(candidates, &rec.Candidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}
	return &rec, nil
}
