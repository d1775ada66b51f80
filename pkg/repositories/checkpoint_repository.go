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

// CheckpointRepository persists sync checkpoints so an interrupted
// vectorization run can resume from the last durable batch boundary.
type CheckpointRepository interface {
	Create(ctx context.Context, cp *models.SyncCheckpoint) error
	Update(ctx context.Context, cp *models.SyncCheckpoint) error
	// GetRunning returns the most recent checkpoint still in the running
	// state, or ErrNotFound when no sync is in flight.
	GetRunning(ctx context.Context) (*models.SyncCheckpoint, error)
	// Latest returns the most recent checkpoint regardless of state, or
	// ErrNotFound when no sync has ever run.
	Latest(ctx context.Context) (*models.SyncCheckpoint, error)
}

type checkpointRepository struct {
	db *database.DB
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(db *database.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

var _ CheckpointRepository = (*checkpointRepository)(nil)

func (r *checkpointRepository) Create(ctx context.Context, cp *models.SyncCheckpoint) error {
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	if cp.Status == "" {
		cp.Status = models.SyncStatusRunning
	}

	ids := cp.ChangedIDs
	if ids == nil {
		ids = []string{}
	}
	changedIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal changed ids: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO engine_sync_checkpoints (
			id, kind, status, changed_ids, processed, batch_size, error,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cp.ID, cp.Kind, cp.Status, changedIDs, cp.Processed, cp.BatchSize,
		cp.Error, cp.StartedAt, cp.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync checkpoint: %w", err)
	}
	return nil
}

func (r *checkpointRepository) Update(ctx context.Context, cp *models.SyncCheckpoint) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_sync_checkpoints
		SET status = $2, processed = $3, error = $4, completed_at = $5
		WHERE id = $1`,
		cp.ID, cp.Status, cp.Processed, cp.Error, cp.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update sync checkpoint %s: %w", cp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync checkpoint %s: %w", cp.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *checkpointRepository) GetRunning(ctx context.Context) (*models.SyncCheckpoint, error) {
	return r.getOne(ctx, `
		SELECT id, kind, status, changed_ids, processed, batch_size, error,
			started_at, completed_at
		FROM engine_sync_checkpoints
		WHERE status = 'running'
		ORDER BY started_at DESC
		LIMIT 1`)
}

func (r *checkpointRepository) Latest(ctx context.Context) (*models.SyncCheckpoint, error) {
	return r.getOne(ctx, `
		SELECT id, kind, status, changed_ids, processed, batch_size, error,
			started_at, completed_at
		FROM engine_sync_checkpoints
		ORDER BY started_at DESC
		LIMIT 1`)
}

func (r *checkpointRepository) getOne(ctx context.Context, query string) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	var changedIDs []byte
	err := r.db.QueryRow(ctx, query).Scan(
		&cp.ID, &cp.Kind, &cp.Status, &changedIDs, &cp.Processed,
		&cp.BatchSize, &cp.Error, &cp.StartedAt, &cp.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync checkpoint: %w", err)
	}

	if err := json.Unmarshal(changedIDs, &cp.ChangedIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changed ids: %w", err)
	}
	return &cp, nil
}
