package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
)

// SyncOutcome is the result of one sync run: the discovery report plus the
// checkpoint the vectorization pass ran under.
type SyncOutcome struct {
	Report     *models.DiscoveryReport
	Checkpoint *models.SyncCheckpoint
}

// Monitor drives change detection and checkpointed re-vectorization. The
// primary trigger is an external scheduler calling these methods; RunScheduler
// is a convenience ticker for deployments without one.
type Monitor interface {
	// DetectChanges re-enumerates providers, reconciles the catalog, and
	// returns the ids needing (re-)vectorization: new and changed resources
	// plus those whose previous vectorization failed.
	DetectChanges(ctx context.Context) ([]string, *models.DiscoveryReport, error)

	// IncrementalSync detects changes and vectorizes them under a fresh
	// checkpoint, advancing it after every batch so a crash loses at most
	// the in-flight batch.
	IncrementalSync(ctx context.Context) (*SyncOutcome, error)

	// ResumeOrStart continues a checkpoint left running by a crash,
	// re-processing only the remainder; with no running checkpoint it
	// starts a fresh incremental sync.
	ResumeOrStart(ctx context.Context) (*SyncOutcome, error)

	// FullResync rediscovers everything and force re-vectorizes every
	// active resource, skip-unchanged disabled.
	FullResync(ctx context.Context) (*SyncOutcome, error)

	// RunScheduler loops ResumeOrStart on the interval until ctx is done.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type monitor struct {
	discovery   DiscoveryCoordinator
	vectorizer  Vectorizer
	resources   repositories.ResourceRepository
	checkpoints repositories.CheckpointRepository
	batchSize   int
	logger      *zap.Logger
}

// NewMonitor creates a new Monitor.
func NewMonitor(
	cfg config.MonitorConfig,
	discovery DiscoveryCoordinator,
	vectorizer Vectorizer,
	resources repositories.ResourceRepository,
	checkpoints repositories.CheckpointRepository,
	logger *zap.Logger,
) Monitor {
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 16
	}
	return &monitor{
		discovery:   discovery,
		vectorizer:  vectorizer,
		resources:   resources,
		checkpoints: checkpoints,
		batchSize:   batchSize,
		logger:      logger.Named("monitor"),
	}
}

var _ Monitor = (*monitor)(nil)

func (m *monitor) DetectChanges(ctx context.Context) ([]string, *models.DiscoveryReport, error) {
	report, err := m.discovery.DiscoverAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	// Reconcile marks new and changed resources pending; failed ones are
	// picked up again automatically.
	stale, err := m.resources.ListByVectorizationStatus(ctx,
		models.VectorizationPending, models.VectorizationFailed)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(stale))
	for i, r := range stale {
		ids[i] = r.ResourceID
	}
	return ids, report, nil
}

func (m *monitor) IncrementalSync(ctx context.Context) (*SyncOutcome, error) {
	ids, report, err := m.DetectChanges(ctx)
	if err != nil {
		return nil, err
	}

	cp := &models.SyncCheckpoint{
		Kind:       models.SyncKindIncremental,
		Status:     models.SyncStatusRunning,
		ChangedIDs: ids,
		BatchSize:  m.batchSize,
	}
	if err := m.checkpoints.Create(ctx, cp); err != nil {
		return nil, err
	}

	if err := m.runCheckpoint(ctx, cp, false); err != nil {
		return nil, err
	}
	return &SyncOutcome{Report: report, Checkpoint: cp}, nil
}

func (m *monitor) ResumeOrStart(ctx context.Context) (*SyncOutcome, error) {
	cp, err := m.checkpoints.GetRunning(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return m.IncrementalSync(ctx)
		}
		return nil, err
	}

	m.logger.Info("resuming interrupted sync",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.String("kind", string(cp.Kind)),
		zap.Int("processed", cp.Processed),
		zap.Int("total", len(cp.ChangedIDs)))

	if err := m.runCheckpoint(ctx, cp, cp.Kind == models.SyncKindFull); err != nil {
		return nil, err
	}
	return &SyncOutcome{Checkpoint: cp}, nil
}

func (m *monitor) FullResync(ctx context.Context) (*SyncOutcome, error) {
	report, err := m.discovery.DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}

	// Every active resource, regardless of vectorization status.
	all, err := m.resources.ListByVectorizationStatus(ctx,
		models.VectorizationPending, models.VectorizationProcessing,
		models.VectorizationCompleted, models.VectorizationFailed)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ResourceID
	}

	cp := &models.SyncCheckpoint{
		Kind:       models.SyncKindFull,
		Status:     models.SyncStatusRunning,
		ChangedIDs: ids,
		BatchSize:  m.batchSize,
	}
	if err := m.checkpoints.Create(ctx, cp); err != nil {
		return nil, err
	}

	if err := m.runCheckpoint(ctx, cp, true); err != nil {
		return nil, err
	}
	return &SyncOutcome{Report: report, Checkpoint: cp}, nil
}

// runCheckpoint vectorizes the checkpoint's remaining ids batch by batch,
// persisting progress after each batch. Per-resource writes are atomic
// upserts, so re-running an interrupted batch on resume is safe.
func (m *monitor) runCheckpoint(ctx context.Context, cp *models.SyncCheckpoint, force bool) error {
	remaining := cp.Remaining()
	for len(remaining) > 0 {
		n := m.batchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		batch := remaining[:n]

		_, failed, err := m.vectorizer.VectorizeMany(ctx, batch, force)
		if err != nil {
			// Context gone mid-batch: the checkpoint stays running at the
			// last completed batch and is resumed later.
			return fmt.Errorf("sync interrupted at %d/%d: %w",
				cp.Processed, len(cp.ChangedIDs), err)
		}
		if failed > 0 {
			m.logger.Warn("batch completed with failures",
				zap.Int("failed", failed),
				zap.Int("batch", n))
		}

		cp.Processed += n
		if err := m.checkpoints.Update(ctx, cp); err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
		remaining = remaining[n:]
	}

	now := time.Now()
	cp.Status = models.SyncStatusCompleted
	cp.CompletedAt = &now
	if err := m.checkpoints.Update(ctx, cp); err != nil {
		return fmt.Errorf("failed to complete checkpoint: %w", err)
	}

	m.logger.Info("sync complete",
		zap.String("checkpoint_id", cp.ID.String()),
		zap.String("kind", string(cp.Kind)),
		zap.Int("processed", cp.Processed))
	return nil
}

func (m *monitor) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	m.logger.Info("sync scheduler started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			if _, err := m.ResumeOrStart(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				m.logger.Error("scheduled sync failed", zap.Error(err))
			}
		}
	}
}
