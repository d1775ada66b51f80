package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
)

// Engine is the single entry point callers embed the resource engine
// through. It composes the matcher, the discovery coordinator, the monitor,
// and the usage tracker behind one surface; transports live outside.
type Engine interface {
	// MatchResources answers a natural-language query with ranked
	// candidates. The returned record's ID is the handle feedback is
	// recorded against.
	MatchResources(ctx context.Context, query string, topK int, minConfidence float64) (*models.MatchRecord, error)

	// SyncResources runs a sync: incremental by default, full discovery
	// plus forced re-vectorization when forceFull is set.
	SyncResources(ctx context.Context, forceFull bool) (*models.DiscoveryReport, error)

	// RecordFeedback attaches the caller's selection and outcome to a
	// previous match.
	RecordFeedback(ctx context.Context, matchID uuid.UUID, selectedResourceID string, feedback models.Feedback) error

	// PurgeInactive hard-deletes long-inactive resources.
	PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error)

	// GetStatistics reports catalog, vectorization, sync, and match-latency
	// counters for operators.
	GetStatistics(ctx context.Context) (*models.EngineStatistics, error)
}

type engine struct {
	matcher     Matcher
	discovery   DiscoveryCoordinator
	monitor     Monitor
	usage       UsageTracker
	resources   repositories.ResourceRepository
	vectors     repositories.VectorRepository
	matches     repositories.MatchRepository
	checkpoints repositories.CheckpointRepository
	statsWindow time.Duration
	logger      *zap.Logger
}

// NewEngine creates the engine facade over already-constructed services.
func NewEngine(
	cfg config.MatcherConfig,
	matcher Matcher,
	discovery DiscoveryCoordinator,
	monitor Monitor,
	usage UsageTracker,
	resources repositories.ResourceRepository,
	vectors repositories.VectorRepository,
	matches repositories.MatchRepository,
	checkpoints repositories.CheckpointRepository,
	logger *zap.Logger,
) Engine {
	windowDays := cfg.UsageWindowDays
	if windowDays <= 0 {
		windowDays = 30
	}
	return &engine{
		matcher:     matcher,
		discovery:   discovery,
		monitor:     monitor,
		usage:       usage,
		resources:   resources,
		vectors:     vectors,
		matches:     matches,
		checkpoints: checkpoints,
		statsWindow: time.Duration(windowDays) * 24 * time.Hour,
		logger:      logger.Named("engine"),
	}
}

var _ Engine = (*engine)(nil)

func (e *engine) MatchResources(ctx context.Context, query string, topK int, minConfidence float64) (*models.MatchRecord, error) {
	return e.matcher.Match(ctx, query, topK, minConfidence)
}

func (e *engine) SyncResources(ctx context.Context, forceFull bool) (*models.DiscoveryReport, error) {
	var (
		outcome *SyncOutcome
		err     error
	)
	if forceFull {
		outcome, err = e.monitor.FullResync(ctx)
	} else {
		outcome, err = e.monitor.ResumeOrStart(ctx)
	}
	if err != nil {
		return nil, err
	}

	// A resumed checkpoint carries no discovery report of its own.
	if outcome.Report == nil {
		outcome.Report = &models.DiscoveryReport{ByProvider: map[string]int{}}
	}
	return outcome.Report, nil
}

func (e *engine) RecordFeedback(ctx context.Context, matchID uuid.UUID, selectedResourceID string, feedback models.Feedback) error {
	return e.usage.RecordFeedback(ctx, matchID, selectedResourceID, feedback)
}

func (e *engine) PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	return e.discovery.PurgeInactive(ctx, olderThan)
}

func (e *engine) GetStatistics(ctx context.Context) (*models.EngineStatistics, error) {
	stats := &models.EngineStatistics{}

	var err error
	if stats.ResourcesByType, err = e.resources.CountByType(ctx); err != nil {
		return nil, err
	}
	if stats.ResourcesByStatus, err = e.resources.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if stats.VectorizationByStatus, err = e.resources.CountByVectorizationStatus(ctx); err != nil {
		return nil, err
	}
	if stats.VectorCount, err = e.vectors.Count(ctx); err != nil {
		return nil, err
	}

	// No checkpoint just means no sync has run yet; other errors propagate.
	cp, err := e.checkpoints.Latest(ctx)
	switch {
	case err == nil:
		stats.LastSyncStatus = cp.Status
		if cp.CompletedAt != nil {
			stats.LastSyncAt = cp.CompletedAt
		} else {
			stats.LastSyncAt = &cp.StartedAt
		}
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	since := time.Now().UTC().Add(-e.statsWindow)
	count, avgLatency, err := e.matches.StatsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	stats.MatchCount = count
	stats.AvgMatchLatencyMs = avgLatency

	return stats, nil
}
