package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/resource-engine/pkg/database"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// UsageRepository maintains per-resource, per-day usage aggregates. Counters
// are bumped in SQL so concurrent matches never lose increments.
type UsageRepository interface {
	// RecordMatch bumps the match counter for a resource on the given day
	// and folds the similarity and latency into the running averages.
	RecordMatch(ctx context.Context, resourceID string, day time.Time, similarity, durationMs float64) error
	// RecordSelection bumps the selection counter, plus the positive or
	// negative counter when the feedback says so.
	RecordSelection(ctx context.Context, resourceID string, day time.Time, feedback models.Feedback) error
	// SelectionRates returns selections/matches per resource over the
	// window. Resources with no stats rows are absent from the result.
	SelectionRates(ctx context.Context, resourceIDs []string, since time.Time) (map[string]float64, error)
	ListByResource(ctx context.Context, resourceID string, since time.Time) ([]*models.UsageStats, error)
	// Replace rebuilds the aggregate table from scratch.
	Replace(ctx context.Context, stats []*models.UsageStats) error
}

type usageRepository struct {
	db *database.DB
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *database.DB) UsageRepository {
	return &usageRepository{db: db}
}

var _ UsageRepository = (*usageRepository)(nil)

func (r *usageRepository) RecordMatch(ctx context.Context, resourceID string, day time.Time, similarity, durationMs float64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO engine_usage_stats (
			resource_id, day, match_count, selection_count, positive_count,
			negative_count, avg_similarity, avg_duration_ms
		) VALUES ($1, $2, 1, 0, 0, 0, $3, $4)
		ON CONFLICT (resource_id, day)
		DO UPDATE SET
			match_count = engine_usage_stats.match_count + 1,
			avg_similarity = (engine_usage_stats.avg_similarity * engine_usage_stats.match_count + EXCLUDED.avg_similarity)
				/ (engine_usage_stats.match_count + 1),
			avg_duration_ms = (engine_usage_stats.avg_duration_ms * engine_usage_stats.match_count + EXCLUDED.avg_duration_ms)
				/ (engine_usage_stats.match_count + 1)`,
		resourceID, day.UTC().Truncate(24*time.Hour), similarity, durationMs)
	if err != nil {
		return fmt.Errorf("failed to record match for %s: %w", resourceID, err)
	}
	return nil
}

func (r *usageRepository) RecordSelection(ctx context.Context, resourceID string, day time.Time, feedback models.Feedback) error {
	positive := 0
	negative := 0
	switch feedback {
	case models.FeedbackPositive:
		positive = 1
	case models.FeedbackNegative:
		negative = 1
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO engine_usage_stats (
			resource_id, day, match_count, selection_count, positive_count,
			negative_count, avg_similarity, avg_duration_ms
		) VALUES ($1, $2, 0, 1, $3, $4, 0, 0)
		ON CONFLICT (resource_id, day)
		DO UPDATE SET
			selection_count = engine_usage_stats.selection_count + 1,
			positive_count = engine_usage_stats.positive_count + EXCLUDED.positive_count,
			negative_count = engine_usage_stats.negative_count + EXCLUDED.negative_count`,
		resourceID, day.UTC().Truncate(24*time.Hour), positive, negative)
	if err != nil {
		return fmt.Errorf("failed to record selection for %s: %w", resourceID, err)
	}
	return nil
}

func (r *usageRepository) SelectionRates(ctx context.Context, resourceIDs []string, since time.Time) (map[string]float64, error) {
	if len(resourceIDs) == 0 {
		return map[string]float64{}, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT resource_id,
			COALESCE(SUM(selection_count)::float / NULLIF(SUM(match_count), 0), 0)
		FROM engine_usage_stats
		WHERE resource_id = ANY($1) AND day >= $2
		GROUP BY resource_id`,
		resourceIDs, since.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query selection rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var id string
		var rate float64
		if err := rows.Scan(&id, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan selection rate: %w", err)
		}
		rates[id] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating selection rates: %w", err)
	}
	return rates, nil
}

func (r *usageRepository) ListByResource(ctx context.Context, resourceID string, since time.Time) ([]*models.UsageStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT resource_id, day, match_count, selection_count, positive_count,
			negative_count, avg_similarity, avg_duration_ms
		FROM engine_usage_stats
		WHERE resource_id = $1 AND day >= $2
		ORDER BY day`,
		resourceID, since.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage stats for %s: %w", resourceID, err)
	}
	defer rows.Close()

	stats := make([]*models.UsageStats, 0)
	for rows.Next() {
		var s models.UsageStats
		err := rows.Scan(&s.ResourceID, &s.Day, &s.MatchCount, &s.SelectionCount,
			&s.PositiveCount, &s.NegativeCount, &s.AvgSimilarity, &s.AvgDurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage stats: %w", err)
		}
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage stats: %w", err)
	}
	return stats, nil
}

func (r *usageRepository) Replace(ctx context.Context, stats []*models.UsageStats) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM engine_usage_stats`); err != nil {
		return fmt.Errorf("failed to clear usage stats: %w", err)
	}

	for _, s := range stats {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_usage_stats (
				resource_id, day, match_count, selection_count, positive_count,
				negative_count, avg_similarity, avg_duration_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.ResourceID, s.Day.UTC().Truncate(24*time.Hour), s.MatchCount,
			s.SelectionCount, s.PositiveCount, s.NegativeCount,
			s.AvgSimilarity, s.AvgDurationMs)
		if err != nil {
			return fmt.Errorf("failed to insert usage stats for %s: %w", s.ResourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit usage stats rebuild: %w", err)
	}
	return nil
}
