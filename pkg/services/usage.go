package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
)

// UsageTracker records match outcomes and maintains the per-resource usage
// aggregates the reranker reads. UsageStats is fully derived from match
// history and can be rebuilt from it at any time.
type UsageTracker interface {
	// RecordFeedback attaches a selection and feedback to a match record.
	// The selected resource must be one of the record's candidates, and
	// feedback is one-shot: a second call fails with ErrFeedbackAlreadySet.
	RecordFeedback(ctx context.Context, matchID uuid.UUID, selectedResourceID string, feedback models.Feedback) error

	// RebuildStats drops and re-derives the usage aggregates from the match
	// records of the trailing window.
	RebuildStats(ctx context.Context, days int) error
}

type usageTracker struct {
	matches repositories.MatchRepository
	usage   repositories.UsageRepository
	logger  *zap.Logger
}

// NewUsageTracker creates a new UsageTracker.
func NewUsageTracker(
	matches repositories.MatchRepository,
	usage repositories.UsageRepository,
	logger *zap.Logger,
) UsageTracker {
	return &usageTracker{
		matches: matches,
		usage:   usage,
		logger:  logger.Named("usage"),
	}
}

var _ UsageTracker = (*usageTracker)(nil)

func (u *usageTracker) RecordFeedback(ctx context.Context, matchID uuid.UUID, selectedResourceID string, feedback models.Feedback) error {
	switch feedback {
	case models.FeedbackPositive, models.FeedbackNegative, models.FeedbackNeutral:
	default:
		return fmt.Errorf("feedback %q: %w", feedback, apperrors.ErrInvalidFeedback)
	}

	rec, err := u.matches.Get(ctx, matchID)
	if err != nil {
		return err
	}

	found := false
	for _, id := range rec.CandidateIDs() {
		if id == selectedResourceID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("resource %s is not a candidate of match %s: %w",
			selectedResourceID, matchID, apperrors.ErrNotFound)
	}

	if err := u.matches.SetFeedback(ctx, matchID, selectedResourceID, feedback); err != nil {
		return err
	}

	if err := u.usage.RecordSelection(ctx, selectedResourceID, time.Now().UTC(), feedback); err != nil {
		// The match record already carries the feedback; the aggregate can
		// be recovered by RebuildStats.
		u.logger.Warn("failed to bump selection counters",
			zap.String("resource_id", selectedResourceID),
			zap.Error(err))
	}
	return nil
}

func (u *usageTracker) RebuildStats(ctx context.Context, days int) error {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	records, err := u.matches.ListSince(ctx, since)
	if err != nil {
		return err
	}

	type key struct {
		resourceID string
		day        time.Time
	}
	agg := make(map[key]*models.UsageStats)
	get := func(resourceID string, day time.Time) *models.UsageStats {
		k := key{resourceID, day}
		s, ok := agg[k]
		if !ok {
			s = &models.UsageStats{ResourceID: resourceID, Day: day}
			agg[k] = s
		}
		return s
	}

	for _, rec := range records {
		day := rec.CreatedAt.UTC().Truncate(24 * time.Hour)
		for _, c := range rec.Candidates {
			s := get(c.ResourceID, day)
			s.AvgSimilarity = (s.AvgSimilarity*float64(s.MatchCount) + c.BaseSimilarity) / float64(s.MatchCount+1)
			s.AvgDurationMs = (s.AvgDurationMs*float64(s.MatchCount) + float64(rec.DurationMs)) / float64(s.MatchCount+1)
			s.MatchCount++
		}

		if rec.SelectedResourceID == nil || rec.Feedback == models.FeedbackNone {
			continue
		}
		s := get(*rec.SelectedResourceID, day)
		s.SelectionCount++
		switch rec.Feedback {
		case models.FeedbackPositive:
			s.PositiveCount++
		case models.FeedbackNegative:
			s.NegativeCount++
		}
	}

	stats := make([]*models.UsageStats, 0, len(agg))
	for _, s := range agg {
		stats = append(stats, s)
	}

	if err := u.usage.Replace(ctx, stats); err != nil {
		return err
	}

	u.logger.Info("usage stats rebuilt",
		zap.Int("records", len(records)),
		zap.Int("aggregates", len(stats)),
		zap.Int("days", days))
	return nil
}
