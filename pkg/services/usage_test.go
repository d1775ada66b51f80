package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

func seedMatchRecord(t *testing.T, f *fakes, candidateIDs ...string) *models.MatchRecord {
	t.Helper()
	candidates := make([]*models.MatchCandidate, len(candidateIDs))
	for i, id := range candidateIDs {
		candidates[i] = &models.MatchCandidate{
			ResourceID:     id,
			BaseSimilarity: 0.5,
			FinalScore:     0.4,
		}
	}
	rec := &models.MatchRecord{
		QueryText:  "some query",
		QueryHash:  models.HashQuery("some query"),
		Candidates: candidates,
		DurationMs: 20,
	}
	require.NoError(t, f.matches.Insert(context.Background(), rec))
	return rec
}

func TestRecordFeedbackIsOneShot(t *testing.T) {
	f := newFakes()
	u := NewUsageTracker(f.matches, f.usage, zap.NewNop())
	rec := seedMatchRecord(t, f, "tool_a", "tool_b")

	require.NoError(t, u.RecordFeedback(context.Background(), rec.ID, "tool_b", models.FeedbackPositive))

	stored, err := f.matches.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SelectedResourceID)
	assert.Equal(t, "tool_b", *stored.SelectedResourceID)
	assert.Equal(t, models.FeedbackPositive, stored.Feedback)
	assert.NotNil(t, stored.FeedbackAt)

	// The second attempt is a conflict regardless of its content.
	err = u.RecordFeedback(context.Background(), rec.ID, "tool_a", models.FeedbackNegative)
	assert.ErrorIs(t, err, apperrors.ErrFeedbackAlreadySet)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	stored, err = f.matches.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "tool_b", *stored.SelectedResourceID)
}

func TestRecordFeedbackValidatesSelection(t *testing.T) {
	f := newFakes()
	u := NewUsageTracker(f.matches, f.usage, zap.NewNop())
	rec := seedMatchRecord(t, f, "tool_a")

	err := u.RecordFeedback(context.Background(), rec.ID, "tool_never_offered", models.FeedbackPositive)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = u.RecordFeedback(context.Background(), uuid.New(), "tool_a", models.FeedbackPositive)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = u.RecordFeedback(context.Background(), rec.ID, "tool_a", models.Feedback("amazing"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidFeedback)
	assert.NotErrorIs(t, err, apperrors.ErrInvalidQuery)
}

func TestRecordFeedbackBumpsSelectionCounters(t *testing.T) {
	f := newFakes()
	u := NewUsageTracker(f.matches, f.usage, zap.NewNop())

	recA := seedMatchRecord(t, f, "tool_a")
	recB := seedMatchRecord(t, f, "tool_a")
	require.NoError(t, u.RecordFeedback(context.Background(), recA.ID, "tool_a", models.FeedbackPositive))
	require.NoError(t, u.RecordFeedback(context.Background(), recB.ID, "tool_a", models.FeedbackNegative))

	stats, err := f.usage.ListByResource(context.Background(), "tool_a", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].SelectionCount)
	assert.Equal(t, int64(1), stats[0].PositiveCount)
	assert.Equal(t, int64(1), stats[0].NegativeCount)
}

func TestRebuildStatsDerivesFromMatchHistory(t *testing.T) {
	f := newFakes()
	u := NewUsageTracker(f.matches, f.usage, zap.NewNop())

	// Two matches offering tool_a; one selected it.
	recA := seedMatchRecord(t, f, "tool_a", "tool_b")
	seedMatchRecord(t, f, "tool_a")
	require.NoError(t, u.RecordFeedback(context.Background(), recA.ID, "tool_a", models.FeedbackPositive))

	// Plant a bogus aggregate that the rebuild must wipe out.
	require.NoError(t, f.usage.RecordMatch(context.Background(), "tool_ghost", time.Now().UTC(), 0.9, 5))

	require.NoError(t, u.RebuildStats(context.Background(), 7))

	since := time.Now().Add(-24 * time.Hour)
	statsA, err := f.usage.ListByResource(context.Background(), "tool_a", since)
	require.NoError(t, err)
	require.Len(t, statsA, 1)
	assert.Equal(t, int64(2), statsA[0].MatchCount)
	assert.Equal(t, int64(1), statsA[0].SelectionCount)
	assert.Equal(t, int64(1), statsA[0].PositiveCount)
	assert.InDelta(t, 0.5, statsA[0].AvgSimilarity, 1e-9)
	assert.InDelta(t, 20, statsA[0].AvgDurationMs, 1e-9)

	statsB, err := f.usage.ListByResource(context.Background(), "tool_b", since)
	require.NoError(t, err)
	require.Len(t, statsB, 1)
	assert.Equal(t, int64(1), statsB[0].MatchCount)
	assert.Equal(t, int64(0), statsB[0].SelectionCount)

	ghost, err := f.usage.ListByResource(context.Background(), "tool_ghost", since)
	require.NoError(t, err)
	assert.Empty(t, ghost)

	rates, err := f.usage.SelectionRates(context.Background(), []string{"tool_a", "tool_b"}, since)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rates["tool_a"], 1e-9)
	assert.InDelta(t, 0.0, rates["tool_b"], 1e-9)
}
