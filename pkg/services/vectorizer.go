package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/embedding"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
	"github.com/ekaya-inc/resource-engine/pkg/retry"
	"github.com/ekaya-inc/resource-engine/pkg/workpool"
)

// Vectorizer embeds resource text facets and writes them to the vector
// index. Each resource's vectors are written atomically: a failure partway
// through leaves the previous vectors intact and searchable.
type Vectorizer interface {
	// VectorizeResource embeds one resource. With force false, facets whose
	// source text and model match the stored vector are skipped.
	VectorizeResource(ctx context.Context, resourceID string, force bool) error

	// VectorizeMany processes resources in parallel through the bounded
	// pool. Individual failures mark that resource failed and are counted,
	// not returned; the error is only non-nil when the context is done.
	VectorizeMany(ctx context.Context, resourceIDs []string, force bool) (succeeded, failed int, err error)

	// VectorizePending processes every active resource whose vectorization
	// is pending or previously failed.
	VectorizePending(ctx context.Context) (succeeded, failed int, err error)
}

type vectorizer struct {
	embedder   embedding.Client
	resources  repositories.ResourceRepository
	vectors    repositories.VectorRepository
	pool       *workpool.Pool
	maxRetries int
	logger     *zap.Logger
}

// NewVectorizer creates a new Vectorizer.
func NewVectorizer(
	cfg config.VectorizerConfig,
	embedder embedding.Client,
	resources repositories.ResourceRepository,
	vectors repositories.VectorRepository,
	logger *zap.Logger,
) Vectorizer {
	return &vectorizer{
		embedder:   embedder,
		resources:  resources,
		vectors:    vectors,
		pool:       workpool.New(workpool.Config{MaxConcurrent: cfg.Concurrency}, logger),
		maxRetries: cfg.MaxRetries,
		logger:     logger.Named("vectorizer"),
	}
}

var _ Vectorizer = (*vectorizer)(nil)

func (v *vectorizer) VectorizeResource(ctx context.Context, resourceID string, force bool) error {
	res, err := v.resources.Get(ctx, resourceID)
	if err != nil {
		return err
	}
	if res.Status != models.ResourceStatusActive {
		v.logger.Debug("skipping non-active resource",
			zap.String("resource_id", resourceID),
			zap.String("status", string(res.Status)))
		return nil
	}

	if err := v.resources.SetVectorizationStatus(ctx, resourceID, models.VectorizationProcessing); err != nil {
		return err
	}

	if err := v.vectorize(ctx, res, force); err != nil {
		// A shutdown mid-embed is not a provider failure; leave the status
		// alone so the resumed sync picks the resource up again.
		if ctx.Err() != nil {
			return fmt.Errorf("failed to vectorize %s: %w", resourceID, err)
		}
		// Stale vectors are left in place; the next sync cycle retries.
		if statusErr := v.resources.SetVectorizationStatus(ctx, resourceID, models.VectorizationFailed); statusErr != nil {
			v.logger.Error("failed to mark vectorization failed",
				zap.String("resource_id", resourceID),
				zap.Error(statusErr))
		}
		return fmt.Errorf("failed to vectorize %s: %w", resourceID, err)
	}

	return nil
}

func (v *vectorizer) vectorize(ctx context.Context, res *models.Resource, force bool) error {
	existingByType := make(map[models.VectorType]*models.ResourceVector)
	existing, err := v.vectors.GetByResource(ctx, res.ResourceID)
	if err != nil {
		return err
	}
	for _, vec := range existing {
		existingByType[vec.VectorType] = vec
	}

	var (
		embedTypes  []models.VectorType
		embedTexts  []string
		deleteTypes []models.VectorType
	)
	for _, vt := range models.AllVectorTypes() {
		text := models.BuildSourceText(res, vt)
		prev := existingByType[vt]

		if text == "" {
			// A facet that lost its signal drops its stored vector.
			if prev != nil {
				deleteTypes = append(deleteTypes, vt)
			}
			continue
		}
		if !force && prev != nil && prev.SourceText == text && prev.ModelName == v.embedder.Model() {
			continue
		}
		embedTypes = append(embedTypes, vt)
		embedTexts = append(embedTexts, text)
	}

	var rows []*models.ResourceVector
	if len(embedTexts) > 0 {
		// All facets of one resource go out as a single batch request.
		var embeddings [][]float32
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxRetries = v.maxRetries
		err := retry.DoIfRetryable(ctx, retryCfg, func() error {
			var embErr error
			embeddings, embErr = v.embedder.EmbedBatch(ctx, embedTexts)
			return embErr
		})
		if err != nil {
			return err
		}
		if len(embeddings) != len(embedTexts) {
			return fmt.Errorf("embedding provider returned %d vectors for %d texts", len(embeddings), len(embedTexts))
		}

		rows = make([]*models.ResourceVector, len(embedTypes))
		for i, vt := range embedTypes {
			rows[i] = &models.ResourceVector{
				ResourceID: res.ResourceID,
				VectorType: vt,
				SourceText: embedTexts[i],
				Embedding:  embeddings[i],
				ModelName:  v.embedder.Model(),
				Norm:       models.L2Norm(embeddings[i]),
			}
		}
	}

	// Also marks the resource completed, all in one transaction.
	if err := v.vectors.ReplaceForResource(ctx, res.ResourceID, rows, deleteTypes); err != nil {
		return err
	}

	v.logger.Debug("resource vectorized",
		zap.String("resource_id", res.ResourceID),
		zap.Int("embedded", len(rows)),
		zap.Int("deleted", len(deleteTypes)))
	return nil
}

func (v *vectorizer) VectorizeMany(ctx context.Context, resourceIDs []string, force bool) (int, int, error) {
	if len(resourceIDs) == 0 {
		return 0, 0, nil
	}

	items := make([]workpool.Item[struct{}], 0, len(resourceIDs))
	for _, id := range resourceIDs {
		id := id
		items = append(items, workpool.Item[struct{}]{
			ID: id,
			Execute: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, v.VectorizeResource(ctx, id, force)
			},
		})
	}

	results := workpool.Process(ctx, v.pool, items, nil)

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			v.logger.Warn("vectorization failed",
				zap.String("resource_id", r.ID),
				zap.Error(r.Err))
			continue
		}
		succeeded++
	}

	if err := ctx.Err(); err != nil {
		return succeeded, failed, err
	}
	return succeeded, failed, nil
}

func (v *vectorizer) VectorizePending(ctx context.Context) (int, int, error) {
	pending, err := v.resources.ListByVectorizationStatus(ctx,
		models.VectorizationPending, models.VectorizationFailed)
	if err != nil {
		return 0, 0, err
	}

	ids := make([]string, len(pending))
	for i, r := range pending {
		ids[i] = r.ResourceID
	}
	return v.VectorizeMany(ctx, ids, false)
}
