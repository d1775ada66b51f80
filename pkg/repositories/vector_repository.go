package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ekaya-inc/resource-engine/pkg/database"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// SearchHit is a single nearest-neighbor result from one vector index.
type SearchHit struct {
	ResourceID string
	Similarity float64
}

// VectorRepository stores resource embeddings and serves approximate
// nearest-neighbor search over them. Each vector type is backed by its own
// partial HNSW index, so a Search only ever touches one index.
type VectorRepository interface {
	// ReplaceForResource atomically applies a vectorization result for one
	// resource: the given vectors are upserted, the listed stale types are
	// removed, and the resource is marked as vectorized, all in one
	// transaction. A failure leaves the previous vectors intact.
	ReplaceForResource(ctx context.Context, resourceID string, vectors []*models.ResourceVector, deleteTypes []models.VectorType) error
	GetByResource(ctx context.Context, resourceID string) ([]*models.ResourceVector, error)
	DeleteByResource(ctx context.Context, resourceID string) error
	// Search returns the resources nearest to the query embedding under
	// cosine similarity, restricted to one vector type and to active
	// resources. A stored vector row is searchable regardless of the
	// resource's vectorization status: a failed re-vectorization leaves the
	// previous vectors serving until the next successful run.
	Search(ctx context.Context, vectorType models.VectorType, query []float32, limit int) ([]SearchHit, error)
	Count(ctx context.Context) (int64, error)
}

type vectorRepository struct {
	db *database.DB
}

// NewVectorRepository creates a new VectorRepository.
func NewVectorRepository(db *database.DB) VectorRepository {
	return &vectorRepository{db: db}
}

var _ VectorRepository = (*vectorRepository)(nil)

func (r *vectorRepository) ReplaceForResource(ctx context.Context, resourceID string, vectors []*models.ResourceVector, deleteTypes []models.VectorType) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	for _, v := range vectors {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_resource_vectors (
				resource_id, vector_type, embedding, source_text, model_name, norm,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (resource_id, vector_type)
			DO UPDATE SET
				embedding = EXCLUDED.embedding,
				source_text = EXCLUDED.source_text,
				model_name = EXCLUDED.model_name,
				norm = EXCLUDED.norm,
				updated_at = EXCLUDED.updated_at`,
			resourceID, v.VectorType, pgvector.NewVector(v.Embedding),
			v.SourceText, v.ModelName, v.Norm, now)
		if err != nil {
			return fmt.Errorf("failed to upsert %s vector for %s: %w", v.VectorType, resourceID, err)
		}
	}

	if len(deleteTypes) > 0 {
		types := make([]string, len(deleteTypes))
		for i, t := range deleteTypes {
			types[i] = string(t)
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM engine_resource_vectors
			WHERE resource_id = $1 AND vector_type = ANY($2)`, resourceID, types)
		if err != nil {
			return fmt.Errorf("failed to delete stale vectors for %s: %w", resourceID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE engine_resources
		SET vectorization_status = 'completed', last_vectorized_at = $2, updated_at = $2
		WHERE resource_id = $1`, resourceID, now)
	if err != nil {
		return fmt.Errorf("failed to mark resource %s vectorized: %w", resourceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit vector replacement for %s: %w", resourceID, err)
	}
	return nil
}

func (r *vectorRepository) GetByResource(ctx context.Context, resourceID string) ([]*models.ResourceVector, error) {
	rows, err := r.db.Query(ctx, `
		SELECT resource_id, vector_type, embedding, source_text, model_name, norm,
			created_at, updated_at
		FROM engine_resource_vectors
		WHERE resource_id = $1
		ORDER BY vector_type`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors for %s: %w", resourceID, err)
	}
	defer rows.Close()

	vectors := make([]*models.ResourceVector, 0)
	for rows.Next() {
		var v models.ResourceVector
		var embedding pgvector.Vector
		err := rows.Scan(&v.ResourceID, &v.VectorType, &embedding, &v.SourceText,
			&v.ModelName, &v.Norm, &v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		v.Embedding = embedding.Slice()
		vectors = append(vectors, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vector rows: %w", err)
	}
	return vectors, nil
}

func (r *vectorRepository) DeleteByResource(ctx context.Context, resourceID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM engine_resource_vectors WHERE resource_id = $1`, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors for %s: %w", resourceID, err)
	}
	return nil
}

func (r *vectorRepository) Search(ctx context.Context, vectorType models.VectorType, query []float32, limit int) ([]SearchHit, error) {
	// <=> is cosine distance; the WHERE clause on vector_type keeps the
	// plan on the matching partial HNSW index.
	rows, err := r.db.Query(ctx, `
		SELECT v.resource_id, 1 - (v.embedding <=> $1) AS similarity
		FROM engine_resource_vectors v
		JOIN engine_resources r ON r.resource_id = v.resource_id
		WHERE v.vector_type = $2
			AND r.status = 'active'
		ORDER BY v.embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(query), vectorType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s vectors: %w", vectorType, err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0, limit)
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ResourceID, &h.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search hits: %w", err)
	}
	return hits, nil
}

func (r *vectorRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM engine_resource_vectors`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}
