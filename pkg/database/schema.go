package database

import (
	"context"
	"fmt"
)

// EnsureSchema bootstraps the engine's tables and indexes. Statements are
// idempotent (IF NOT EXISTS), so startup after a partial bootstrap is safe.
// dim is the fixed embedding dimension; if the vector table already exists
// with a different dimension the engine refuses to start, because mixing
// embedding models in one catalog is never valid.
func EnsureSchema(ctx context.Context, db *DB, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS engine_resources (
			resource_id          TEXT PRIMARY KEY,
			resource_type        TEXT NOT NULL,
			name                 TEXT NOT NULL DEFAULT '',
			description          TEXT NOT NULL DEFAULT '',
			capabilities         JSONB NOT NULL DEFAULT '[]',
			usage_info           JSONB NOT NULL DEFAULT '{}',
			metadata             JSONB NOT NULL DEFAULT '{}',
			status               TEXT NOT NULL DEFAULT 'active',
			source_ref           TEXT NOT NULL DEFAULT '',
			vectorization_status TEXT NOT NULL DEFAULT 'pending',
			content_hash         TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_vectorized_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_resources_type_status
			ON engine_resources (resource_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_resources_vectorization
			ON engine_resources (vectorization_status)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS engine_resource_vectors (
			resource_id TEXT NOT NULL REFERENCES engine_resources(resource_id) ON DELETE CASCADE,
			vector_type TEXT NOT NULL,
			source_text TEXT NOT NULL,
			embedding   VECTOR(%d) NOT NULL,
			model_name  TEXT NOT NULL,
			norm        DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (resource_id, vector_type)
		)`, dim),

		`CREATE TABLE IF NOT EXISTS engine_match_records (
			id                   UUID PRIMARY KEY,
			query_text           TEXT NOT NULL,
			query_hash           TEXT NOT NULL,
			candidates           JSONB NOT NULL DEFAULT '[]',
			selected_resource_id TEXT,
			feedback             TEXT NOT NULL DEFAULT 'none',
			duration_ms          BIGINT NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			feedback_at          TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_match_records_created
			ON engine_match_records (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_match_records_query_hash
			ON engine_match_records (query_hash)`,

		`CREATE TABLE IF NOT EXISTS engine_usage_stats (
			resource_id     TEXT NOT NULL,
			day             DATE NOT NULL,
			match_count     BIGINT NOT NULL DEFAULT 0,
			selection_count BIGINT NOT NULL DEFAULT 0,
			positive_count  BIGINT NOT NULL DEFAULT 0,
			negative_count  BIGINT NOT NULL DEFAULT 0,
			avg_similarity  DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (resource_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS engine_sync_checkpoints (
			id           UUID PRIMARY KEY,
			kind         TEXT NOT NULL,
			status       TEXT NOT NULL,
			changed_ids  JSONB NOT NULL DEFAULT '[]',
			processed    INT NOT NULL DEFAULT 0,
			batch_size   INT NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_sync_checkpoints_status
			ON engine_sync_checkpoints (status, started_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// One HNSW sub-index per vector type. The matcher never searches across
	// types, so partial indexes keep each logical index small.
	for _, vt := range []string{"name", "description", "capabilities", "composite"} {
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_engine_vectors_hnsw_%s
			ON engine_resource_vectors USING hnsw (embedding vector_cosine_ops)
			WHERE vector_type = '%s'`, vt, vt)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create hnsw index for %s: %w", vt, err)
		}
	}

	if err := checkEmbeddingDimension(ctx, db, dim); err != nil {
		return err
	}

	return nil
}

// checkEmbeddingDimension verifies an existing embedding column matches the
// configured dimension. For vector columns, atttypmod is the dimension.
func checkEmbeddingDimension(ctx context.Context, db *DB, dim int) error {
	var existing int
	err := db.QueryRow(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'engine_resource_vectors'::regclass
		  AND attname = 'embedding'`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to read embedding column dimension: %w", err)
	}

	if existing != dim {
		return fmt.Errorf("embedding column has dimension %d but configuration says %d; "+
			"changing the embedding model requires a full re-vectorization into a fresh vector table",
			existing, dim)
	}

	return nil
}
