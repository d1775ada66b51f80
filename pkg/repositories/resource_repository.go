package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/database"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// ResourceRepository provides data access for the resource catalog.
// Content fields are only written through Upsert, which the discovery
// coordinator owns.
type ResourceRepository interface {
	Upsert(ctx context.Context, r *models.Resource) error
	Get(ctx context.Context, resourceID string) (*models.Resource, error)
	GetByIDs(ctx context.Context, resourceIDs []string) ([]*models.Resource, error)
	ListAll(ctx context.Context) ([]*models.Resource, error)
	ListByVectorizationStatus(ctx context.Context, statuses ...models.VectorizationStatus) ([]*models.Resource, error)
	SetStatus(ctx context.Context, resourceIDs []string, status models.ResourceStatus) error
	SetVectorizationStatus(ctx context.Context, resourceID string, status models.VectorizationStatus) error
	PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error)
	CountByType(ctx context.Context) (map[models.ResourceType]int64, error)
	CountByStatus(ctx context.Context) (map[models.ResourceStatus]int64, error)
	CountByVectorizationStatus(ctx context.Context) (map[models.VectorizationStatus]int64, error)
}

type resourceRepository struct {
	db *database.DB
}

// NewResourceRepository creates a new ResourceRepository.
func NewResourceRepository(db *database.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

var _ ResourceRepository = (*resourceRepository)(nil)

const resourceColumns = `resource_id, resource_type, name, description, capabilities,
	usage_info, metadata, status, source_ref, vectorization_status, content_hash,
	created_at, updated_at, last_vectorized_at`

func (r *resourceRepository) Upsert(ctx context.Context, res *models.Resource) error {
	capabilities, usageInfo, metadata, err := marshalResourceJSON(res)
	if err != nil {
		return err
	}

	now := time.Now()
	res.UpdatedAt = now
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}

	query := `
		INSERT INTO engine_resources (
			resource_id, resource_type, name, description, capabilities,
			usage_info, metadata, status, source_ref, vectorization_status,
			content_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (resource_id)
		DO UPDATE SET
			resource_type = EXCLUDED.resource_type,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities,
			usage_info = EXCLUDED.usage_info,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			source_ref = EXCLUDED.source_ref,
			vectorization_status = EXCLUDED.vectorization_status,
			content_hash = EXCLUDED.content_hash,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	err = r.db.QueryRow(ctx, query,
		res.ResourceID, res.Type, res.Name, res.Description, capabilities,
		usageInfo, metadata, res.Status, res.SourceRef, res.VectorizationStatus,
		res.ContentHash, res.CreatedAt, res.UpdatedAt,
	).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", res.ResourceID, err)
	}

	return nil
}

func (r *resourceRepository) Get(ctx context.Context, resourceID string) (*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM engine_resources WHERE resource_id = $1`

	res, err := scanResource(r.db.QueryRow(ctx, query, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resource %s: %w", resourceID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resource %s: %w", resourceID, err)
	}
	return res, nil
}

func (r *resourceRepository) GetByIDs(ctx context.Context, resourceIDs []string) ([]*models.Resource, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + resourceColumns + ` FROM engine_resources
		WHERE resource_id = ANY($1) ORDER BY resource_id`

	return r.queryResources(ctx, query, resourceIDs)
}

func (r *resourceRepository) ListAll(ctx context.Context) ([]*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM engine_resources ORDER BY resource_id`
	return r.queryResources(ctx, query)
}

func (r *resourceRepository) ListByVectorizationStatus(ctx context.Context, statuses ...models.VectorizationStatus) ([]*models.Resource, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}

	query := `SELECT ` + resourceColumns + ` FROM engine_resources
		WHERE vectorization_status = ANY($1) AND status = 'active'
		ORDER BY resource_id`

	return r.queryResources(ctx, query, strs)
}

func (r *resourceRepository) SetStatus(ctx context.Context, resourceIDs []string, status models.ResourceStatus) error {
	if len(resourceIDs) == 0 {
		return nil
	}

	_, err := r.db.Exec(ctx, `
		UPDATE engine_resources SET status = $1, updated_at = now()
		WHERE resource_id = ANY($2)`, status, resourceIDs)
	if err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	return nil
}

func (r *resourceRepository) SetVectorizationStatus(ctx context.Context, resourceID string, status models.VectorizationStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE engine_resources SET vectorization_status = $1, updated_at = now()
		WHERE resource_id = $2`, status, resourceID)
	if err != nil {
		return fmt.Errorf("failed to set vectorization status for %s: %w", resourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, apperrors.ErrNotFound)
	}
	return nil
}

// PurgeInactive hard-deletes inactive resources whose last update is older
// than the cutoff. Vector rows go with them via ON DELETE CASCADE. This is
// the only hard-delete path in the engine.
func (r *resourceRepository) PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM engine_resources
		WHERE status = 'inactive' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge inactive resources: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *resourceRepository) CountByType(ctx context.Context) (map[models.ResourceType]int64, error) {
	counts := make(map[models.ResourceType]int64)
	err := r.countGrouped(ctx, `SELECT resource_type, COUNT(*) FROM engine_resources GROUP BY resource_type`,
		func(key string, n int64) { counts[models.ResourceType(key)] = n })
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *resourceRepository) CountByStatus(ctx context.Context) (map[models.ResourceStatus]int64, error) {
	counts := make(map[models.ResourceStatus]int64)
	err := r.countGrouped(ctx, `SELECT status, COUNT(*) FROM engine_resources GROUP BY status`,
		func(key string, n int64) { counts[models.ResourceStatus(key)] = n })
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *resourceRepository) CountByVectorizationStatus(ctx context.Context) (map[models.VectorizationStatus]int64, error) {
	counts := make(map[models.VectorizationStatus]int64)
	err := r.countGrouped(ctx, `SELECT vectorization_status, COUNT(*) FROM engine_resources GROUP BY vectorization_status`,
		func(key string, n int64) { counts[models.VectorizationStatus(key)] = n })
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *resourceRepository) countGrouped(ctx context.Context, query string, add func(key string, n int64)) error {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count resources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan count row: %w", err)
		}
		add(key, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating count rows: %w", err)
	}
	return nil
}

func (r *resourceRepository) queryResources(ctx context.Context, query string, args ...any) ([]*models.Resource, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	resources := make([]*models.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

func marshalResourceJSON(res *models.Resource) (capabilities, usageInfo, metadata []byte, err error) {
	caps := res.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capabilities, err = json.Marshal(caps)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	ui := res.UsageInfo
	if ui == nil {
		ui = map[string]any{}
	}
	usageInfo, err = json.Marshal(ui)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal usage_info: %w", err)
	}

	md := res.Metadata
	if md == nil {
		md = map[string]any{}
	}
	metadata, err = json.Marshal(md)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return capabilities, usageInfo, metadata, nil
}

func scanResource(row pgx.Row) (*models.Resource, error) {
	var res models.Resource
	var capabilities, usageInfo, metadata []byte

	err := row.Scan(
		&res.ResourceID, &res.Type, &res.Name, &res.Description, &capabilities,
		&usageInfo, &metadata, &res.Status, &res.SourceRef, &res.VectorizationStatus,
		&res.ContentHash, &res.CreatedAt, &res.UpdatedAt, &res.LastVectorizedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(capabilities, &res.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal(usageInfo, &res.UsageInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage_info: %w", err)
	}
	if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &res, nil
}
