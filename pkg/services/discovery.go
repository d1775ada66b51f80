package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/providers"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
	"github.com/ekaya-inc/resource-engine/pkg/workpool"
)

// DiscoveryCoordinator fans out to the registered providers, merges their
// results into a uniform view, and reconciles that view against the stored
// catalog by content hash. Providers are read-only; the coordinator is the
// only writer of resource content fields.
type DiscoveryCoordinator interface {
	// DiscoverAll runs every registered provider and reconciles the catalog.
	// Provider failures are isolated into the report; only storage failures
	// abort the run.
	DiscoverAll(ctx context.Context) (*models.DiscoveryReport, error)

	// PurgeInactive hard-deletes inactive resources older than the cutoff.
	// The only hard-delete path in the engine.
	PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error)
}

type discoveryCoordinator struct {
	registry  *providers.Registry
	resources repositories.ResourceRepository
	vectors   repositories.VectorRepository
	pool      *workpool.Pool
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDiscoveryCoordinator creates a new DiscoveryCoordinator.
func NewDiscoveryCoordinator(
	cfg config.DiscoveryConfig,
	registry *providers.Registry,
	resources repositories.ResourceRepository,
	vectors repositories.VectorRepository,
	logger *zap.Logger,
) DiscoveryCoordinator {
	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &discoveryCoordinator{
		registry:  registry,
		resources: resources,
		vectors:   vectors,
		pool:      workpool.New(workpool.Config{MaxConcurrent: cfg.Concurrency}, logger),
		timeout:   timeout,
		logger:    logger.Named("discovery"),
	}
}

var _ DiscoveryCoordinator = (*discoveryCoordinator)(nil)

func (d *discoveryCoordinator) DiscoverAll(ctx context.Context) (*models.DiscoveryReport, error) {
	started := time.Now()
	report := &models.DiscoveryReport{
		ByProvider: make(map[string]int),
	}

	provs := d.registry.Providers()
	resultsByName := d.enumerate(ctx, provs)

	// Merge in registration order so duplicate resolution is deterministic:
	// the first provider to claim a resource_id wins.
	succeededKinds := make(map[models.ResourceType]bool)
	seen := make(map[string]string) // resource_id -> provider name
	merged := make([]*models.Resource, 0)

	for _, p := range provs {
		res, ok := resultsByName[p.Name()]
		if !ok {
			continue
		}
		if res.err != nil {
			d.logger.Warn("provider failed, skipping its kind this run",
				zap.String("provider", p.Name()),
				zap.Error(res.err))
			report.Errors = append(report.Errors, models.ProviderError{
				Provider: p.Name(),
				Message:  res.err.Error(),
			})
			continue
		}

		succeededKinds[p.Kind()] = true
		report.ByProvider[p.Name()] = len(res.resources)

		for _, r := range res.resources {
			if owner, dup := seen[r.ResourceID]; dup {
				report.Errors = append(report.Errors, models.ProviderError{
					Provider: p.Name(),
					Message:  fmt.Sprintf("duplicate resource_id %s already provided by %s", r.ResourceID, owner),
				})
				continue
			}
			seen[r.ResourceID] = p.Name()
			merged = append(merged, r)
		}
	}

	if err := d.reconcile(ctx, merged, succeededKinds, report); err != nil {
		return nil, err
	}

	report.Duration = time.Since(started)
	d.logger.Info("discovery run complete",
		zap.Int("discovered", report.Discovered),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("deactivated", report.Deactivated),
		zap.Int("provider_errors", len(report.Errors)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

type providerResult struct {
	resources []*models.Resource
	err       error
}

// enumerate runs all providers through the bounded pool, each under its own
// timeout, and returns results keyed by provider name.
func (d *discoveryCoordinator) enumerate(ctx context.Context, provs []providers.ResourceProvider) map[string]providerResult {
	items := make([]workpool.Item[[]*models.Resource], 0, len(provs))
	for _, p := range provs {
		p := p
		items = append(items, workpool.Item[[]*models.Resource]{
			ID: p.Name(),
			Execute: func(ctx context.Context) ([]*models.Resource, error) {
				ctx, cancel := context.WithTimeout(ctx, d.timeout)
				defer cancel()
				return p.Discover(ctx)
			},
		})
	}

	results := workpool.Process(ctx, d.pool, items, nil)

	byName := make(map[string]providerResult, len(results))
	for _, r := range results {
		byName[r.ID] = providerResult{resources: r.Result, err: r.Err}
	}
	return byName
}

// reconcile applies the merged provider view to the stored catalog.
func (d *discoveryCoordinator) reconcile(ctx context.Context, merged []*models.Resource, succeededKinds map[models.ResourceType]bool, report *models.DiscoveryReport) error {
	existing, err := d.resources.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog for reconcile: %w", err)
	}
	existingByID := make(map[string]*models.Resource, len(existing))
	for _, r := range existing {
		existingByID[r.ResourceID] = r
	}

	seen := make(map[string]bool, len(merged))
	for _, r := range merged {
		seen[r.ResourceID] = true
		r.ContentHash = r.ComputeContentHash()

		prev, exists := existingByID[r.ResourceID]
		switch {
		case !exists:
			r.Status = models.ResourceStatusActive
			r.VectorizationStatus = models.VectorizationPending
			if err := d.resources.Upsert(ctx, r); err != nil {
				return err
			}
			report.Discovered++

		case prev.ContentHash == r.ContentHash && prev.Status == models.ResourceStatusActive:
			// Byte-identical content re-seen: no write at all.
			report.Unchanged++

		default:
			// Content changed, or the resource is coming back from
			// inactive/error. Either way it needs fresh vectors.
			r.Status = models.ResourceStatusActive
			r.VectorizationStatus = models.VectorizationPending
			r.CreatedAt = prev.CreatedAt
			if err := d.resources.Upsert(ctx, r); err != nil {
				return err
			}
			report.Updated++
		}
	}

	// Absence is only meaningful for kinds whose provider succeeded; a
	// failed provider must not deactivate its kind's resources.
	var deactivate []string
	for _, prev := range existing {
		if prev.Status != models.ResourceStatusActive {
			continue
		}
		if seen[prev.ResourceID] || !succeededKinds[prev.Type] {
			continue
		}
		deactivate = append(deactivate, prev.ResourceID)
	}

	if len(deactivate) > 0 {
		if err := d.resources.SetStatus(ctx, deactivate, models.ResourceStatusInactive); err != nil {
			return err
		}
		for _, id := range deactivate {
			if err := d.vectors.DeleteByResource(ctx, id); err != nil {
				return err
			}
		}
		report.Deactivated = len(deactivate)
	}

	return nil
}

func (d *discoveryCoordinator) PurgeInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := d.resources.PurgeInactive(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("purged inactive resources",
			zap.Int64("count", n),
			zap.Time("older_than", olderThan))
	}
	return n, nil
}
