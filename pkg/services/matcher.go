package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/embedding"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
)

const defaultTopK = 10

// Matcher answers natural-language queries with ranked resource candidates.
// One query costs one embedding (cached) plus one ANN search per vector type;
// the reranking signals come from stored aggregates and metadata only.
type Matcher interface {
	// Match returns the persisted record of one match call, candidates
	// ranked by final confidence. A blank or oversized query is rejected
	// with ErrInvalidQuery before any embedding work.
	Match(ctx context.Context, query string, topK int, minConfidence float64) (*models.MatchRecord, error)
}

type matcher struct {
	cfg       config.MatcherConfig
	embedder  embedding.Client
	cache     embedding.Cache
	resources repositories.ResourceRepository
	vectors   repositories.VectorRepository
	usage     repositories.UsageRepository
	matches   repositories.MatchRepository
	relevance RelevanceScorer
	logger    *zap.Logger
}

// NewMatcher creates a new Matcher. cache may be embedding.NoopCache when no
// redis is configured; relevance defaults to lexical overlap when nil.
func NewMatcher(
	cfg config.MatcherConfig,
	embedder embedding.Client,
	cache embedding.Cache,
	resources repositories.ResourceRepository,
	vectors repositories.VectorRepository,
	usage repositories.UsageRepository,
	matches repositories.MatchRepository,
	relevance RelevanceScorer,
	logger *zap.Logger,
) Matcher {
	if cache == nil {
		cache = embedding.NoopCache{}
	}
	if relevance == nil {
		relevance = NewLexicalOverlapRelevance()
	}
	return &matcher{
		cfg:       cfg,
		embedder:  embedder,
		cache:     cache,
		resources: resources,
		vectors:   vectors,
		usage:     usage,
		matches:   matches,
		relevance: relevance,
		logger:    logger.Named("matcher"),
	}
}

var _ Matcher = (*matcher)(nil)

func (m *matcher) Match(ctx context.Context, query string, topK int, minConfidence float64) (*models.MatchRecord, error) {
	started := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is blank: %w", apperrors.ErrInvalidQuery)
	}
	if m.cfg.MaxQueryChars > 0 && len(query) > m.cfg.MaxQueryChars {
		return nil, fmt.Errorf("query exceeds %d characters: %w", m.cfg.MaxQueryChars, apperrors.ErrInvalidQuery)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVec, err := m.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	similarities, err := m.searchAll(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}

	candidates, err := m.scoreCandidates(ctx, query, similarities)
	if err != nil {
		return nil, err
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.FinalScore >= minConfidence {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].FinalScore != filtered[j].FinalScore {
			return filtered[i].FinalScore > filtered[j].FinalScore
		}
		return filtered[i].ResourceID < filtered[j].ResourceID
	})
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	rec := &models.MatchRecord{
		QueryText:  query,
		QueryHash:  models.HashQuery(query),
		Candidates: filtered,
		Feedback:   models.FeedbackNone,
		DurationMs: time.Since(started).Milliseconds(),
	}

	// Bookkeeping failures degrade the audit trail, not the match.
	if err := m.matches.Insert(ctx, rec); err != nil {
		m.logger.Error("failed to persist match record", zap.Error(err))
	}
	day := time.Now().UTC()
	for _, c := range filtered {
		if err := m.usage.RecordMatch(ctx, c.ResourceID, day, c.BaseSimilarity, float64(rec.DurationMs)); err != nil {
			m.logger.Warn("failed to record match usage",
				zap.String("resource_id", c.ResourceID),
				zap.Error(err))
		}
	}

	return rec, nil
}

// queryEmbedding returns the embedding for a query, going through the TTL
// cache first. Cache failures fall through to the provider.
func (m *matcher) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if cached, err := m.cache.Get(ctx, m.embedder.Model(), query); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		m.logger.Warn("query embedding cache read failed", zap.Error(err))
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := m.cache.Set(ctx, m.embedder.Model(), query, vec); err != nil {
		m.logger.Warn("query embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

// searchAll queries every vector type's sub-index and folds the hits into a
// per-resource similarity map. One failed sub-index degrades that facet to
// absent; all failing is fatal.
func (m *matcher) searchAll(ctx context.Context, queryVec []float32, topK int) (map[string]map[models.VectorType]float64, error) {
	similarities := make(map[string]map[models.VectorType]float64)
	failures := 0

	// Over-fetch per type so a candidate strong in one facet but weak in
	// another still survives the merge.
	perTypeLimit := topK * 2

	for _, vt := range models.AllVectorTypes() {
		hits, err := m.vectors.Search(ctx, vt, queryVec, perTypeLimit)
		if err != nil {
			failures++
			m.logger.Warn("vector search degraded",
				zap.String("vector_type", string(vt)),
				zap.Error(err))
			continue
		}
		for _, h := range hits {
			if similarities[h.ResourceID] == nil {
				similarities[h.ResourceID] = make(map[models.VectorType]float64)
			}
			similarities[h.ResourceID][vt] = h.Similarity
		}
	}

	if failures == len(models.AllVectorTypes()) {
		return nil, apperrors.ErrAllIndexesUnavailable
	}
	return similarities, nil
}

func (m *matcher) scoreCandidates(ctx context.Context, query string, similarities map[string]map[models.VectorType]float64) ([]*models.MatchCandidate, error) {
	if len(similarities) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(similarities))
	for id := range similarities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resources, err := m.resources.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	windowDays := m.cfg.UsageWindowDays
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	rates, err := m.usage.SelectionRates(ctx, ids, since)
	if err != nil {
		// No history is a zero signal; a broken aggregate table should
		// degrade the same way.
		m.logger.Warn("selection rates unavailable", zap.Error(err))
		rates = map[string]float64{}
	}

	candidates := make([]*models.MatchCandidate, 0, len(resources))
	for _, res := range resources {
		sims := similarities[res.ResourceID]

		base := 0.0
		for vt, sim := range sims {
			base += m.vectorWeight(vt) * sim
		}

		c := &models.MatchCandidate{
			ResourceID:       res.ResourceID,
			Name:             res.Name,
			Type:             res.Type,
			Description:      res.Description,
			Capabilities:     res.Capabilities,
			UsageInfo:        res.UsageInfo,
			Similarities:     sims,
			BaseSimilarity:   base,
			UsagePreference:  rates[res.ResourceID],
			PerformanceScore: performanceScore(res),
			ContextRelevance: m.relevance.Score(query, res),
		}
		c.FinalScore = m.cfg.Rerank.Similarity*c.BaseSimilarity +
			m.cfg.Rerank.Usage*c.UsagePreference +
			m.cfg.Rerank.Performance*c.PerformanceScore +
			m.cfg.Rerank.Context*c.ContextRelevance
		candidates = append(candidates, c)
	}

	return candidates, nil
}

func (m *matcher) vectorWeight(vt models.VectorType) float64 {
	switch vt {
	case models.VectorTypeName:
		return m.cfg.Weights.Name
	case models.VectorTypeDescription:
		return m.cfg.Weights.Description
	case models.VectorTypeCapabilities:
		return m.cfg.Weights.Capabilities
	case models.VectorTypeComposite:
		return m.cfg.Weights.Composite
	default:
		return 0
	}
}

// performanceScore blends the success_rate and avg_response_time_ms metadata
// a registry may publish. Latency maps through 1/(1+ms/1000), so 0ms scores
// 1.0 and one second scores 0.5. Resources publishing neither score 0.
func performanceScore(res *models.Resource) float64 {
	success, hasSuccess := res.MetadataFloat("success_rate")
	latencyMs, hasLatency := res.MetadataFloat("avg_response_time_ms")

	latencyScore := 0.0
	if hasLatency && latencyMs >= 0 {
		latencyScore = 1.0 / (1.0 + latencyMs/1000.0)
	}

	switch {
	case hasSuccess && hasLatency:
		return 0.7*success + 0.3*latencyScore
	case hasSuccess:
		return success
	case hasLatency:
		return latencyScore
	default:
		return 0
	}
}
