package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/resource-engine/pkg/apperrors"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
)

// fakeData is the shared in-memory state behind the repository fakes, so a
// test exercises the same data through every repository the way the real
// implementations share one database.
type fakeData struct {
	mu          sync.Mutex
	resources   map[string]*models.Resource
	vectors     map[string]map[models.VectorType]*models.ResourceVector
	matches     map[uuid.UUID]*models.MatchRecord
	usage       map[string]*models.UsageStats // key: resourceID + "|" + day
	checkpoints []*models.SyncCheckpoint
}

type fakes struct {
	data        *fakeData
	resources   *fakeResourceRepo
	vectors     *fakeVectorRepo
	matches     *fakeMatchRepo
	usage       *fakeUsageRepo
	checkpoints *fakeCheckpointRepo
}

func newFakes() *fakes {
	data := &fakeData{
		resources: make(map[string]*models.Resource),
		vectors:   make(map[string]map[models.VectorType]*models.ResourceVector),
		matches:   make(map[uuid.UUID]*models.MatchRecord),
		usage:     make(map[string]*models.UsageStats),
	}
	return &fakes{
		data:        data,
		resources:   &fakeResourceRepo{data: data},
		vectors:     &fakeVectorRepo{data: data},
		matches:     &fakeMatchRepo{data: data},
		usage:       &fakeUsageRepo{data: data},
		checkpoints: &fakeCheckpointRepo{data: data},
	}
}

func cloneResource(r *models.Resource) *models.Resource {
	c := *r
	c.Capabilities = append([]string(nil), r.Capabilities...)
	if r.UsageInfo != nil {
		c.UsageInfo = make(map[string]any, len(r.UsageInfo))
		for k, v := range r.UsageInfo {
			c.UsageInfo[k] = v
		}
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

type fakeResourceRepo struct {
	data *fakeData
}

var _ repositories.ResourceRepository = (*fakeResourceRepo)(nil)

func (f *fakeResourceRepo) Upsert(_ context.Context, r *models.Resource) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	now := time.Now()
	r.UpdatedAt = now
	if prev, ok := f.data.resources[r.ResourceID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	f.data.resources[r.ResourceID] = cloneResource(r)
	return nil
}

func (f *fakeResourceRepo) Get(_ context.Context, id string) (*models.Resource, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	r, ok := f.data.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneResource(r), nil
}

func (f *fakeResourceRepo) GetByIDs(_ context.Context, ids []string) ([]*models.Resource, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make([]*models.Resource, 0, len(ids))
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if r, ok := f.data.resources[id]; ok {
			out = append(out, cloneResource(r))
		}
	}
	return out, nil
}

func (f *fakeResourceRepo) ListAll(_ context.Context) ([]*models.Resource, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make([]*models.Resource, 0, len(f.data.resources))
	for _, r := range f.data.resources {
		out = append(out, cloneResource(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (f *fakeResourceRepo) ListByVectorizationStatus(_ context.Context, statuses ...models.VectorizationStatus) ([]*models.Resource, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	want := make(map[models.VectorizationStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	out := make([]*models.Resource, 0)
	for _, r := range f.data.resources {
		if r.Status == models.ResourceStatusActive && want[r.VectorizationStatus] {
			out = append(out, cloneResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (f *fakeResourceRepo) SetStatus(_ context.Context, ids []string, status models.ResourceStatus) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	for _, id := range ids {
		if r, ok := f.data.resources[id]; ok {
			r.Status = status
			r.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (f *fakeResourceRepo) SetVectorizationStatus(_ context.Context, id string, status models.VectorizationStatus) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	r, ok := f.data.resources[id]
	if !ok {
		return fmt.Errorf("resource %s: %w", id, apperrors.ErrNotFound)
	}
	r.VectorizationStatus = status
	return nil
}

func (f *fakeResourceRepo) PurgeInactive(_ context.Context, olderThan time.Time) (int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	var n int64
	for id, r := range f.data.resources {
		if r.Status == models.ResourceStatusInactive && r.UpdatedAt.Before(olderThan) {
			delete(f.data.resources, id)
			delete(f.data.vectors, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeResourceRepo) CountByType(_ context.Context) (map[models.ResourceType]int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make(map[models.ResourceType]int64)
	for _, r := range f.data.resources {
		out[r.Type]++
	}
	return out, nil
}

func (f *fakeResourceRepo) CountByStatus(_ context.Context) (map[models.ResourceStatus]int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make(map[models.ResourceStatus]int64)
	for _, r := range f.data.resources {
		out[r.Status]++
	}
	return out, nil
}

func (f *fakeResourceRepo) CountByVectorizationStatus(_ context.Context) (map[models.VectorizationStatus]int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make(map[models.VectorizationStatus]int64)
	for _, r := range f.data.resources {
		out[r.VectorizationStatus]++
	}
	return out, nil
}

type fakeVectorRepo struct {
	data *fakeData

	// searchErr injects a per-type failure into Search.
	searchErr map[models.VectorType]error
}

var _ repositories.VectorRepository = (*fakeVectorRepo)(nil)

func (f *fakeVectorRepo) ReplaceForResource(_ context.Context, resourceID string, vectors []*models.ResourceVector, deleteTypes []models.VectorType) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	now := time.Now()
	byType := f.data.vectors[resourceID]
	if byType == nil {
		byType = make(map[models.VectorType]*models.ResourceVector)
		f.data.vectors[resourceID] = byType
	}
	for _, v := range vectors {
		c := *v
		c.Embedding = append([]float32(nil), v.Embedding...)
		c.UpdatedAt = now
		byType[v.VectorType] = &c
	}
	for _, t := range deleteTypes {
		delete(byType, t)
	}

	if r, ok := f.data.resources[resourceID]; ok {
		r.VectorizationStatus = models.VectorizationCompleted
		r.LastVectorizedAt = &now
	}
	return nil
}

func (f *fakeVectorRepo) GetByResource(_ context.Context, resourceID string) ([]*models.ResourceVector, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make([]*models.ResourceVector, 0)
	for _, v := range f.data.vectors[resourceID] {
		c := *v
		c.Embedding = append([]float32(nil), v.Embedding...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VectorType < out[j].VectorType })
	return out, nil
}

func (f *fakeVectorRepo) DeleteByResource(_ context.Context, resourceID string) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	delete(f.data.vectors, resourceID)
	return nil
}

func (f *fakeVectorRepo) Search(_ context.Context, vectorType models.VectorType, query []float32, limit int) ([]repositories.SearchHit, error) {
	if err := f.searchErr[vectorType]; err != nil {
		return nil, err
	}

	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	hits := make([]repositories.SearchHit, 0)
	for id, byType := range f.data.vectors {
		r, ok := f.data.resources[id]
		if !ok || r.Status != models.ResourceStatusActive {
			continue
		}
		v, ok := byType[vectorType]
		if !ok {
			continue
		}
		hits = append(hits, repositories.SearchHit{
			ResourceID: id,
			Similarity: cosine(query, v.Embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ResourceID < hits[j].ResourceID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeVectorRepo) Count(_ context.Context) (int64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	var n int64
	for _, byType := range f.data.vectors {
		n += int64(len(byType))
	}
	return n, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type fakeMatchRepo struct {
	data *fakeData

	insertErr error
}

var _ repositories.MatchRepository = (*fakeMatchRepo)(nil)

func (f *fakeMatchRepo) Insert(_ context.Context, rec *models.MatchRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}

	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Feedback == "" {
		rec.Feedback = models.FeedbackNone
	}
	c := *rec
	f.data.matches[rec.ID] = &c
	return nil
}

func (f *fakeMatchRepo) Get(_ context.Context, id uuid.UUID) (*models.MatchRecord, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	rec, ok := f.data.matches[id]
	if !ok {
		return nil, fmt.Errorf("match record %s: %w", id, apperrors.ErrNotFound)
	}
	c := *rec
	return &c, nil
}

func (f *fakeMatchRepo) SetFeedback(_ context.Context, id uuid.UUID, selectedResourceID string, feedback models.Feedback) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	rec, ok := f.data.matches[id]
	if !ok {
		return fmt.Errorf("match record %s: %w", id, apperrors.ErrNotFound)
	}
	if rec.Feedback != models.FeedbackNone {
		return fmt.Errorf("match record %s: %w", id, apperrors.ErrFeedbackAlreadySet)
	}
	now := time.Now()
	rec.SelectedResourceID = &selectedResourceID
	rec.Feedback = feedback
	rec.FeedbackAt = &now
	return nil
}

func (f *fakeMatchRepo) ListSince(_ context.Context, since time.Time) ([]*models.MatchRecord, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make([]*models.MatchRecord, 0)
	for _, rec := range f.data.matches {
		if !rec.CreatedAt.Before(since) {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeMatchRepo) StatsSince(_ context.Context, since time.Time) (int64, float64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	var count int64
	var total float64
	for _, rec := range f.data.matches {
		if !rec.CreatedAt.Before(since) {
			count++
			total += float64(rec.DurationMs)
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return count, total / float64(count), nil
}

type fakeUsageRepo struct {
	data *fakeData
}

var _ repositories.UsageRepository = (*fakeUsageRepo)(nil)

func usageKey(resourceID string, day time.Time) string {
	return resourceID + "|" + day.UTC().Truncate(24*time.Hour).Format("2006-01-02")
}

func (f *fakeUsageRepo) stats(resourceID string, day time.Time) *models.UsageStats {
	k := usageKey(resourceID, day)
	s, ok := f.data.usage[k]
	if !ok {
		s = &models.UsageStats{ResourceID: resourceID, Day: day.UTC().Truncate(24 * time.Hour)}
		f.data.usage[k] = s
	}
	return s
}

func (f *fakeUsageRepo) RecordMatch(_ context.Context, resourceID string, day time.Time, similarity, durationMs float64) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	s := f.stats(resourceID, day)
	s.AvgSimilarity = (s.AvgSimilarity*float64(s.MatchCount) + similarity) / float64(s.MatchCount+1)
	s.AvgDurationMs = (s.AvgDurationMs*float64(s.MatchCount) + durationMs) / float64(s.MatchCount+1)
	s.MatchCount++
	return nil
}

func (f *fakeUsageRepo) RecordSelection(_ context.Context, resourceID string, day time.Time, feedback models.Feedback) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	s := f.stats(resourceID, day)
	s.SelectionCount++
	switch feedback {
	case models.FeedbackPositive:
		s.PositiveCount++
	case models.FeedbackNegative:
		s.NegativeCount++
	}
	return nil
}

func (f *fakeUsageRepo) SelectionRates(_ context.Context, resourceIDs []string, since time.Time) (map[string]float64, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	want := make(map[string]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		want[id] = true
	}

	matches := make(map[string]int64)
	selections := make(map[string]int64)
	for _, s := range f.data.usage {
		if !want[s.ResourceID] || s.Day.Before(since.UTC().Truncate(24*time.Hour)) {
			continue
		}
		matches[s.ResourceID] += s.MatchCount
		selections[s.ResourceID] += s.SelectionCount
	}

	rates := make(map[string]float64)
	for id, m := range matches {
		if m > 0 {
			rates[id] = float64(selections[id]) / float64(m)
		} else {
			rates[id] = 0
		}
	}
	return rates, nil
}

func (f *fakeUsageRepo) ListByResource(_ context.Context, resourceID string, since time.Time) ([]*models.UsageStats, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	out := make([]*models.UsageStats, 0)
	for _, s := range f.data.usage {
		if s.ResourceID == resourceID && !s.Day.Before(since.UTC().Truncate(24*time.Hour)) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (f *fakeUsageRepo) Replace(_ context.Context, stats []*models.UsageStats) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	f.data.usage = make(map[string]*models.UsageStats)
	for _, s := range stats {
		c := *s
		c.Day = s.Day.UTC().Truncate(24 * time.Hour)
		f.data.usage[usageKey(s.ResourceID, s.Day)] = &c
	}
	return nil
}

type fakeCheckpointRepo struct {
	data *fakeData

	updateCalls int
	latestErr   error
}

var _ repositories.CheckpointRepository = (*fakeCheckpointRepo)(nil)

func (f *fakeCheckpointRepo) Create(_ context.Context, cp *models.SyncCheckpoint) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	if cp.Status == "" {
		cp.Status = models.SyncStatusRunning
	}
	c := *cp
	c.ChangedIDs = append([]string(nil), cp.ChangedIDs...)
	f.data.checkpoints = append(f.data.checkpoints, &c)
	return nil
}

func (f *fakeCheckpointRepo) Update(_ context.Context, cp *models.SyncCheckpoint) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	f.updateCalls++
	for i, stored := range f.data.checkpoints {
		if stored.ID == cp.ID {
			c := *cp
			c.ChangedIDs = append([]string(nil), cp.ChangedIDs...)
			f.data.checkpoints[i] = &c
			return nil
		}
	}
	return fmt.Errorf("sync checkpoint %s: %w", cp.ID, apperrors.ErrNotFound)
}

func (f *fakeCheckpointRepo) GetRunning(_ context.Context) (*models.SyncCheckpoint, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	for i := len(f.data.checkpoints) - 1; i >= 0; i-- {
		if f.data.checkpoints[i].Status == models.SyncStatusRunning {
			c := *f.data.checkpoints[i]
			c.ChangedIDs = append([]string(nil), f.data.checkpoints[i].ChangedIDs...)
			return &c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeCheckpointRepo) Latest(_ context.Context) (*models.SyncCheckpoint, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}

	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if len(f.data.checkpoints) == 0 {
		return nil, apperrors.ErrNotFound
	}
	c := *f.data.checkpoints[len(f.data.checkpoints)-1]
	return &c, nil
}

// fakeProvider is a scripted ResourceProvider. Discover returns deep copies
// so the coordinator's writes never alias the script.
type fakeProvider struct {
	name      string
	kind      models.ResourceType
	resources []*models.Resource
	err       error

	mu    sync.Mutex
	calls int
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) Kind() models.ResourceType { return p.kind }

func (p *fakeProvider) Discover(_ context.Context) ([]*models.Resource, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	out := make([]*models.Resource, len(p.resources))
	for i, r := range p.resources {
		out[i] = cloneResource(r)
	}
	return out, nil
}

// tokenEmbedder is a deterministic embedding client for tests: each distinct
// token claims one dimension, so cosine similarity reduces to weighted token
// overlap. Assignment order does not affect similarities.
type tokenEmbedder struct {
	mu    sync.Mutex
	index map[string]int
	dim   int
}

func newTokenEmbedder() *tokenEmbedder {
	return &tokenEmbedder{index: make(map[string]int), dim: 64}
}

func (e *tokenEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *tokenEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *tokenEmbedder) Model() string   { return "token-embedder" }
func (e *tokenEmbedder) Dimension() int  { return e.dim }

func (e *tokenEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		e.mu.Lock()
		i, ok := e.index[tok]
		if !ok {
			i = len(e.index)
			e.index[tok] = i
		}
		e.mu.Unlock()
		if i < e.dim {
			vec[i]++
		}
	}
	return vec
}
