package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
)

func init() {
	logger.Init()
}

type mockStore struct {
	batches   map[uuid.UUID]*models.Batch
	successes map[uuid.UUID]int64
	failures  map[uuid.UUID]int64
}

func newMockStore() *mockStore {
	return &mockStore{
		batches:   make(map[uuid.UUID]*models.Batch),
		successes: make(map[uuid.UUID]int64),
		failures:  make(map[uuid.UUID]int64),
	}
}

func (m *mockStore) seed(total int, status string, updatedAt time.Time, successes, failures int64) uuid.UUID {
	id := uuid.New()
	m.batches[id] = &models.Batch{
		ID:        id,
		Status:    status,
		TotalURLs: total,
		UpdatedAt: updatedAt,
	}
	m.successes[id] = successes
	m.failures[id] = failures
	return id
}

func (m *mockStore) ListBatchesByStatus(ctx context.Context, status string) ([]models.Batch, error) {
	var out []models.Batch
	for _, batch := range m.batches {
		if batch.Status == status {
			out = append(out, *batch)
		}
	}
	return out, nil
}

func (m *mockStore) CountSuccesses(ctx context.Context, batchID uuid.UUID) (int64, error) {
	return m.successes[batchID], nil
}

func (m *mockStore) CountFailures(ctx context.Context, batchID uuid.UUID) (int64, error) {
	return m.failures[batchID], nil
}

func (m *mockStore) CompleteBatch(ctx context.Context, id uuid.UUID) (int64, error) {
	batch, ok := m.batches[id]
	if !ok {
		return 0, nil
	}
	batch.Status = models.BatchStatusComplete
	return 1, nil
}

func (m *mockStore) CompleteBatches(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var rows int64
	for _, id := range ids {
		n, _ := m.CompleteBatch(ctx, id)
		rows += n
	}
	return rows, nil
}

type fakeCache struct {
	entries map[uuid.UUID]models.BatchProgress
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uuid.UUID]models.BatchProgress)}
}

func (c *fakeCache) Get(ctx context.Context, batchID uuid.UUID) (models.BatchProgress, bool) {
	p, ok := c.entries[batchID]
	return p, ok
}

func (c *fakeCache) Set(ctx context.Context, p models.BatchProgress) error {
	c.entries[p.BatchID] = p
	c.sets++
	return nil
}

func newTestService(store *mockStore, cache ProgressCache, now time.Time) *Service {
	svc := NewService(store, cache, 30*time.Minute)
	svc.nowFunc = func() time.Time { return now }
	return svc
}

func TestFindStaleClassification(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()

	// 10 urls, counters cover all of them, untouched for 45 minutes: stale.
	staleID := store.seed(10, models.BatchStatusProcessing, now.Add(-45*time.Minute), 7, 3)
	// Counters cover everything but the last update was 5 minutes ago.
	store.seed(10, models.BatchStatusProcessing, now.Add(-5*time.Minute), 7, 3)
	// Old enough, but one url still unaccounted for.
	store.seed(10, models.BatchStatusProcessing, now.Add(-45*time.Minute), 6, 3)
	// Already complete batches are never scanned.
	store.seed(10, models.BatchStatusComplete, now.Add(-2*time.Hour), 7, 3)

	svc := newTestService(store, nil, now)
	stale, err := svc.FindStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale batch, got %d", len(stale))
	}
	if stale[0].Batch.ID != staleID {
		t.Errorf("wrong batch classified stale: %s", stale[0].Batch.ID)
	}
	if stale[0].ElapsedMinutes != 45 {
		t.Errorf("expected 45 elapsed minutes, got %d", stale[0].ElapsedMinutes)
	}
	if stale[0].Successful != 7 || stale[0].Failed != 3 {
		t.Errorf("unexpected counters: %+v", stale[0])
	}
}

func TestFindStaleAtExactThreshold(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	store.seed(4, models.BatchStatusProcessing, now.Add(-30*time.Minute), 2, 2)

	svc := newTestService(store, nil, now)
	stale, err := svc.FindStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("threshold boundary must classify stale, got %d", len(stale))
	}
}

func TestFindStaleCountersMayExceedTotal(t *testing.T) {
	// Counter drift can push successful+failed past total_urls; the batch
	// is still stale.
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	store.seed(10, models.BatchStatusProcessing, now.Add(-time.Hour), 8, 4)

	svc := newTestService(store, nil, now)
	stale, err := svc.FindStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("expected overcounted batch to classify stale, got %d", len(stale))
	}
}

func TestProgressPrefersCache(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	batchID := store.seed(10, models.BatchStatusProcessing, now, 1, 1)

	cache := newFakeCache()
	cache.entries[batchID] = models.BatchProgress{
		BatchID:    batchID,
		Successful: 5,
		Failed:     2,
		ComputedAt: now,
	}

	svc := newTestService(store, cache, now)
	p, err := svc.Progress(context.Background(), batchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Successful != 5 || p.Failed != 2 {
		t.Errorf("expected cached counters, got %+v", p)
	}
	if cache.sets != 0 {
		t.Error("cache hit must not rewrite the entry")
	}
}

func TestProgressFallsBackToStore(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	batchID := store.seed(10, models.BatchStatusProcessing, now, 4, 3)

	cache := newFakeCache()
	svc := newTestService(store, cache, now)

	p, err := svc.Progress(context.Background(), batchID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Successful != 4 || p.Failed != 3 {
		t.Errorf("expected store counters, got %+v", p)
	}
	if cache.sets != 1 {
		t.Errorf("expected cache backfill, sets=%d", cache.sets)
	}
}

func TestMarkCompleteNotFound(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, nil, time.Now().UTC())

	err := svc.MarkComplete(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected not found")
	}
	if apperr.From(err).Code != apperr.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", apperr.From(err).Code)
	}
}

func TestMarkAllComplete(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	first := store.seed(4, models.BatchStatusProcessing, now.Add(-time.Hour), 2, 2)
	second := store.seed(6, models.BatchStatusProcessing, now.Add(-time.Hour), 6, 0)
	fresh := store.seed(6, models.BatchStatusProcessing, now.Add(-time.Minute), 6, 0)

	svc := newTestService(store, nil, now)
	rows, err := svc.MarkAllComplete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 batches completed, got %d", rows)
	}
	if store.batches[first].Status != models.BatchStatusComplete {
		t.Error("first stale batch not completed")
	}
	if store.batches[second].Status != models.BatchStatusComplete {
		t.Error("second stale batch not completed")
	}
	if store.batches[fresh].Status != models.BatchStatusProcessing {
		t.Error("fresh batch must stay processing")
	}
}
