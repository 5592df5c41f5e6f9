package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/observability/metrics"
	"github.com/leadpilot-ai/platform/pkg/scrape"
)

// Store is the slice of the scrape repository the reconciler reads and the
// completion updates it applies.
type Store interface {
	ListBatchesByStatus(ctx context.Context, status string) ([]models.Batch, error)
	CountSuccesses(ctx context.Context, batchID uuid.UUID) (int64, error)
	CountFailures(ctx context.Context, batchID uuid.UUID) (int64, error)
	CompleteBatch(ctx context.Context, id uuid.UUID) (int64, error)
	CompleteBatches(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// ProgressCache serves cached batch counters; misses fall back to the store.
type ProgressCache interface {
	Get(ctx context.Context, batchID uuid.UUID) (models.BatchProgress, bool)
	Set(ctx context.Context, p models.BatchProgress) error
}

// Service detects stale batches: still "processing", untouched for at
// least the threshold, with outcome counters covering every submitted URL.
// The automation platform historically never emitted an authoritative
// "batch finished" event, so this heuristic infers completion from
// counters; the batch-complete hook is preferred where available and
// staleness stays as the fallback safety net. A stale batch is only
// surfaced — the status flip always comes from an operator or the hook.
type Service struct {
	store     Store
	cache     ProgressCache
	threshold time.Duration
	nowFunc   func() time.Time
}

func NewService(store Store, cache ProgressCache, threshold time.Duration) *Service {
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &Service{
		store:     store,
		cache:     cache,
		threshold: threshold,
		nowFunc:   time.Now,
	}
}

// Progress returns the batch's counters, preferring the cache.
func (s *Service) Progress(ctx context.Context, batchID uuid.UUID) (models.BatchProgress, error) {
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, batchID); ok {
			return p, nil
		}
	}

	successful, err := s.store.CountSuccesses(ctx, batchID)
	if err != nil {
		return models.BatchProgress{}, err
	}
	failed, err := s.store.CountFailures(ctx, batchID)
	if err != nil {
		return models.BatchProgress{}, err
	}

	p := models.BatchProgress{
		BatchID:    batchID,
		Successful: successful,
		Failed:     failed,
		ComputedAt: s.nowFunc().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			logger.Log.WithError(err).WithField("batch_id", batchID).Warn("failed to cache batch progress")
		}
	}
	return p, nil
}

// FindStale scans all processing batches and classifies the stale ones.
func (s *Service) FindStale(ctx context.Context) ([]models.StaleBatch, error) {
	batches, err := s.store.ListBatchesByStatus(ctx, models.BatchStatusProcessing)
	if err != nil {
		return nil, apperr.Internal("failed to list processing batches", err)
	}

	now := s.nowFunc().UTC()
	var stale []models.StaleBatch
	for _, batch := range batches {
		elapsed := now.Sub(batch.UpdatedAt)
		if elapsed < s.threshold {
			continue
		}

		p, err := s.Progress(ctx, batch.ID)
		if err != nil {
			logger.Log.WithError(err).WithField("batch_id", batch.ID).Error("failed to compute batch progress")
			continue
		}
		if p.Successful+p.Failed < int64(batch.TotalURLs) {
			continue
		}

		stale = append(stale, models.StaleBatch{
			Batch:          batch,
			Successful:     p.Successful,
			Failed:         p.Failed,
			ElapsedMinutes: int(elapsed.Minutes()),
			DetectedAt:     now,
		})
	}

	metrics.SetStaleBatches(len(stale))
	return stale, nil
}

// MarkComplete force-sets a single batch to complete after operator
// confirmation of a stale classification.
func (s *Service) MarkComplete(ctx context.Context, batchID uuid.UUID) error {
	rows, err := s.store.CompleteBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, scrape.ErrBatchNotFound) {
			return apperr.NotFound("batch not found")
		}
		return apperr.Internal("failed to mark batch complete", err)
	}
	if rows == 0 {
		return apperr.NotFound("batch not found")
	}
	return nil
}

// MarkAllComplete force-completes every currently stale batch.
func (s *Service) MarkAllComplete(ctx context.Context) (int64, error) {
	stale, err := s.FindStale(ctx)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(stale))
	for _, sb := range stale {
		ids = append(ids, sb.Batch.ID)
	}
	rows, err := s.store.CompleteBatches(ctx, ids)
	if err != nil {
		return 0, apperr.Internal("failed to mark stale batches complete", err)
	}
	return rows, nil
}
