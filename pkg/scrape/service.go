package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/common/urlutil"
	"github.com/leadpilot-ai/platform/pkg/observability/metrics"
)

const eventSource = "relay-service"

// Store is the persistence surface the service needs. *Repository is the
// production implementation; tests supply mocks.
type Store interface {
	CreateBatch(ctx context.Context, input CreateBatchInput) (models.Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (models.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]models.Batch, error)
	IncrementProcessed(ctx context.Context, id uuid.UUID, delta int) error
	CompleteBatch(ctx context.Context, id uuid.UUID) (int64, error)

	UpsertFailure(ctx context.Context, input UpsertFailureInput) (models.FailedScrape, bool, error)
	GetFailed(ctx context.Context, website string, batchID uuid.UUID) (models.FailedScrape, error)
	UpdateFailedStatus(ctx context.Context, website string, batchID uuid.UUID, status string) (int64, error)
	ListFailures(ctx context.Context, batchID uuid.UUID, statuses []string) ([]models.FailedScrape, error)

	InsertSuccess(ctx context.Context, input InsertSuccessInput) (models.SuccessfulScrape, error)
	ListSuccesses(ctx context.Context, batchID uuid.UUID, limit int) ([]models.SuccessfulScrape, error)

	ReconcileRetryTask(ctx context.Context, batchID uuid.UUID, website string, state string) (int64, error)
	ListRetryTasks(ctx context.Context, batchID uuid.UUID) ([]models.RetryTask, error)
}

// EventPublisher pushes change events to the realtime feed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// ProgressInvalidator drops cached batch counters after a mutation.
type ProgressInvalidator interface {
	Invalidate(ctx context.Context, batchID uuid.UUID) error
}

// Service applies relay callbacks and operator mutations. Scrape-record
// events and batch-lifecycle events go out on separate feeds so that
// subscribers interested only in batch state need not drink from the
// per-URL firehose.
type Service struct {
	store       Store
	events      EventPublisher
	batchEvents EventPublisher
	progress    ProgressInvalidator
}

func NewService(store Store, events EventPublisher, batchEvents EventPublisher, progress ProgressInvalidator) *Service {
	return &Service{store: store, events: events, batchEvents: batchEvents, progress: progress}
}

type FailureInput struct {
	Website      string
	BatchID      uuid.UUID
	ErrorCode    string
	ErrorMessage string
	FailedAt     time.Time
	Attempt      int
}

// RecordFailure applies a scrape-failed callback: upsert (atomic attempts
// increment on repeat), batch counter bump on first sighting, retry-task
// reconciliation, change event.
func (s *Service) RecordFailure(ctx context.Context, input FailureInput) (models.FailedScrape, error) {
	record, created, err := s.store.UpsertFailure(ctx, UpsertFailureInput{
		Website:      input.Website,
		BatchID:      input.BatchID,
		ErrorCode:    input.ErrorCode,
		ErrorMessage: input.ErrorMessage,
		FailedAt:     input.FailedAt,
		Attempt:      input.Attempt,
	})
	if err != nil {
		return models.FailedScrape{}, apperr.Internal("failed to record scrape failure", err)
	}

	if created {
		if err := s.store.IncrementProcessed(ctx, input.BatchID, 1); err != nil {
			logger.Log.WithError(err).WithField("batch_id", input.BatchID).Error("failed to bump batch counter")
		}
	}

	if _, err := s.store.ReconcileRetryTask(ctx, input.BatchID, input.Website, models.RetryTaskFailed); err != nil {
		logger.Log.WithError(err).WithField("website", input.Website).Error("failed to reconcile retry task")
	}

	metrics.IncFailureCallbacks()
	s.invalidate(ctx, input.BatchID)
	s.publish(ctx, "scrape.failed", map[string]interface{}{
		"website":  record.Website,
		"batch_id": record.BatchID.String(),
		"attempts": record.Attempts,
		"status":   record.Status,
	})
	return record, nil
}

type SuccessInput struct {
	Website    string
	BatchID    uuid.UUID
	Domain     string
	Company    string
	Emails     []string
	Industry   string
	Icebreaker string
}

// RecordSuccess applies a scrape-success callback. A prior failed record
// for the same key flips to resolved and decides the stored status.
func (s *Service) RecordSuccess(ctx context.Context, input SuccessInput) (models.SuccessfulScrape, error) {
	status := models.SuccessStatusSuccess
	_, err := s.store.GetFailed(ctx, input.Website, input.BatchID)
	switch {
	case err == nil:
		status = models.SuccessStatusResolved
		if _, err := s.store.UpdateFailedStatus(ctx, input.Website, input.BatchID, models.ScrapeStatusResolved); err != nil {
			return models.SuccessfulScrape{}, apperr.Internal("failed to resolve prior failure", err)
		}
	case errors.Is(err, ErrFailedScrapeNotFound):
		// first outcome for this key
	default:
		return models.SuccessfulScrape{}, apperr.Internal("failed to look up prior failure", err)
	}

	record, err := s.store.InsertSuccess(ctx, InsertSuccessInput{
		Website:    input.Website,
		BatchID:    input.BatchID,
		Domain:     input.Domain,
		Company:    input.Company,
		Emails:     input.Emails,
		Industry:   input.Industry,
		Icebreaker: input.Icebreaker,
		Status:     status,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSuccess) {
			metrics.IncDuplicateSuccesses()
			return models.SuccessfulScrape{}, apperr.Conflict("successful scrape already recorded for this website and batch")
		}
		return models.SuccessfulScrape{}, apperr.Internal("failed to record scrape success", err)
	}

	if err := s.store.IncrementProcessed(ctx, input.BatchID, 1); err != nil {
		logger.Log.WithError(err).WithField("batch_id", input.BatchID).Error("failed to bump batch counter")
	}
	if _, err := s.store.ReconcileRetryTask(ctx, input.BatchID, input.Website, models.RetryTaskSucceeded); err != nil {
		logger.Log.WithError(err).WithField("website", input.Website).Error("failed to reconcile retry task")
	}

	metrics.IncSuccessCallbacks()
	s.invalidate(ctx, input.BatchID)
	s.publish(ctx, "scrape.success", map[string]interface{}{
		"website":  record.Website,
		"batch_id": record.BatchID.String(),
		"status":   record.Status,
	})
	return record, nil
}

// ResolveFailure marks a failed record resolved. The update is deliberately
// unconditional: resolving an absent or already-resolved key is a no-op,
// which makes the hook idempotent.
func (s *Service) ResolveFailure(ctx context.Context, website string, batchID uuid.UUID) error {
	rows, err := s.store.UpdateFailedStatus(ctx, website, batchID, models.ScrapeStatusResolved)
	if err != nil {
		return apperr.Internal("failed to resolve scrape record", err)
	}
	if rows == 0 {
		logger.Log.WithFields(map[string]interface{}{
			"website":  website,
			"batch_id": batchID,
		}).Debug("scrape-resolved matched no rows")
	}
	s.invalidate(ctx, batchID)
	s.publish(ctx, "scrape.resolved", map[string]interface{}{
		"website":  website,
		"batch_id": batchID.String(),
	})
	return nil
}

// MarkWontFix is the terminal manual transition; the record disappears from
// default listings but is never deleted.
func (s *Service) MarkWontFix(ctx context.Context, website string, batchID uuid.UUID) error {
	if _, err := s.store.GetFailed(ctx, website, batchID); err != nil {
		if errors.Is(err, ErrFailedScrapeNotFound) {
			return apperr.NotFound("no failed scrape record for this website and batch")
		}
		return apperr.Internal("failed to look up scrape record", err)
	}
	if _, err := s.store.UpdateFailedStatus(ctx, website, batchID, models.ScrapeStatusWontFix); err != nil {
		return apperr.Internal("failed to mark record wont-fix", err)
	}
	s.publish(ctx, "scrape.wont-fix", map[string]interface{}{
		"website":  website,
		"batch_id": batchID.String(),
	})
	return nil
}

// CreateBatch normalizes and dedupes the submitted URLs and inserts the
// batch row. Forwarding the URL list to the automation platform is the
// caller's responsibility, which is why the normalized list is returned.
func (s *Service) CreateBatch(ctx context.Context, owner uuid.UUID, rawURLs []string, label string) (models.Batch, []string, error) {
	urls := urlutil.NormalizeAll(rawURLs)
	if len(urls) == 0 {
		return models.Batch{}, nil, apperr.Validation("urls must not be empty")
	}

	batch, err := s.store.CreateBatch(ctx, CreateBatchInput{
		Label:       label,
		TotalURLs:   len(urls),
		OwnerUserID: owner,
	})
	if err != nil {
		return models.Batch{}, nil, apperr.Internal("failed to create batch", err)
	}

	s.publishBatch(ctx, "batch.created", map[string]interface{}{
		"batch_id":   batch.ID.String(),
		"total_urls": batch.TotalURLs,
		"owner":      owner.String(),
	})
	return batch, urls, nil
}

// CompleteBatch applies the authoritative completion signal (batch-complete
// hook) or an operator's manual confirmation of a stale batch.
func (s *Service) CompleteBatch(ctx context.Context, batchID uuid.UUID) error {
	rows, err := s.store.CompleteBatch(ctx, batchID)
	if err != nil {
		return apperr.Internal("failed to complete batch", err)
	}
	if rows == 0 {
		return apperr.NotFound("batch not found")
	}
	s.invalidate(ctx, batchID)
	s.publishBatch(ctx, "batch.completed", map[string]interface{}{
		"batch_id": batchID.String(),
	})
	return nil
}

func (s *Service) GetBatch(ctx context.Context, batchID uuid.UUID) (models.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return models.Batch{}, apperr.NotFound("batch not found")
		}
		return models.Batch{}, apperr.Internal("failed to load batch", err)
	}
	return batch, nil
}

func (s *Service) ListBatches(ctx context.Context, limit int) ([]models.Batch, error) {
	batches, err := s.store.ListBatches(ctx, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list batches", err)
	}
	return batches, nil
}

func (s *Service) ListFailures(ctx context.Context, batchID uuid.UUID, statuses []string) ([]models.FailedScrape, error) {
	records, err := s.store.ListFailures(ctx, batchID, statuses)
	if err != nil {
		return nil, apperr.Internal("failed to list failures", err)
	}
	return records, nil
}

func (s *Service) ListSuccesses(ctx context.Context, batchID uuid.UUID, limit int) ([]models.SuccessfulScrape, error) {
	records, err := s.store.ListSuccesses(ctx, batchID, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list successes", err)
	}
	return records, nil
}

func (s *Service) ListRetryTasks(ctx context.Context, batchID uuid.UUID) ([]models.RetryTask, error) {
	tasks, err := s.store.ListRetryTasks(ctx, batchID)
	if err != nil {
		return nil, apperr.Internal("failed to list retry tasks", err)
	}
	return tasks, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Error("failed to publish change event")
	}
}

func (s *Service) publishBatch(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.batchEvents == nil {
		return
	}
	if err := s.batchEvents.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Error("failed to publish batch event")
	}
}

func (s *Service) invalidate(ctx context.Context, batchID uuid.UUID) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Invalidate(ctx, batchID); err != nil {
		logger.Log.WithError(err).WithField("batch_id", batchID).Warn("failed to invalidate progress cache")
	}
}
