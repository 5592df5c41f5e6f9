package retry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/automation"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/common/urlutil"
	"github.com/leadpilot-ai/platform/pkg/observability/metrics"
	"github.com/leadpilot-ai/platform/pkg/scrape"
)

// Store is the slice of the scrape repository the retry workflow touches.
type Store interface {
	GetFailed(ctx context.Context, website string, batchID uuid.UUID) (models.FailedScrape, error)
	MarkRetrying(ctx context.Context, website string, batchID uuid.UUID) (int64, error)
	MarkManyRetrying(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error)
	RevertToFailed(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error)
	ListFailures(ctx context.Context, batchID uuid.UUID, statuses []string) ([]models.FailedScrape, error)
	UpsertRetryTasks(ctx context.Context, batchID uuid.UUID, websites []string, requestedBy uuid.UUID, state string) error
	SetRetryTaskStates(ctx context.Context, batchID uuid.UUID, websites []string, state string) (int64, error)
	ListRetryTasks(ctx context.Context, batchID uuid.UUID) ([]models.RetryTask, error)
}

// Forwarder sends retry instructions to the automation platform.
type Forwarder interface {
	RequestRetry(ctx context.Context, sub automation.Submission) error
}

// Service drives the failed → retrying → {resolved | failed} workflow.
// The retrying transition is applied before the upstream call and rolled
// back if the call fails: compensation, not a transaction. The final
// resolved/failed outcome arrives later through the relay callbacks.
type Service struct {
	store     Store
	forwarder Forwarder
}

func NewService(store Store, forwarder Forwarder) *Service {
	return &Service{store: store, forwarder: forwarder}
}

// Retry re-submits a single failed website. 404 when no failed record
// exists; 409-ish validation when the record is not currently failed (the
// authoritative status wins over whatever the console showed).
func (s *Service) Retry(ctx context.Context, website string, batchID uuid.UUID, actor uuid.UUID) (models.FailedScrape, error) {
	record, err := s.store.GetFailed(ctx, website, batchID)
	if err != nil {
		if errors.Is(err, scrape.ErrFailedScrapeNotFound) {
			return models.FailedScrape{}, apperr.NotFound("no failed scrape record for this website and batch")
		}
		return models.FailedScrape{}, apperr.Internal("failed to load scrape record", err)
	}

	rows, err := s.store.MarkRetrying(ctx, website, batchID)
	if err != nil {
		return models.FailedScrape{}, apperr.Internal("failed to mark record retrying", err)
	}
	if rows == 0 {
		// Record exists but is not in failed state; refuse rather than
		// trusting stale console state.
		return models.FailedScrape{}, apperr.Conflict("record is not in failed state")
	}

	if err := s.store.UpsertRetryTasks(ctx, batchID, []string{website}, actor, models.RetryTaskInFlight); err != nil {
		logger.Log.WithError(err).WithField("website", website).Error("failed to record retry task")
	}

	err = s.forwarder.RequestRetry(ctx, automation.Submission{
		BatchID: batchID,
		UserID:  actor,
		URLs:    []string{urlutil.Normalize(website)},
	})
	if err != nil {
		s.compensate(ctx, batchID, []string{website})
		return models.FailedScrape{}, apperr.Upstream("automation webhook rejected retry", err)
	}

	metrics.IncRetriesIssued()
	record.Status = models.ScrapeStatusRetrying
	record.Attempts++
	return record, nil
}

type BulkResult struct {
	Requested int                `json:"requested"`
	Marked    int64              `json:"marked"`
	Tasks     []models.RetryTask `json:"tasks"`
}

// BulkRetryInput carries the operator's selection and optional outreach
// template. Empty Websites means every currently-failed record; empty
// Subject/Message fall back to the configured template defaults inside the
// automation client.
type BulkRetryInput struct {
	Websites []string
	Subject  string
	Message  string
}

// RetryBatch re-submits every currently-failed record of a batch, or the
// given subset. Record statuses move in one batch update and roll back in
// one batch update on upstream failure; per-URL outcomes are tracked as
// retry tasks reconciled by the relay callbacks, since the single upstream
// call may partially succeed downstream.
func (s *Service) RetryBatch(ctx context.Context, batchID uuid.UUID, input BulkRetryInput, actor uuid.UUID) (BulkResult, error) {
	websites := input.Websites
	if len(websites) == 0 {
		records, err := s.store.ListFailures(ctx, batchID, []string{models.ScrapeStatusFailed})
		if err != nil {
			return BulkResult{}, apperr.Internal("failed to list failed records", err)
		}
		for _, record := range records {
			websites = append(websites, record.Website)
		}
	}
	if len(websites) == 0 {
		return BulkResult{}, apperr.NotFound("batch has no failed records to retry")
	}

	marked, err := s.store.MarkManyRetrying(ctx, batchID, websites)
	if err != nil {
		return BulkResult{}, apperr.Internal("failed to mark records retrying", err)
	}
	if marked == 0 {
		return BulkResult{}, apperr.Conflict("no records are currently in failed state")
	}

	if err := s.store.UpsertRetryTasks(ctx, batchID, websites, actor, models.RetryTaskInFlight); err != nil {
		logger.Log.WithError(err).WithField("batch_id", batchID).Error("failed to record retry tasks")
	}

	urls := make([]string, 0, len(websites))
	for _, website := range websites {
		urls = append(urls, urlutil.Normalize(website))
	}

	err = s.forwarder.RequestRetry(ctx, automation.Submission{
		BatchID: batchID,
		UserID:  actor,
		URLs:    urls,
		Subject: input.Subject,
		Message: input.Message,
	})
	if err != nil {
		s.compensate(ctx, batchID, websites)
		return BulkResult{}, apperr.Upstream("automation webhook rejected bulk retry", err)
	}

	metrics.IncRetriesIssued()
	tasks, listErr := s.store.ListRetryTasks(ctx, batchID)
	if listErr != nil {
		logger.Log.WithError(listErr).WithField("batch_id", batchID).Warn("failed to list retry tasks")
	}
	return BulkResult{Requested: len(websites), Marked: marked, Tasks: tasks}, nil
}

// compensate reverts the optimistic retrying transition after the upstream
// call failed. Best effort: a crash between the mark and the revert leaves
// records in retrying until the next authoritative callback corrects them.
func (s *Service) compensate(ctx context.Context, batchID uuid.UUID, websites []string) {
	metrics.IncRetryRollbacks()
	if _, err := s.store.RevertToFailed(ctx, batchID, websites); err != nil {
		logger.Log.WithError(err).WithField("batch_id", batchID).Error("failed to roll back retrying records")
	}
	if _, err := s.store.SetRetryTaskStates(ctx, batchID, websites, models.RetryTaskFailed); err != nil {
		logger.Log.WithError(err).WithField("batch_id", batchID).Error("failed to roll back retry tasks")
	}
}
