package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/automation"
	"github.com/leadpilot-ai/platform/pkg/common/apperr"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"github.com/leadpilot-ai/platform/pkg/scrape"
)

func init() {
	logger.Init()
}

type mockStore struct {
	records map[string]*models.FailedScrape
	tasks   map[string]*models.RetryTask
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*models.FailedScrape),
		tasks:   make(map[string]*models.RetryTask),
	}
}

func key(website string, batchID uuid.UUID) string {
	return fmt.Sprintf("%s|%s", website, batchID)
}

func (m *mockStore) seedFailure(website string, batchID uuid.UUID, attempts int, status string) {
	m.records[key(website, batchID)] = &models.FailedScrape{
		ID:           uuid.New(),
		Website:      website,
		BatchID:      batchID,
		ErrorCode:    "TIMEOUT",
		ErrorMessage: "timed out",
		Attempts:     attempts,
		Status:       status,
		FailedAt:     time.Now().UTC(),
		LastUpdated:  time.Now().UTC(),
	}
}

func (m *mockStore) GetFailed(ctx context.Context, website string, batchID uuid.UUID) (models.FailedScrape, error) {
	record, ok := m.records[key(website, batchID)]
	if !ok {
		return models.FailedScrape{}, scrape.ErrFailedScrapeNotFound
	}
	return *record, nil
}

func (m *mockStore) MarkRetrying(ctx context.Context, website string, batchID uuid.UUID) (int64, error) {
	record, ok := m.records[key(website, batchID)]
	if !ok || record.Status != models.ScrapeStatusFailed {
		return 0, nil
	}
	record.Status = models.ScrapeStatusRetrying
	record.Attempts++
	return 1, nil
}

func (m *mockStore) MarkManyRetrying(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error) {
	var marked int64
	for _, website := range websites {
		rows, _ := m.MarkRetrying(ctx, website, batchID)
		marked += rows
	}
	return marked, nil
}

func (m *mockStore) RevertToFailed(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error) {
	var reverted int64
	for _, website := range websites {
		record, ok := m.records[key(website, batchID)]
		if !ok || record.Status != models.ScrapeStatusRetrying {
			continue
		}
		record.Status = models.ScrapeStatusFailed
		reverted++
	}
	return reverted, nil
}

func (m *mockStore) ListFailures(ctx context.Context, batchID uuid.UUID, statuses []string) ([]models.FailedScrape, error) {
	var out []models.FailedScrape
	for _, record := range m.records {
		if record.BatchID != batchID {
			continue
		}
		for _, status := range statuses {
			if record.Status == status {
				out = append(out, *record)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) UpsertRetryTasks(ctx context.Context, batchID uuid.UUID, websites []string, requestedBy uuid.UUID, state string) error {
	for _, website := range websites {
		m.tasks[key(website, batchID)] = &models.RetryTask{
			ID:          uuid.New(),
			BatchID:     batchID,
			Website:     website,
			State:       state,
			RequestedBy: requestedBy,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}
	}
	return nil
}

func (m *mockStore) SetRetryTaskStates(ctx context.Context, batchID uuid.UUID, websites []string, state string) (int64, error) {
	var updated int64
	for _, website := range websites {
		task, ok := m.tasks[key(website, batchID)]
		if !ok {
			continue
		}
		task.State = state
		updated++
	}
	return updated, nil
}

func (m *mockStore) ListRetryTasks(ctx context.Context, batchID uuid.UUID) ([]models.RetryTask, error) {
	var out []models.RetryTask
	for _, task := range m.tasks {
		if task.BatchID == batchID {
			out = append(out, *task)
		}
	}
	return out, nil
}

type mockForwarder struct {
	calls []automation.Submission
	err   error
}

func (f *mockForwarder) RequestRetry(ctx context.Context, sub automation.Submission) error {
	f.calls = append(f.calls, sub)
	return f.err
}

func TestRetryUnknownRecord(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, &mockForwarder{})

	_, err := svc.Retry(context.Background(), "https://missing.com", uuid.New(), uuid.New())
	if err == nil {
		t.Fatal("expected not found")
	}
	if apperr.From(err).Code != apperr.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", apperr.From(err).Code)
	}
}

func TestRetryMarksRecordAndForwards(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	actor := uuid.New()
	store.seedFailure("https://a.com", batchID, 2, models.ScrapeStatusFailed)

	record, err := svc.Retry(context.Background(), "https://a.com", batchID, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.ScrapeStatusRetrying {
		t.Errorf("expected retrying, got %s", record.Status)
	}
	if record.Attempts != 3 {
		t.Errorf("expected attempts=3, got %d", record.Attempts)
	}

	if len(forwarder.calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(forwarder.calls))
	}
	call := forwarder.calls[0]
	if call.BatchID != batchID || call.UserID != actor {
		t.Errorf("unexpected submission: %+v", call)
	}
	if len(call.URLs) != 1 || call.URLs[0] != "https://a.com" {
		t.Errorf("unexpected urls: %v", call.URLs)
	}

	task, ok := store.tasks[key("https://a.com", batchID)]
	if !ok {
		t.Fatal("retry task not recorded")
	}
	if task.State != models.RetryTaskInFlight {
		t.Errorf("expected task in-flight, got %s", task.State)
	}
}

func TestRetryRefusesNonFailedRecord(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	store.seedFailure("https://a.com", batchID, 1, models.ScrapeStatusRetrying)

	_, err := svc.Retry(context.Background(), "https://a.com", batchID, uuid.New())
	if err == nil {
		t.Fatal("expected conflict")
	}
	if apperr.From(err).Code != apperr.CodeConflict {
		t.Errorf("expected CONFLICT, got %s", apperr.From(err).Code)
	}
	if len(forwarder.calls) != 0 {
		t.Error("upstream called despite refused transition")
	}
}

func TestRetryRollsBackOnUpstreamFailure(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{err: errors.New("503 from automation platform")}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	store.seedFailure("https://a.com", batchID, 1, models.ScrapeStatusFailed)

	_, err := svc.Retry(context.Background(), "https://a.com", batchID, uuid.New())
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if apperr.From(err).Code != apperr.CodeUpstream {
		t.Errorf("expected UPSTREAM_ERROR, got %s", apperr.From(err).Code)
	}

	record := store.records[key("https://a.com", batchID)]
	if record.Status != models.ScrapeStatusFailed {
		t.Errorf("expected rollback to failed, got %s", record.Status)
	}
	task := store.tasks[key("https://a.com", batchID)]
	if task == nil || task.State != models.RetryTaskFailed {
		t.Errorf("expected task rolled back to failed, got %+v", task)
	}
}

func TestRetryBatchDefaultsToAllFailed(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	store.seedFailure("https://a.com", batchID, 1, models.ScrapeStatusFailed)
	store.seedFailure("https://b.com", batchID, 2, models.ScrapeStatusFailed)
	store.seedFailure("https://c.com", batchID, 1, models.ScrapeStatusResolved)

	result, err := svc.RetryBatch(context.Background(), batchID, BulkRetryInput{}, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Requested != 2 || result.Marked != 2 {
		t.Errorf("expected 2 requested/marked, got %+v", result)
	}
	if len(result.Tasks) != 2 {
		t.Errorf("expected 2 retry tasks, got %d", len(result.Tasks))
	}
	if len(forwarder.calls) != 1 {
		t.Fatalf("expected single upstream call, got %d", len(forwarder.calls))
	}
	if len(forwarder.calls[0].URLs) != 2 {
		t.Errorf("expected 2 urls in submission, got %v", forwarder.calls[0].URLs)
	}
	// The resolved record must not have been touched.
	if store.records[key("https://c.com", batchID)].Status != models.ScrapeStatusResolved {
		t.Error("resolved record was marked retrying")
	}
}

func TestRetryBatchForwardsOperatorTemplate(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	store.seedFailure("https://a.com", batchID, 1, models.ScrapeStatusFailed)

	_, err := svc.RetryBatch(context.Background(), batchID, BulkRetryInput{
		Subject: "Following up on {{company}}",
		Message: "Hi {{first_name}}, checking back in.",
	}, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(forwarder.calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(forwarder.calls))
	}
	call := forwarder.calls[0]
	if call.Subject != "Following up on {{company}}" {
		t.Errorf("operator subject lost: %q", call.Subject)
	}
	if call.Message != "Hi {{first_name}}, checking back in." {
		t.Errorf("operator message lost: %q", call.Message)
	}
}

func TestRetryBatchNothingToRetry(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, &mockForwarder{})

	_, err := svc.RetryBatch(context.Background(), uuid.New(), BulkRetryInput{}, uuid.New())
	if err == nil {
		t.Fatal("expected not found")
	}
	if apperr.From(err).Code != apperr.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", apperr.From(err).Code)
	}
}

func TestRetryBatchRollsBackOnUpstreamFailure(t *testing.T) {
	store := newMockStore()
	forwarder := &mockForwarder{err: errors.New("timeout")}
	svc := NewService(store, forwarder)
	batchID := uuid.New()
	store.seedFailure("https://a.com", batchID, 1, models.ScrapeStatusFailed)
	store.seedFailure("https://b.com", batchID, 1, models.ScrapeStatusFailed)

	_, err := svc.RetryBatch(context.Background(), batchID, BulkRetryInput{}, uuid.New())
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if apperr.From(err).Code != apperr.CodeUpstream {
		t.Errorf("expected UPSTREAM_ERROR, got %s", apperr.From(err).Code)
	}

	for _, website := range []string{"https://a.com", "https://b.com"} {
		record := store.records[key(website, batchID)]
		if record.Status != models.ScrapeStatusFailed {
			t.Errorf("%s: expected rollback to failed, got %s", website, record.Status)
		}
		task := store.tasks[key(website, batchID)]
		if task == nil || task.State != models.RetryTaskFailed {
			t.Errorf("%s: expected task failed, got %+v", website, task)
		}
	}
}
