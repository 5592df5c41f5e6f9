package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBatchNotFound        = errors.New("batch not found")
	ErrFailedScrapeNotFound = errors.New("failed scrape record not found")
	ErrDuplicateSuccess     = errors.New("successful scrape record already exists")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type BatchModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Label         string
	Status        string `gorm:"index"`
	TotalURLs     int
	ProcessedURLs int
	OwnerUserID   uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

type FailedScrapeModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Website      string    `gorm:"uniqueIndex:idx_failed_website_batch"`
	BatchID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_failed_website_batch"`
	ErrorCode    string
	ErrorMessage string
	Attempts     int
	Status       string `gorm:"index"`
	FailedAt     time.Time
	LastUpdated  time.Time
}

func (FailedScrapeModel) TableName() string {
	return "failed_scrapes"
}

type SuccessfulScrapeModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Website    string    `gorm:"uniqueIndex:idx_successful_website_batch"`
	BatchID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_successful_website_batch"`
	Domain     string
	Company    string
	Emails     datatypes.JSON `gorm:"type:jsonb"`
	Industry   string
	Icebreaker string
	Status     string `gorm:"index"`
	CreatedAt  time.Time
}

func (SuccessfulScrapeModel) TableName() string {
	return "successful_scrapes"
}

type RetryTaskModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID     uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_retry_task_batch_website"`
	Website     string    `gorm:"uniqueIndex:idx_retry_task_batch_website"`
	State       string    `gorm:"index"`
	RequestedBy uuid.UUID `gorm:"type:uuid"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RetryTaskModel) TableName() string {
	return "retry_tasks"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&BatchModel{},
		&FailedScrapeModel{},
		&SuccessfulScrapeModel{},
		&RetryTaskModel{},
	)
}

// Batches

type CreateBatchInput struct {
	Label       string
	TotalURLs   int
	OwnerUserID uuid.UUID
}

func (r *Repository) CreateBatch(ctx context.Context, input CreateBatchInput) (models.Batch, error) {
	now := time.Now().UTC()
	batch := BatchModel{
		ID:          uuid.New(),
		Label:       input.Label,
		Status:      models.BatchStatusPending,
		TotalURLs:   input.TotalURLs,
		OwnerUserID: input.OwnerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return models.Batch{}, err
	}
	return mapBatchModel(batch), nil
}

func (r *Repository) GetBatch(ctx context.Context, id uuid.UUID) (models.Batch, error) {
	var batch BatchModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return models.Batch{}, err
	}
	return mapBatchModel(batch), nil
}

func (r *Repository) ListBatches(ctx context.Context, limit int) ([]models.Batch, error) {
	var rows []BatchModel
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapBatchModels(rows), nil
}

func (r *Repository) ListBatchesByStatus(ctx context.Context, status string) ([]models.Batch, error) {
	var rows []BatchModel
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return mapBatchModels(rows), nil
}

// IncrementProcessed bumps the running counter in a single statement and
// promotes a pending batch to processing on its first outcome.
func (r *Repository) IncrementProcessed(ctx context.Context, id uuid.UUID, delta int) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&BatchModel{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"processed_urls": gorm.Expr("processed_urls + ?", delta),
		"updated_at":     now,
	}).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, models.BatchStatusPending).
		UpdateColumns(map[string]interface{}{
			"status":     models.BatchStatusProcessing,
			"updated_at": now,
		}).Error
}

func (r *Repository) CompleteBatch(ctx context.Context, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&BatchModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"status":     models.BatchStatusComplete,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) CompleteBatches(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&BatchModel{}).
		Where("id IN ?", ids).
		UpdateColumns(map[string]interface{}{
			"status":     models.BatchStatusComplete,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// Failed scrapes

type UpsertFailureInput struct {
	Website      string
	BatchID      uuid.UUID
	ErrorCode    string
	ErrorMessage string
	FailedAt     time.Time
	Attempt      int
}

// UpsertFailure records a failure callback. The insert uses ON CONFLICT DO
// NOTHING so exactly one of any set of concurrent first callbacks observes
// created=true (the insert's affected-row count decides, not a prior read);
// repeats fall through to a single UPDATE whose attempts increment happens
// inside the statement, so concurrent callbacks cannot undercount.
func (r *Repository) UpsertFailure(ctx context.Context, input UpsertFailureInput) (models.FailedScrape, bool, error) {
	attempts := input.Attempt
	if attempts <= 0 {
		attempts = 1
	}
	now := time.Now().UTC()
	record := FailedScrapeModel{
		ID:           uuid.New(),
		Website:      input.Website,
		BatchID:      input.BatchID,
		ErrorCode:    input.ErrorCode,
		ErrorMessage: input.ErrorMessage,
		Attempts:     attempts,
		Status:       models.ScrapeStatusFailed,
		FailedAt:     input.FailedAt,
		LastUpdated:  now,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "website"}, {Name: "batch_id"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return models.FailedScrape{}, false, result.Error
	}
	created := result.RowsAffected == 1

	if !created {
		err := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
			Where("website = ? AND batch_id = ?", input.Website, input.BatchID).
			UpdateColumns(map[string]interface{}{
				"error_code":    input.ErrorCode,
				"error_message": input.ErrorMessage,
				"attempts":      gorm.Expr("attempts + 1"),
				"status":        models.ScrapeStatusFailed,
				"failed_at":     input.FailedAt,
				"last_updated":  now,
			}).Error
		if err != nil {
			return models.FailedScrape{}, false, err
		}
	}

	stored, err := r.GetFailed(ctx, input.Website, input.BatchID)
	if err != nil {
		return models.FailedScrape{}, false, err
	}
	return stored, created, nil
}

func (r *Repository) GetFailed(ctx context.Context, website string, batchID uuid.UUID) (models.FailedScrape, error) {
	var record FailedScrapeModel
	err := r.db.WithContext(ctx).Where("website = ? AND batch_id = ?", website, batchID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FailedScrape{}, ErrFailedScrapeNotFound
	}
	if err != nil {
		return models.FailedScrape{}, err
	}
	return mapFailedModel(record), nil
}

// UpdateFailedStatus applies an unconditional status update and reports how
// many rows it touched. Zero rows is not an error.
func (r *Repository) UpdateFailedStatus(ctx context.Context, website string, batchID uuid.UUID, status string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
		Where("website = ? AND batch_id = ?", website, batchID).
		UpdateColumns(map[string]interface{}{
			"status":       status,
			"last_updated": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// MarkRetrying transitions a record to retrying and increments attempts,
// guarded on the authoritative status being failed.
func (r *Repository) MarkRetrying(ctx context.Context, website string, batchID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
		Where("website = ? AND batch_id = ? AND status = ?", website, batchID, models.ScrapeStatusFailed).
		UpdateColumns(map[string]interface{}{
			"status":       models.ScrapeStatusRetrying,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_updated": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) MarkManyRetrying(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error) {
	if len(websites) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
		Where("batch_id = ? AND website IN ? AND status = ?", batchID, websites, models.ScrapeStatusFailed).
		UpdateColumns(map[string]interface{}{
			"status":       models.ScrapeStatusRetrying,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_updated": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// RevertToFailed is the compensating update after an upstream retry call
// fails: everything still marked retrying drops back to failed.
func (r *Repository) RevertToFailed(ctx context.Context, batchID uuid.UUID, websites []string) (int64, error) {
	if len(websites) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
		Where("batch_id = ? AND website IN ? AND status = ?", batchID, websites, models.ScrapeStatusRetrying).
		UpdateColumns(map[string]interface{}{
			"status":       models.ScrapeStatusFailed,
			"last_updated": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// ListFailures returns failure records for a batch. When statuses is empty
// every status except wont-fix is returned; wont-fix records only appear
// when asked for explicitly.
func (r *Repository) ListFailures(ctx context.Context, batchID uuid.UUID, statuses []string) ([]models.FailedScrape, error) {
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	} else {
		q = q.Where("status <> ?", models.ScrapeStatusWontFix)
	}
	var rows []FailedScrapeModel
	if err := q.Order("last_updated DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.FailedScrape, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapFailedModel(row))
	}
	return out, nil
}

// CountFailures counts failure rows that have not been superseded by a
// success record. Resolved rows are excluded so one website never counts
// toward both sides of the completion heuristic.
func (r *Repository) CountFailures(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&FailedScrapeModel{}).
		Where("batch_id = ? AND status <> ?", batchID, models.ScrapeStatusResolved).
		Count(&count).Error
	return count, err
}

// Successful scrapes

type InsertSuccessInput struct {
	Website    string
	BatchID    uuid.UUID
	Domain     string
	Company    string
	Emails     []string
	Industry   string
	Icebreaker string
	Status     string
}

func (r *Repository) InsertSuccess(ctx context.Context, input InsertSuccessInput) (models.SuccessfulScrape, error) {
	emails, err := json.Marshal(input.Emails)
	if err != nil {
		return models.SuccessfulScrape{}, err
	}
	record := SuccessfulScrapeModel{
		ID:         uuid.New(),
		Website:    input.Website,
		BatchID:    input.BatchID,
		Domain:     input.Domain,
		Company:    input.Company,
		Emails:     datatypes.JSON(emails),
		Industry:   input.Industry,
		Icebreaker: input.Icebreaker,
		Status:     input.Status,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.SuccessfulScrape{}, ErrDuplicateSuccess
		}
		return models.SuccessfulScrape{}, err
	}
	return mapSuccessModel(record), nil
}

func (r *Repository) ListSuccesses(ctx context.Context, batchID uuid.UUID, limit int) ([]models.SuccessfulScrape, error) {
	var rows []SuccessfulScrapeModel
	q := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SuccessfulScrape, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapSuccessModel(row))
	}
	return out, nil
}

func (r *Repository) CountSuccesses(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SuccessfulScrapeModel{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	return count, err
}

// Retry tasks

func (r *Repository) UpsertRetryTasks(ctx context.Context, batchID uuid.UUID, websites []string, requestedBy uuid.UUID, state string) error {
	if len(websites) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]RetryTaskModel, 0, len(websites))
	for _, website := range websites {
		rows = append(rows, RetryTaskModel{
			ID:          uuid.New(),
			BatchID:     batchID,
			Website:     website,
			State:       state,
			RequestedBy: requestedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "batch_id"}, {Name: "website"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"state":        state,
			"requested_by": requestedBy,
			"updated_at":   now,
		}),
	}).Create(&rows).Error
}

func (r *Repository) SetRetryTaskStates(ctx context.Context, batchID uuid.UUID, websites []string, state string) (int64, error) {
	if len(websites) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&RetryTaskModel{}).
		Where("batch_id = ? AND website IN ?", batchID, websites).
		UpdateColumns(map[string]interface{}{
			"state":      state,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// ReconcileRetryTask moves an in-flight task to its terminal state when a
// relay callback arrives for the same key. Tasks in other states are left
// alone.
func (r *Repository) ReconcileRetryTask(ctx context.Context, batchID uuid.UUID, website string, state string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&RetryTaskModel{}).
		Where("batch_id = ? AND website = ? AND state IN ?", batchID, website,
			[]string{models.RetryTaskPending, models.RetryTaskInFlight}).
		UpdateColumns(map[string]interface{}{
			"state":      state,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) ListRetryTasks(ctx context.Context, batchID uuid.UUID) ([]models.RetryTask, error) {
	var rows []RetryTaskModel
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("updated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.RetryTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.RetryTask{
			ID:          row.ID,
			BatchID:     row.BatchID,
			Website:     row.Website,
			State:       row.State,
			RequestedBy: row.RequestedBy,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

// mappers

func mapBatchModel(batch BatchModel) models.Batch {
	return models.Batch{
		ID:            batch.ID,
		Label:         batch.Label,
		Status:        batch.Status,
		TotalURLs:     batch.TotalURLs,
		ProcessedURLs: batch.ProcessedURLs,
		OwnerUserID:   batch.OwnerUserID,
		CreatedAt:     batch.CreatedAt,
		UpdatedAt:     batch.UpdatedAt,
	}
}

func mapBatchModels(rows []BatchModel) []models.Batch {
	out := make([]models.Batch, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapBatchModel(row))
	}
	return out
}

func mapFailedModel(record FailedScrapeModel) models.FailedScrape {
	return models.FailedScrape{
		ID:           record.ID,
		Website:      record.Website,
		BatchID:      record.BatchID,
		ErrorCode:    record.ErrorCode,
		ErrorMessage: record.ErrorMessage,
		Attempts:     record.Attempts,
		Status:       record.Status,
		FailedAt:     record.FailedAt,
		LastUpdated:  record.LastUpdated,
	}
}

func mapSuccessModel(record SuccessfulScrapeModel) models.SuccessfulScrape {
	var emails []string
	if len(record.Emails) > 0 {
		_ = json.Unmarshal(record.Emails, &emails)
	}
	return models.SuccessfulScrape{
		ID:         record.ID,
		Website:    record.Website,
		BatchID:    record.BatchID,
		Domain:     record.Domain,
		Company:    record.Company,
		Emails:     emails,
		Industry:   record.Industry,
		Icebreaker: record.Icebreaker,
		Status:     record.Status,
		CreatedAt:  record.CreatedAt,
	}
}
