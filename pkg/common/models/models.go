package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch lifecycle. A batch is never marked complete automatically: the
// transition comes either from the automation platform's batch-complete
// callback or from an operator confirming a stale batch.
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusComplete   = "complete"
)

// Failed scrape record lifecycle. Records are never hard-deleted; wont-fix
// is terminal and hidden from default listings.
const (
	ScrapeStatusFailed   = "failed"
	ScrapeStatusRetrying = "retrying"
	ScrapeStatusResolved = "resolved"
	ScrapeStatusWontFix  = "wont-fix"
)

// Successful scrape record status: "resolved" when a failed record for the
// same (website, batch) key existed at insert time, "success" otherwise.
const (
	SuccessStatusSuccess  = "success"
	SuccessStatusResolved = "resolved"
)

// Per-URL retry sub-task states, reconciled asynchronously by the relay
// callbacks rather than inferred from the initiating HTTP call.
const (
	RetryTaskPending   = "pending"
	RetryTaskInFlight  = "in-flight"
	RetryTaskSucceeded = "succeeded"
	RetryTaskFailed    = "failed"
)

// EventScrapeFailed is the discriminator the automation platform must send
// on the scrape-failed hook.
const EventScrapeFailed = "scrape_failed"

type Batch struct {
	ID            uuid.UUID `json:"id"`
	Label         string    `json:"label,omitempty"`
	Status        string    `json:"status"`
	TotalURLs     int       `json:"total_urls"`
	ProcessedURLs int       `json:"processed_urls"`
	OwnerUserID   uuid.UUID `json:"owner_user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type FailedScrape struct {
	ID           uuid.UUID `json:"id"`
	Website      string    `json:"website"`
	BatchID      uuid.UUID `json:"batch_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	Status       string    `json:"status"`
	FailedAt     time.Time `json:"failed_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

type SuccessfulScrape struct {
	ID         uuid.UUID `json:"id"`
	Website    string    `json:"website"`
	BatchID    uuid.UUID `json:"batch_id"`
	Domain     string    `json:"domain,omitempty"`
	Company    string    `json:"company,omitempty"`
	Emails     []string  `json:"emails,omitempty"`
	Industry   string    `json:"industry,omitempty"`
	Icebreaker string    `json:"icebreaker,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type RetryTask struct {
	ID          uuid.UUID `json:"id"`
	BatchID     uuid.UUID `json:"batch_id"`
	Website     string    `json:"website"`
	State       string    `json:"state"`
	RequestedBy uuid.UUID `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BatchProgress carries the counters the staleness heuristic works from.
type BatchProgress struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Successful int64     `json:"successful"`
	Failed     int64     `json:"failed"`
	ComputedAt time.Time `json:"computed_at"`
}

// StaleBatch is a processing batch whose counters indicate completion but
// whose status was never updated by the automation platform.
type StaleBatch struct {
	Batch          Batch     `json:"batch"`
	Successful     int64     `json:"successful"`
	Failed         int64     `json:"failed"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Event bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // scrape.failed, scrape.success, scrape.resolved, batch.created, batch.updated, batch.completed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Relay hook payloads

type ScrapeFailedRequest struct {
	Event        string `json:"event"`
	Website      string `json:"website"`
	BatchID      string `json:"batch_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Timestamp    string `json:"timestamp"`
	Attempt      int    `json:"attempt,omitempty"`
}

type ScrapeSuccessRequest struct {
	Website    string   `json:"website"`
	BatchID    string   `json:"batch_id"`
	Domain     string   `json:"domain,omitempty"`
	Company    string   `json:"company,omitempty"`
	Emails     []string `json:"emails,omitempty"`
	Industry   string   `json:"industry,omitempty"`
	Icebreaker string   `json:"icebreaker,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

type ScrapeResolvedRequest struct {
	Website string `json:"website"`
	BatchID string `json:"batch_id"`
}

type BatchCompleteRequest struct {
	BatchID string `json:"batch_id"`
}

// Operator payloads

type CreateBatchRequest struct {
	URLs  []string `json:"urls"`
	Label string   `json:"label,omitempty"`
}

type CreateBatchResponse struct {
	OK          bool      `json:"ok"`
	BatchUUID   uuid.UUID `json:"batch_uuid"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`
	TotalURLs   int       `json:"total_urls"`
	URLs        []string  `json:"urls"`
}

type RetryScrapeRequest struct {
	Website string `json:"website"`
	BatchID string `json:"batch_id"`
}

type BulkRetryRequest struct {
	// Empty means retry everything currently failed in the batch.
	Websites []string `json:"websites,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Message  string   `json:"message,omitempty"`
}

type WontFixRequest struct {
	Website string `json:"website"`
	BatchID string `json:"batch_id"`
}

type AckResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Identity models

type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID             uuid.UUID              `json:"id"`
	OrganizationID uuid.UUID              `json:"organization_id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name"`
	Role           string                 `json:"role"`
	AvatarURL      string                 `json:"avatar_url,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type BootstrapRequest struct {
	OrganizationName string                 `json:"organization_name"`
	OrganizationSlug string                 `json:"organization_slug"`
	AdminEmail       string                 `json:"admin_email"`
	AdminName        string                 `json:"admin_name,omitempty"`
	AdminPassword    string                 `json:"admin_password"`
	AdminAvatarURL   string                 `json:"admin_avatar_url,omitempty"`
	AdminMetadata    map[string]interface{} `json:"admin_metadata,omitempty"`
}

type RegisterUserRequest struct {
	OrganizationID uuid.UUID              `json:"organization_id,omitempty"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name,omitempty"`
	Role           string                 `json:"role,omitempty"`
	Password       string                 `json:"password"`
	AvatarURL      string                 `json:"avatar_url,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  User         `json:"user"`
	Org   Organization `json:"org,omitempty"`
}
