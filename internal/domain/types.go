// Package domain holds the pipeline's core entities: dealers, feeds, feed
// runs, catalog rows, and the canonical/benchmark/insight tables they feed.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealerTier controls subscription expiry handling in the ingest gate.
type DealerTier string

const (
	TierStandard DealerTier = "STANDARD"
	TierFounding DealerTier = "FOUNDING" // lifetime access, bypasses expiry
)

// SubscriptionStatus mirrors the Dealer.subscriptionStatus column.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionSuspended SubscriptionStatus = "SUSPENDED"
)

// Dealer is a third-party seller whose feeds this pipeline ingests.
type Dealer struct {
	ID                       int64
	BusinessName             string
	Contacts                 []Contact
	SubscriptionStatus       SubscriptionStatus
	ExpiresAt                time.Time
	GraceDays                int
	LastSubscriptionNotifyAt *time.Time
	Tier                     DealerTier
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Contact is one notification recipient for a dealer.
type Contact struct {
	Name               string
	Email              string
	CommunicationOptIn bool
}

// IsActive implements the ingest subscription gate: a suspended dealer
// never ingests, a FOUNDING dealer always does, everyone else runs until
// their expiry plus grace days.
func (d Dealer) IsActive(now time.Time) bool {
	if d.SubscriptionStatus == SubscriptionSuspended {
		return false
	}
	if d.Tier == TierFounding {
		return true
	}
	if now.Before(d.ExpiresAt) || now.Equal(d.ExpiresAt) {
		return true
	}
	grace := d.ExpiresAt.AddDate(0, 0, d.GraceDays)
	return now.Before(grace) || now.Equal(grace)
}

// FirstOptedInContact returns the first contact with CommunicationOptIn, or
// false if none exist; the notification gate skips silently in that case.
func (d Dealer) FirstOptedInContact() (Contact, bool) {
	for _, c := range d.Contacts {
		if c.CommunicationOptIn {
			return c, true
		}
	}
	return Contact{}, false
}

// TransportKind is the feed's retrieval mechanism.
type TransportKind string

const (
	TransportPublicURL TransportKind = "PUBLIC_URL"
	TransportAuthURL   TransportKind = "AUTH_URL"
	TransportFTP       TransportKind = "FTP"
	TransportSFTP      TransportKind = "SFTP"
	TransportUpload    TransportKind = "UPLOAD"
)

// FormatType is the feed's declared or detected connector family.
type FormatType string

const (
	FormatGeneric     FormatType = "GENERIC"
	FormatAmmoSeekV1  FormatType = "AMMOSEEK_V1"
	FormatGunEngineV2 FormatType = "GUNENGINE_V2"
	FormatImpact      FormatType = "IMPACT"
)

// FeedStatus is the health state the scheduler and admin surface observe.
type FeedStatus string

const (
	FeedPending FeedStatus = "PENDING"
	FeedHealthy FeedStatus = "HEALTHY"
	FeedWarning FeedStatus = "WARNING"
	FeedFailed  FeedStatus = "FAILED"
)

// Feed is one dealer's product feed configuration.
type Feed struct {
	ID               int64
	DealerID         int64
	Transport        TransportKind
	Format           FormatType
	URL              string
	CredentialUser   string
	CredentialPass   string
	ScheduleMinutes  int
	Enabled          bool
	Status           FeedStatus
	FeedHash         string
	LastSuccessAt    *time.Time
	LastFailureAt    *time.Time
	LastRunAt        *time.Time
	LastError        string
	PrimaryErrorCode ErrorCode
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsDue implements the scheduler's due-time gate: a feed is due once
// scheduleMinutes have elapsed since the latest of its last run, last
// success, or creation.
func (f Feed) IsDue(now time.Time) bool {
	last := f.CreatedAt
	if f.LastRunAt != nil && f.LastRunAt.After(last) {
		last = *f.LastRunAt
	}
	if f.LastSuccessAt != nil && f.LastSuccessAt.After(last) {
		last = *f.LastSuccessAt
	}
	return now.Sub(last) >= time.Duration(f.ScheduleMinutes)*time.Minute
}

// ErrorCode enumerates the record-validation and run-failure taxonomy.
type ErrorCode string

const (
	ErrMissingUPC          ErrorCode = "MISSING_UPC"
	ErrInvalidUPC          ErrorCode = "INVALID_UPC"
	ErrMissingTitle        ErrorCode = "MISSING_TITLE"
	ErrInvalidPrice        ErrorCode = "INVALID_PRICE"
	ErrMissingCaliber      ErrorCode = "MISSING_CALIBER"
	ErrMissingBrand        ErrorCode = "MISSING_BRAND"
	ErrMalformedRow        ErrorCode = "MALFORMED_ROW"
	ErrParseError          ErrorCode = "PARSE_ERROR"
	ErrFetchError          ErrorCode = "FETCH_ERROR"
	ErrTimeoutError        ErrorCode = "TIMEOUT_ERROR"
	ErrSubscriptionExpired ErrorCode = "SUBSCRIPTION_EXPIRED"
)

// FeedRunStatus is the outcome of one ingestion execution.
type FeedRunStatus string

const (
	RunPending FeedRunStatus = "PENDING"
	RunRunning FeedRunStatus = "RUNNING"
	RunSuccess FeedRunStatus = "SUCCESS"
	RunWarning FeedRunStatus = "WARNING"
	RunFailure FeedRunStatus = "FAILURE"
	RunSkipped FeedRunStatus = "SKIPPED"
)

// RecordError is one validation failure attached to a parsed record.
type RecordError struct {
	Field    string    `json:"field"`
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	RawValue string    `json:"raw_value,omitempty"`
}

// FeedRun is one execution of one Feed.
type FeedRun struct {
	ID               int64
	FeedID           int64
	DealerID         int64
	Status           FeedRunStatus
	Total            int
	Indexed          int
	Quarantined      int
	Rejected         int
	Coercions        int
	PrimaryErrorCode ErrorCode
	ErrorCodes       map[ErrorCode]int
	ErrorSamples     []RecordError
	StartedAt        time.Time
	FinishedAt       *time.Time
	Duration         time.Duration
}

// FeedRunEvent is a progress update broadcast to admin SSE subscribers
// while a feed run is in flight.
type FeedRunEvent struct {
	FeedID    int64  `json:"feed_id"`
	RunID     int64  `json:"run_id"`
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// HealthStatus derives the feed's health from a run's lane counts.
func (r FeedRun) HealthStatus() FeedStatus {
	proc := r.Indexed + r.Quarantined
	var qRate, rRate float64
	if proc > 0 {
		qRate = float64(r.Quarantined) / float64(proc)
	}
	if r.Total > 0 {
		rRate = float64(r.Rejected) / float64(r.Total)
	}
	switch {
	case rRate > 0.50:
		return FeedFailed
	case qRate > 0.30 || rRate > 0.10:
		return FeedWarning
	default:
		return FeedHealthy
	}
}

// PrimaryCode returns the error code with the highest histogram count, or
// "" if the histogram is empty. Ties break lexicographically so the
// result is stable across runs.
func (r FeedRun) PrimaryCode() ErrorCode {
	var best ErrorCode
	bestCount := -1
	for code, count := range r.ErrorCodes {
		if count > bestCount || (count == bestCount && code < best) {
			best = code
			bestCount = count
		}
	}
	return best
}

// RawValue is the dynamic, heterogeneous shape of one field in a raw feed
// row: string | float64 | bool | nil | map[string]any | []any.
type RawValue = any

// RawRecord is a parsed feed row before field-mapping, preserved verbatim
// for audit alongside the strongly-typed ParsedRecord it produces.
type RawRecord map[string]RawValue

// Coercion records one input-to-output normalization applied to a field.
type Coercion struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
	Rule  string `json:"rule"`
}

// ParsedRecord is one feed row after field-mapping and coercion, still
// carrying its raw input and any errors collected along the way.
type ParsedRecord struct {
	Raw          RawRecord
	Title        string
	UPC          string
	SKU          string
	Price        decimal.Decimal
	SalePrice    decimal.Decimal
	Description  string
	Brand        string
	Caliber      string
	Grain        int
	BulletType   string
	CaseMaterial string
	RoundCount   int
	InStock      bool
	URL          string
	ImageURL     string
	Category     string
	Coercions    []Coercion
	Errors       []RecordError
}

// Lane is the classification outcome for one parsed record.
type Lane string

const (
	LaneIndexable  Lane = "indexable"
	LaneQuarantine Lane = "quarantine"
	LaneReject     Lane = "reject"
)

// QuarantineStatus tracks the monotonic QUARANTINED->RESOLVED transition.
type QuarantineStatus string

const (
	QuarantineOpen     QuarantineStatus = "QUARANTINED"
	QuarantineResolved QuarantineStatus = "RESOLVED"
)

// DealerSku is a dealer's offering of a product as ingested from one feed.
type DealerSku struct {
	ID               int64
	DealerID         int64
	FeedID           int64
	SkuHash          [16]byte
	RawTitle         string
	RawUPC           string
	RawSKU           string
	RawPrice         decimal.Decimal
	RawSalePrice     decimal.Decimal
	RawDescription   string
	RawBrand         string
	RawCaliber       string
	RawURL           string
	RawImageURL      string
	RawInStock       bool
	CoercionsApplied []Coercion
	FeedRunID        int64
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// QuarantinedRecord is a record that failed UPC validation but had a title
// and a price, keyed by (feedId, matchKey).
type QuarantinedRecord struct {
	ID             int64
	FeedID         int64
	DealerID       int64
	MatchKey       [16]byte
	RawData        RawRecord
	ParsedFields   ParsedRecord
	BlockingErrors []RecordError
	Status         QuarantineStatus
	FeedRunID      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanonicalSku is the deduplicated product identity across dealers.
type CanonicalSku struct {
	ID       int64
	Caliber  string
	Brand    string
	Grain    int
	PackSize int
}

// LookupKey is the caliber|brand composite key the match worker indexes on.
func (c CanonicalSku) LookupKey() string {
	return c.Caliber + "|" + c.Brand
}

// Confidence is the benchmark's seller-count-derived reliability tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceNone   Confidence = "NONE"
)

// Benchmark is the per-canonical-SKU cross-seller price summary.
type Benchmark struct {
	CanonicalSkuID int64
	Min            decimal.Decimal
	Median         decimal.Decimal
	Max            decimal.Decimal
	Mean           decimal.Decimal
	SellerCount    int
	Confidence     Confidence
	ComputedAt     time.Time
}

// InsightType enumerates the kinds of per-dealer derived observations.
type InsightType string

const (
	InsightOverpriced       InsightType = "OVERPRICED"
	InsightUnderpriced      InsightType = "UNDERPRICED"
	InsightStockOpportunity InsightType = "STOCK_OPPORTUNITY"
	InsightAttributeGap     InsightType = "ATTRIBUTE_GAP"
)

// Severity is the insight's urgency tier.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
)

// Insight is a derived observation about a dealer's price or catalog
// relative to the cross-seller benchmark.
type Insight struct {
	ID             int64
	DealerID       int64
	CanonicalSkuID int64
	DealerSkuID    int64
	Type           InsightType
	Severity       Severity
	Detail         string
	CreatedAt      time.Time
}

// MatchMethod records how a DealerSku was linked to a CanonicalSku.
type MatchMethod string

const (
	MatchByUPC   MatchMethod = "upc"
	MatchByAttr  MatchMethod = "attribute"
	MatchCreated MatchMethod = "auto_created"
)

// ProductLink is the output handed to the downstream catalog resolver.
type ProductLink struct {
	DealerSkuID    int64
	CanonicalSkuID int64
	MatchScore     float64
	MatchMethod    MatchMethod
	MatchedAt      time.Time
}

// JobType enumerates the pipeline stages that fan out through the durable
// queue.
type JobType string

const (
	JobFeedIngest     JobType = "feed_ingest"
	JobSkuMatch       JobType = "sku_match"
	JobBenchmarkFull  JobType = "benchmark_full"
	JobBenchmarkDelta JobType = "benchmark_incremental"
	JobInsightDerive  JobType = "insight_derive"
	JobNotifyDealer   JobType = "notify_dealer"
)

// JobStatus tracks one queue row's lifecycle.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is one durable unit of work leased with SELECT ... FOR UPDATE SKIP
// LOCKED and retried with exponential backoff on failure.
type Job struct {
	ID             int64
	Type           JobType
	IdempotencyKey string
	Payload        []byte
	Status         JobStatus
	AttemptCount   int
	MaxAttempts    int
	NextAttemptAt  time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RepeatableSchedule enforces singleton-across-replicas scheduling: a
// window-keyed row the scheduler inserts before enqueuing a tick's jobs,
// relying on a unique constraint on (name, window_token) to dedup.
type RepeatableSchedule struct {
	ID          int64
	Name        string
	WindowToken string
	RanAt       time.Time
}

// NotificationLog records one dealer notification send, used both for the
// 24h rate limit and the admin notification-history view.
type NotificationLog struct {
	ID        int64
	DealerID  int64
	FeedID    int64
	Reason    string
	Recipient string
	SentAt    time.Time
}

// MatchJobPayload is the wire format for one sku_match job: a batch of
// dealer_sku IDs produced by one feed run.
type MatchJobPayload struct {
	FeedRunID  int64   `json:"feed_run_id"`
	DealerID   int64   `json:"dealer_id"`
	SkuIDs     []int64 `json:"sku_ids"`
	BatchIndex int     `json:"batch_index"`
}

// BenchmarkJobPayload is the wire format for one benchmark recompute job.
type BenchmarkJobPayload struct {
	CanonicalSkuIDs []int64 `json:"canonical_sku_ids"`
	Full            bool    `json:"full"`
}

// InsightJobPayload is the wire format for one insight-derivation job.
type InsightJobPayload struct {
	CanonicalSkuID int64 `json:"canonical_sku_id"`
}

// Pagination holds limit/offset query params, shared across admin endpoints.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PaginatedResponse wraps a page of items with its total count.
type PaginatedResponse[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// APIResponse is the envelope every admin JSON endpoint responds with.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
