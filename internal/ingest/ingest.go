// Package ingest implements one feed's ingestion execution: the
// subscription gate, fetch, content-hash gate, parse, classify, catalog
// upsert, active-set reconciliation, health computation, and the
// notification/match fan-out that follows.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/connector"
	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/fetch"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/notify"
	"github.com/dealerfeed/ingest-pipeline/internal/queue"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
)

// defaultMatchBatchSize is the fan-out chunk size for sku_match jobs.
const defaultMatchBatchSize = 100

// rejectSampleLimit caps how many rejected-record errors a run keeps as
// triage samples.
const rejectSampleLimit = 100

// Worker runs one feed's ingestion execution end to end.
type Worker struct {
	store      *store.Store
	fetchers   *fetch.Registry
	connectors *connector.Registry
	queue      *queue.Pool
	notifier   notify.Notifier
	logger     *slog.Logger

	matchBatchSize int
}

// Option configures a Worker.
type Option func(*Worker)

// WithMatchBatchSize overrides the sku_match fan-out chunk size.
func WithMatchBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.matchBatchSize = n
		}
	}
}

func NewWorker(s *store.Store, fetchers *fetch.Registry, connectors *connector.Registry, q *queue.Pool, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		store: s, fetchers: fetchers, connectors: connectors, queue: q,
		notifier: notifier, logger: logger, matchBatchSize: defaultMatchBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes one full ingestion pass for feedID. adminOverride bypasses
// the subscription gate for an admin-triggered manual ingest.
func (w *Worker) Run(ctx context.Context, feedID int64, adminOverride bool) (domain.FeedRun, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "ingest.run")
	defer span.End()
	tracing.SetJobAttributes(span, "feed_ingest", feedID)

	feed, err := w.store.GetFeed(ctx, feedID)
	if err != nil {
		return domain.FeedRun{}, fmt.Errorf("load feed %d: %w", feedID, err)
	}
	dealer, err := w.store.GetDealer(ctx, feed.DealerID)
	if err != nil {
		return domain.FeedRun{}, fmt.Errorf("load dealer %d: %w", feed.DealerID, err)
	}

	runID, err := w.store.InsertFeedRun(ctx, feed.ID, dealer.ID, start)
	if err != nil {
		return domain.FeedRun{}, fmt.Errorf("insert feed run: %w", err)
	}
	run := domain.FeedRun{ID: runID, FeedID: feed.ID, DealerID: dealer.ID, StartedAt: start, ErrorCodes: map[domain.ErrorCode]int{}}

	// Step 1: subscription gate. A lapsed subscription is a dealer-level,
	// transient condition, not a feed health problem: it must not flip
	// Feed.status to FAILED, or the feed would be locked out of the
	// scheduler's "enabled, non-FAILED" gate even after the dealer
	// resubscribes. Only the FeedRun records the skip.
	if !adminOverride && !dealer.IsActive(start) {
		run.Status = domain.RunSkipped
		run.PrimaryErrorCode = domain.ErrSubscriptionExpired
		finishedAt := time.Now()
		run.FinishedAt = &finishedAt
		run.Duration = finishedAt.Sub(start)
		if err := w.store.MarkFeedRunAt(ctx, feed.ID, finishedAt); err != nil {
			w.logger.Error("ingest_mark_run_at_error", slog.String("error", err.Error()))
		}
		if err := w.store.CommitFeedRun(ctx, run); err != nil {
			w.logger.Error("ingest_commit_feed_run_error", slog.String("error", err.Error()))
		}
		metrics.FeedRunsTotal.WithLabelValues(string(run.Status)).Inc()
		return run, nil
	}

	// Step 2: fetch.
	fetchStart := time.Now()
	body, err := w.fetchers.Fetch(ctx, fetch.Source{
		Transport: feed.Transport,
		URL:       feed.URL,
		Username:  feed.CredentialUser,
		Password:  feed.CredentialPass,
	})
	metrics.FetchDuration.WithLabelValues(string(feed.Transport)).Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		code := domain.ErrFetchError
		if fe, ok := err.(*fetch.Error); ok && fe.Kind == fetch.ErrKindTimeout {
			code = domain.ErrTimeoutError
		}
		return run, w.fail(ctx, dealer, feed, run, start, err, code)
	}

	// Step 3: content-hash gate. Identical bytes mean a SUCCESS run with
	// zero counts, no hash update, no downstream work, no notification,
	// and the feed's current status left as it stands.
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	if hash == feed.FeedHash {
		metrics.FetchContentUnchangedTotal.Inc()
		w.logger.Info("feed_content_unchanged", slog.Int64("feed_id", feed.ID))
		run.Status = domain.RunSuccess
		w.finish(ctx, feed, run, start, feed.Status, true, "", "")
		metrics.FeedRunsTotal.WithLabelValues(string(run.Status)).Inc()
		return run, nil
	}

	// Step 4/5: resolve connector and parse.
	conn := w.connectors.Resolve(feed.Format, body)
	result, err := conn.Parse(body)
	if err != nil {
		return run, w.fail(ctx, dealer, feed, run, start, err, domain.ErrParseError)
	}
	run.Total = len(result.Records)

	// Step 6: classify + upsert/quarantine each record.
	var skuIDs []int64
	for _, rec := range result.Records {
		lane := connector.Classify(&rec)
		run.Coercions += len(rec.Coercions)
		for _, e := range rec.Errors {
			run.ErrorCodes[e.Code]++
		}

		switch lane {
		case domain.LaneIndexable:
			skuHash := domain.SkuHash(rec.Title, rec.UPC, rec.SKU, rec.Price)
			sku := domain.DealerSku{
				DealerID: dealer.ID, FeedID: feed.ID, SkuHash: skuHash,
				RawTitle: rec.Title, RawUPC: rec.UPC, RawSKU: rec.SKU, RawPrice: rec.Price,
				RawSalePrice: rec.SalePrice, RawDescription: rec.Description, RawBrand: rec.Brand,
				RawCaliber: rec.Caliber, RawURL: rec.URL, RawImageURL: rec.ImageURL, RawInStock: rec.InStock,
				CoercionsApplied: rec.Coercions, FeedRunID: run.ID,
			}
			id, err := w.store.UpsertDealerSku(ctx, sku)
			if err != nil {
				w.logger.Error("ingest_upsert_sku_error", slog.String("error", err.Error()))
				run.Rejected++
				metrics.FeedRecordsTotal.WithLabelValues("reject").Inc()
				continue
			}
			skuIDs = append(skuIDs, id)
			run.Indexed++
			metrics.FeedRecordsTotal.WithLabelValues("indexable").Inc()

		case domain.LaneQuarantine:
			matchKey := domain.MatchKey(rec.Title, rec.SKU)
			q := domain.QuarantinedRecord{
				FeedID: feed.ID, DealerID: dealer.ID, MatchKey: matchKey,
				RawData: rec.Raw, ParsedFields: rec, BlockingErrors: rec.Errors, FeedRunID: run.ID,
			}
			if err := w.store.UpsertQuarantinedRecord(ctx, q); err != nil {
				w.logger.Error("ingest_quarantine_error", slog.String("error", err.Error()))
			}
			run.Quarantined++
			metrics.FeedRecordsTotal.WithLabelValues("quarantine").Inc()

		case domain.LaneReject:
			run.Rejected++
			if len(run.ErrorSamples) < rejectSampleLimit {
				run.ErrorSamples = append(run.ErrorSamples, rec.Errors...)
			}
			metrics.FeedRecordsTotal.WithLabelValues("reject").Inc()
		}
	}
	for code, count := range run.ErrorCodes {
		metrics.FeedRecordErrorsTotal.WithLabelValues(string(code)).Add(float64(count))
	}
	run.PrimaryErrorCode = run.PrimaryCode()

	// Step 7: active-set reconciliation.
	if _, err := w.store.DeactivateStaleDealerSkus(ctx, feed.ID, run.ID); err != nil {
		w.logger.Error("ingest_deactivate_stale_error", slog.String("error", err.Error()))
	}

	// Step 8: health status.
	health := run.HealthStatus()
	switch health {
	case domain.FeedHealthy:
		run.Status = domain.RunSuccess
	case domain.FeedWarning:
		run.Status = domain.RunWarning
	case domain.FeedFailed:
		run.Status = domain.RunFailure
	}

	if err := w.store.UpdateFeedHash(ctx, feed.ID, hash); err != nil {
		w.logger.Error("ingest_update_hash_error", slog.String("error", err.Error()))
	}

	// Step 9: feed status commit + Step 10: notification.
	w.finish(ctx, feed, run, start, health, run.Status != domain.RunFailure, "", run.PrimaryErrorCode)
	w.notifier.NotifyFeedStatus(ctx, dealer, feed, health)

	// Step 11: match job fan-out in batches.
	w.enqueueMatchBatches(ctx, run.ID, dealer.ID, skuIDs)

	metrics.FeedRunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.FeedRunDuration.Observe(time.Since(start).Seconds())

	return run, nil
}

// fail commits the run as FAILURE, flips the feed to FAILED, notifies the
// HEALTHY->FAILED transition, and hands the error back to the queue so its
// retry policy applies. Retried attempts see the feed already FAILED and
// stay silent.
func (w *Worker) fail(ctx context.Context, dealer domain.Dealer, feed domain.Feed, run domain.FeedRun, start time.Time, cause error, code domain.ErrorCode) error {
	run.Status = domain.RunFailure
	run.PrimaryErrorCode = code
	tracing.RecordError(ctx, cause)
	w.finish(ctx, feed, run, start, domain.FeedFailed, false, cause.Error(), code)
	w.notifier.NotifyFeedStatus(ctx, dealer, feed, domain.FeedFailed)
	metrics.FeedRunsTotal.WithLabelValues(string(run.Status)).Inc()
	return fmt.Errorf("ingest feed %d: %w", feed.ID, cause)
}

func (w *Worker) finish(ctx context.Context, feed domain.Feed, run domain.FeedRun, start time.Time, status domain.FeedStatus, success bool, errMsg string, code domain.ErrorCode) {
	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.Duration = finishedAt.Sub(start)

	if err := w.store.CommitFeedStatus(ctx, feed.ID, status, finishedAt, success, errMsg, code); err != nil {
		w.logger.Error("ingest_commit_feed_status_error", slog.String("error", err.Error()))
	}
	if err := w.store.CommitFeedRun(ctx, run); err != nil {
		w.logger.Error("ingest_commit_feed_run_error", slog.String("error", err.Error()))
	}
}

func (w *Worker) enqueueMatchBatches(ctx context.Context, runID, dealerID int64, skuIDs []int64) {
	for i := 0; i < len(skuIDs); i += w.matchBatchSize {
		end := i + w.matchBatchSize
		if end > len(skuIDs) {
			end = len(skuIDs)
		}
		batchIndex := i / w.matchBatchSize
		payload := domain.MatchJobPayload{FeedRunID: runID, DealerID: dealerID, SkuIDs: skuIDs[i:end], BatchIndex: batchIndex}
		data, err := json.Marshal(payload)
		if err != nil {
			w.logger.Error("ingest_marshal_match_payload_error", slog.String("error", err.Error()))
			continue
		}
		key := fmt.Sprintf("sku-match:%d:%d", runID, batchIndex)
		if _, err := w.queue.Enqueue(ctx, domain.JobSkuMatch, key, data); err != nil && err != queue.ErrDuplicate {
			w.logger.Error("ingest_enqueue_match_error", slog.String("error", err.Error()))
		}
	}
}
