// Package store holds the pipeline's direct Postgres query functions,
// grouped by entity, with SQL embedded at the call site rather than behind
// a repository interface.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store wraps the shared pgx pool for all entity query groups.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetDealer loads one dealer with its contacts.
func (s *Store) GetDealer(ctx context.Context, dealerID int64) (domain.Dealer, error) {
	var d domain.Dealer
	var tier, status string
	err := s.db.QueryRow(ctx, `
		SELECT id, business_name, subscription_status, expires_at, grace_days,
		       last_subscription_notify_at, tier, created_at, updated_at
		FROM dealers WHERE id = $1`, dealerID,
	).Scan(&d.ID, &d.BusinessName, &status, &d.ExpiresAt, &d.GraceDays,
		&d.LastSubscriptionNotifyAt, &tier, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Dealer{}, err
	}
	d.SubscriptionStatus = domain.SubscriptionStatus(status)
	d.Tier = domain.DealerTier(tier)

	rows, err := s.db.Query(ctx, `
		SELECT name, email, communication_opt_in FROM dealer_contacts WHERE dealer_id = $1`, dealerID)
	if err != nil {
		return domain.Dealer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.Name, &c.Email, &c.CommunicationOptIn); err != nil {
			return domain.Dealer{}, err
		}
		d.Contacts = append(d.Contacts, c)
	}
	return d, rows.Err()
}

// GetFeed loads one feed's configuration.
func (s *Store) GetFeed(ctx context.Context, feedID int64) (domain.Feed, error) {
	var f domain.Feed
	var transport, format, status, primaryCode string
	err := s.db.QueryRow(ctx, `
		SELECT id, dealer_id, transport, format, url, credential_user, credential_pass,
		       schedule_minutes, enabled, status, feed_hash, last_success_at, last_failure_at,
		       last_run_at, last_error, primary_error_code, created_at, updated_at
		FROM feeds WHERE id = $1`, feedID,
	).Scan(&f.ID, &f.DealerID, &transport, &format, &f.URL, &f.CredentialUser, &f.CredentialPass,
		&f.ScheduleMinutes, &f.Enabled, &status, &f.FeedHash, &f.LastSuccessAt, &f.LastFailureAt,
		&f.LastRunAt, &f.LastError, &primaryCode, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return domain.Feed{}, err
	}
	f.Transport = domain.TransportKind(transport)
	f.Format = domain.FormatType(format)
	f.Status = domain.FeedStatus(status)
	f.PrimaryErrorCode = domain.ErrorCode(primaryCode)
	return f, nil
}

// ListEnabledFeeds returns every enabled, non-FAILED feed with the fields
// the scheduler's due-time gate needs (a FAILED feed is skipped until
// manually re-enabled). Feeds still pending their
// first run or whose schedule window hasn't elapsed are included here;
// the scheduler itself applies the `now - max(lastRunAt, lastSuccessAt,
// createdAt) >= scheduleMinutes` check.
func (s *Store) ListEnabledFeeds(ctx context.Context) ([]domain.Feed, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dealer_id, transport, format, url, schedule_minutes, status,
		       last_run_at, last_success_at, created_at
		FROM feeds WHERE enabled = true AND status != 'FAILED'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		var f domain.Feed
		var transport, format, status string
		if err := rows.Scan(&f.ID, &f.DealerID, &transport, &format, &f.URL, &f.ScheduleMinutes, &status,
			&f.LastRunAt, &f.LastSuccessAt, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Transport = domain.TransportKind(transport)
		f.Format = domain.FormatType(format)
		f.Status = domain.FeedStatus(status)
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// ListFeedsForDealer returns every feed configured for one dealer, for the
// admin surface's per-dealer feed listing.
func (s *Store) ListFeedsForDealer(ctx context.Context, dealerID int64) ([]domain.Feed, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dealer_id, transport, format, url, schedule_minutes, enabled, status,
		       last_run_at, last_success_at, last_failure_at, created_at, updated_at
		FROM feeds WHERE dealer_id = $1 ORDER BY id ASC`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		var f domain.Feed
		var transport, format, status string
		if err := rows.Scan(&f.ID, &f.DealerID, &transport, &format, &f.URL, &f.ScheduleMinutes, &f.Enabled,
			&status, &f.LastRunAt, &f.LastSuccessAt, &f.LastFailureAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Transport = domain.TransportKind(transport)
		f.Format = domain.FormatType(format)
		f.Status = domain.FeedStatus(status)
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// ListFeedRuns returns the most recent runs for one feed, newest first, for
// the admin surface's run-history view.
func (s *Store) ListFeedRuns(ctx context.Context, feedID int64, limit int) ([]domain.FeedRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, feed_id, dealer_id, status, total, indexed, quarantined, rejected,
		       coercions, primary_error_code, started_at, finished_at, duration_ms
		FROM feed_runs WHERE feed_id = $1 ORDER BY id DESC LIMIT $2`, feedID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.FeedRun
	for rows.Next() {
		var run domain.FeedRun
		var status, code string
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.FeedID, &run.DealerID, &status, &run.Total, &run.Indexed,
			&run.Quarantined, &run.Rejected, &run.Coercions, &code, &run.StartedAt, &run.FinishedAt,
			&durationMs); err != nil {
			return nil, err
		}
		run.Status = domain.FeedRunStatus(status)
		run.PrimaryErrorCode = domain.ErrorCode(code)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetFeedRun loads one run's full outcome, including its error histogram and
// sample records, for the admin surface's run-detail view.
func (s *Store) GetFeedRun(ctx context.Context, feedID, runID int64) (domain.FeedRun, bool, error) {
	var run domain.FeedRun
	var status, code string
	var durationMs int64
	var codesJSON, samplesJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, feed_id, dealer_id, status, total, indexed, quarantined, rejected,
		       coercions, primary_error_code, error_codes, error_samples, started_at,
		       finished_at, duration_ms
		FROM feed_runs WHERE feed_id = $1 AND id = $2`, feedID, runID,
	).Scan(&run.ID, &run.FeedID, &run.DealerID, &status, &run.Total, &run.Indexed, &run.Quarantined,
		&run.Rejected, &run.Coercions, &code, &codesJSON, &samplesJSON, &run.StartedAt, &run.FinishedAt,
		&durationMs)
	if err == pgx.ErrNoRows {
		return domain.FeedRun{}, false, nil
	}
	if err != nil {
		return domain.FeedRun{}, false, err
	}
	run.Status = domain.FeedRunStatus(status)
	run.PrimaryErrorCode = domain.ErrorCode(code)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if len(codesJSON) > 0 {
		if err := json.Unmarshal(codesJSON, &run.ErrorCodes); err != nil {
			return domain.FeedRun{}, false, err
		}
	}
	if len(samplesJSON) > 0 {
		if err := json.Unmarshal(samplesJSON, &run.ErrorSamples); err != nil {
			return domain.FeedRun{}, false, err
		}
	}
	return run, true, nil
}

// ListInsightsForDealer returns every derived insight for one dealer's
// matched offers, newest first, for the admin surface's insight feed.
func (s *Store) ListInsightsForDealer(ctx context.Context, dealerID int64) ([]domain.Insight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dealer_id, canonical_sku_id, dealer_sku_id, type, severity, detail, created_at
		FROM insights WHERE dealer_id = $1 ORDER BY id DESC`, dealerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []domain.Insight
	for rows.Next() {
		var i domain.Insight
		var insightType, severity string
		if err := rows.Scan(&i.ID, &i.DealerID, &i.CanonicalSkuID, &i.DealerSkuID, &insightType,
			&severity, &i.Detail, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Type = domain.InsightType(insightType)
		i.Severity = domain.Severity(severity)
		insights = append(insights, i)
	}
	return insights, rows.Err()
}

// MarkFeedRunAt records that the scheduler just enqueued an ingest job for
// this feed, so the next tick's due-time gate measures from this attempt
// rather than re-enqueuing every tick until the job actually runs.
func (s *Store) MarkFeedRunAt(ctx context.Context, feedID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE feeds SET last_run_at = $1, updated_at = now() WHERE id = $2`, at, feedID)
	return err
}

// UpdateFeedHash persists the content-hash gate's new hash.
func (s *Store) UpdateFeedHash(ctx context.Context, feedID int64, hash string) error {
	_, err := s.db.Exec(ctx, `UPDATE feeds SET feed_hash = $1, updated_at = now() WHERE id = $2`, hash, feedID)
	return err
}

// CommitFeedStatus applies the feed-level outcome of one run.
func (s *Store) CommitFeedStatus(ctx context.Context, feedID int64, status domain.FeedStatus, runAt time.Time, success bool, errMsg string, code domain.ErrorCode) error {
	if success {
		_, err := s.db.Exec(ctx, `
			UPDATE feeds SET status = $1, last_run_at = $2, last_success_at = $2,
			       last_error = '', primary_error_code = '', updated_at = now()
			WHERE id = $3`, status, runAt, feedID)
		return err
	}
	_, err := s.db.Exec(ctx, `
		UPDATE feeds SET status = $1, last_run_at = $2, last_failure_at = $2,
		       last_error = $3, primary_error_code = $4, updated_at = now()
		WHERE id = $5`, status, runAt, errMsg, code, feedID)
	return err
}

// InsertFeedRun records the start of one ingestion execution.
func (s *Store) InsertFeedRun(ctx context.Context, feedID, dealerID int64, startedAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO feed_runs (feed_id, dealer_id, status, started_at)
		VALUES ($1, $2, 'running', $3) RETURNING id`, feedID, dealerID, startedAt,
	).Scan(&id)
	return id, err
}

// CommitFeedRun finalizes a feed_runs row with its outcome counters.
func (s *Store) CommitFeedRun(ctx context.Context, run domain.FeedRun) error {
	codes, err := json.Marshal(run.ErrorCodes)
	if err != nil {
		return err
	}
	samples, err := json.Marshal(run.ErrorSamples)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		UPDATE feed_runs SET status = $1, total = $2, indexed = $3, quarantined = $4,
		       rejected = $5, coercions = $6, primary_error_code = $7, error_codes = $8,
		       error_samples = $9, finished_at = $10, duration_ms = $11
		WHERE id = $12`,
		run.Status, run.Total, run.Indexed, run.Quarantined, run.Rejected, run.Coercions,
		run.PrimaryErrorCode, codes, samples, run.FinishedAt, run.Duration.Milliseconds(), run.ID)
	return err
}

// UpsertDealerSku inserts or updates one dealer's catalog row for this
// feed run, keyed by (dealer_id, feed_id, sku_hash).
func (s *Store) UpsertDealerSku(ctx context.Context, sku domain.DealerSku) (int64, error) {
	coercions, err := json.Marshal(sku.CoercionsApplied)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO dealer_skus (
			dealer_id, feed_id, sku_hash, raw_title, raw_upc, raw_sku, raw_price,
			raw_sale_price, raw_description, raw_brand, raw_caliber, raw_url,
			raw_image_url, raw_in_stock, coercions_applied, feed_run_id, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,true)
		ON CONFLICT (dealer_id, feed_id, sku_hash) DO UPDATE SET
			raw_title = EXCLUDED.raw_title,
			raw_upc = EXCLUDED.raw_upc,
			raw_sku = EXCLUDED.raw_sku,
			raw_price = EXCLUDED.raw_price,
			raw_sale_price = EXCLUDED.raw_sale_price,
			raw_description = EXCLUDED.raw_description,
			raw_brand = EXCLUDED.raw_brand,
			raw_caliber = EXCLUDED.raw_caliber,
			raw_url = EXCLUDED.raw_url,
			raw_image_url = EXCLUDED.raw_image_url,
			raw_in_stock = EXCLUDED.raw_in_stock,
			coercions_applied = EXCLUDED.coercions_applied,
			feed_run_id = EXCLUDED.feed_run_id,
			is_active = true,
			updated_at = now()
		RETURNING id`,
		sku.DealerID, sku.FeedID, sku.SkuHash[:], sku.RawTitle, sku.RawUPC, sku.RawSKU,
		sku.RawPrice, sku.RawSalePrice, sku.RawDescription, sku.RawBrand, sku.RawCaliber,
		sku.RawURL, sku.RawImageURL, sku.RawInStock, coercions, sku.FeedRunID,
	).Scan(&id)
	return id, err
}

// DeactivateStaleDealerSkus marks every dealer_sku for this feed not seen
// in currentRunID's active set as inactive, implementing the active-set
// reconciliation.
func (s *Store) DeactivateStaleDealerSkus(ctx context.Context, feedID, currentRunID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE dealer_skus SET is_active = false, updated_at = now()
		WHERE feed_id = $1 AND feed_run_id != $2 AND is_active = true`, feedID, currentRunID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertQuarantinedRecord inserts or reopens a quarantined row keyed by
// (feed_id, match_key).
func (s *Store) UpsertQuarantinedRecord(ctx context.Context, q domain.QuarantinedRecord) error {
	raw, err := json.Marshal(q.RawData)
	if err != nil {
		return err
	}
	parsed, err := json.Marshal(q.ParsedFields)
	if err != nil {
		return err
	}
	blocking, err := json.Marshal(q.BlockingErrors)
	if err != nil {
		return err
	}
	// status is never downgraded RESOLVED -> QUARANTINED on re-sighting: a
	// row already marked RESOLVED keeps that status even as its payload is
	// refreshed, per the quarantine monotonicity invariant.
	_, err = s.db.Exec(ctx, `
		INSERT INTO quarantined_records (feed_id, dealer_id, match_key, raw_data, parsed_fields, blocking_errors, status, feed_run_id)
		VALUES ($1,$2,$3,$4,$5,$6,'QUARANTINED',$7)
		ON CONFLICT (feed_id, match_key) DO UPDATE SET
			raw_data = EXCLUDED.raw_data,
			parsed_fields = EXCLUDED.parsed_fields,
			blocking_errors = EXCLUDED.blocking_errors,
			status = CASE WHEN quarantined_records.status = 'RESOLVED' THEN 'RESOLVED' ELSE 'QUARANTINED' END,
			feed_run_id = EXCLUDED.feed_run_id,
			updated_at = now()`,
		q.FeedID, q.DealerID, q.MatchKey[:], raw, parsed, blocking, q.FeedRunID)
	return err
}

// DealerSkusByIDs loads the dealer_sku rows named in ids, for handoff to
// the match worker from one sku_match job's batch.
func (s *Store) DealerSkusByIDs(ctx context.Context, ids []int64) ([]domain.DealerSku, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dealer_id, feed_id, sku_hash, raw_title, raw_upc, raw_sku, raw_price,
		       raw_brand, raw_caliber, feed_run_id
		FROM dealer_skus WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DealerSku
	for rows.Next() {
		var sku domain.DealerSku
		var hashBytes []byte
		if err := rows.Scan(&sku.ID, &sku.DealerID, &sku.FeedID, &hashBytes, &sku.RawTitle,
			&sku.RawUPC, &sku.RawSKU, &sku.RawPrice, &sku.RawBrand, &sku.RawCaliber, &sku.FeedRunID); err != nil {
			return nil, err
		}
		copy(sku.SkuHash[:], hashBytes)
		out = append(out, sku)
	}
	return out, rows.Err()
}

// FindCanonicalSkuByUPC looks up a canonical SKU via a UPC match against
// any dealer_sku sharing that UPC and already linked.
func (s *Store) FindCanonicalSkuByUPC(ctx context.Context, upc string) (domain.CanonicalSku, bool, error) {
	var c domain.CanonicalSku
	err := s.db.QueryRow(ctx, `
		SELECT cs.id, cs.caliber, cs.brand, cs.grain, cs.pack_size
		FROM canonical_skus cs
		JOIN product_links pl ON pl.canonical_sku_id = cs.id
		JOIN dealer_skus ds ON ds.id = pl.dealer_sku_id
		WHERE ds.raw_upc = $1 LIMIT 1`, upc,
	).Scan(&c.ID, &c.Caliber, &c.Brand, &c.Grain, &c.PackSize)
	if err == pgx.ErrNoRows {
		return domain.CanonicalSku{}, false, nil
	}
	if err != nil {
		return domain.CanonicalSku{}, false, err
	}
	return c, true, nil
}

// FindCanonicalSkuByAttributes looks up a canonical SKU by its
// caliber|brand lookup key.
func (s *Store) FindCanonicalSkuByAttributes(ctx context.Context, caliber, brand string) (domain.CanonicalSku, bool, error) {
	var c domain.CanonicalSku
	err := s.db.QueryRow(ctx, `
		SELECT id, caliber, brand, grain, pack_size FROM canonical_skus
		WHERE caliber = $1 AND brand = $2 LIMIT 1`, caliber, brand,
	).Scan(&c.ID, &c.Caliber, &c.Brand, &c.Grain, &c.PackSize)
	if err == pgx.ErrNoRows {
		return domain.CanonicalSku{}, false, nil
	}
	if err != nil {
		return domain.CanonicalSku{}, false, err
	}
	return c, true, nil
}

// ListCanonicalSkus loads the full canonical_skus table for the match
// worker's in-memory attribute lookup map.
func (s *Store) ListCanonicalSkus(ctx context.Context) ([]domain.CanonicalSku, error) {
	rows, err := s.db.Query(ctx, `SELECT id, caliber, brand, grain, pack_size FROM canonical_skus`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CanonicalSku
	for rows.Next() {
		var c domain.CanonicalSku
		if err := rows.Scan(&c.ID, &c.Caliber, &c.Brand, &c.Grain, &c.PackSize); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCanonicalSkuUPCs returns every UPC known to be linked to a
// canonical SKU, for the match worker's in-memory UPC lookup map.
func (s *Store) ListCanonicalSkuUPCs(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ds.raw_upc, pl.canonical_sku_id
		FROM product_links pl
		JOIN dealer_skus ds ON ds.id = pl.dealer_sku_id
		WHERE ds.raw_upc != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var upc string
		var canonicalID int64
		if err := rows.Scan(&upc, &canonicalID); err != nil {
			return nil, err
		}
		out[upc] = canonicalID
	}
	return out, rows.Err()
}

// CreateCanonicalSku inserts a new canonical SKU for a record no existing
// entry matches, the match worker's auto-create fallback.
func (s *Store) CreateCanonicalSku(ctx context.Context, c domain.CanonicalSku) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO canonical_skus (caliber, brand, grain, pack_size)
		VALUES ($1,$2,$3,$4) RETURNING id`, c.Caliber, c.Brand, c.Grain, c.PackSize,
	).Scan(&id)
	return id, err
}

// UpsertProductLink records (or refreshes) the match linking a dealer SKU
// to a canonical SKU.
func (s *Store) UpsertProductLink(ctx context.Context, link domain.ProductLink) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO product_links (dealer_sku_id, canonical_sku_id, match_score, match_method, matched_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (dealer_sku_id) DO UPDATE SET
			canonical_sku_id = EXCLUDED.canonical_sku_id,
			match_score = EXCLUDED.match_score,
			match_method = EXCLUDED.match_method,
			matched_at = EXCLUDED.matched_at`,
		link.DealerSkuID, link.CanonicalSkuID, link.MatchScore, link.MatchMethod, link.MatchedAt)
	return err
}

// SellerPricesForCanonicalSku returns the active, in-stock prices of every
// dealer offering this canonical SKU, for the benchmark aggregation.
func (s *Store) SellerPricesForCanonicalSku(ctx context.Context, canonicalSkuID int64) ([]struct {
	DealerSkuID int64
	DealerID    int64
	Price       float64
}, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ds.id, ds.dealer_id, ds.raw_price
		FROM product_links pl
		JOIN dealer_skus ds ON ds.id = pl.dealer_sku_id
		WHERE pl.canonical_sku_id = $1 AND ds.is_active = true AND ds.raw_in_stock = true`, canonicalSkuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		DealerSkuID int64
		DealerID    int64
		Price       float64
	}
	for rows.Next() {
		var r struct {
			DealerSkuID int64
			DealerID    int64
			Price       float64
		}
		if err := rows.Scan(&r.DealerSkuID, &r.DealerID, &r.Price); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetBenchmark loads the current benchmark for one canonical SKU.
func (s *Store) GetBenchmark(ctx context.Context, canonicalSkuID int64) (domain.Benchmark, bool, error) {
	var b domain.Benchmark
	var confidence string
	err := s.db.QueryRow(ctx, `
		SELECT canonical_sku_id, min, median, max, mean, seller_count, confidence, computed_at
		FROM benchmarks WHERE canonical_sku_id = $1`, canonicalSkuID,
	).Scan(&b.CanonicalSkuID, &b.Min, &b.Median, &b.Max, &b.Mean, &b.SellerCount, &confidence, &b.ComputedAt)
	if err == pgx.ErrNoRows {
		return domain.Benchmark{}, false, nil
	}
	if err != nil {
		return domain.Benchmark{}, false, err
	}
	b.Confidence = domain.Confidence(confidence)
	return b, true, nil
}

// GetCanonicalSku loads one canonical SKU by ID.
func (s *Store) GetCanonicalSku(ctx context.Context, canonicalSkuID int64) (domain.CanonicalSku, bool, error) {
	var c domain.CanonicalSku
	err := s.db.QueryRow(ctx, `
		SELECT id, caliber, brand, grain, pack_size FROM canonical_skus WHERE id = $1`, canonicalSkuID,
	).Scan(&c.ID, &c.Caliber, &c.Brand, &c.Grain, &c.PackSize)
	if err == pgx.ErrNoRows {
		return domain.CanonicalSku{}, false, nil
	}
	if err != nil {
		return domain.CanonicalSku{}, false, err
	}
	return c, true, nil
}

// DealerOffer is one dealer's active, matched offering of a canonical SKU.
type DealerOffer struct {
	DealerSkuID int64
	DealerID    int64
	Price       decimal.Decimal
	InStock     bool
	Caliber     string
	Brand       string
}

// DealerOffersForCanonicalSku returns every active dealer offer matched to
// canonicalSkuID, for insight derivation.
func (s *Store) DealerOffersForCanonicalSku(ctx context.Context, canonicalSkuID int64) ([]DealerOffer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ds.id, ds.dealer_id, ds.raw_price, ds.raw_in_stock, ds.raw_caliber, ds.raw_brand
		FROM product_links pl
		JOIN dealer_skus ds ON ds.id = pl.dealer_sku_id
		WHERE pl.canonical_sku_id = $1 AND ds.is_active = true`, canonicalSkuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DealerOffer
	for rows.Next() {
		var o DealerOffer
		if err := rows.Scan(&o.DealerSkuID, &o.DealerID, &o.Price, &o.InStock, &o.Caliber, &o.Brand); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertBenchmark stores the per-canonical-SKU price summary.
func (s *Store) UpsertBenchmark(ctx context.Context, b domain.Benchmark) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO benchmarks (canonical_sku_id, min, median, max, mean, seller_count, confidence, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (canonical_sku_id) DO UPDATE SET
			min = EXCLUDED.min, median = EXCLUDED.median, max = EXCLUDED.max, mean = EXCLUDED.mean,
			seller_count = EXCLUDED.seller_count, confidence = EXCLUDED.confidence, computed_at = EXCLUDED.computed_at`,
		b.CanonicalSkuID, b.Min, b.Median, b.Max, b.Mean, b.SellerCount, b.Confidence, b.ComputedAt)
	return err
}

// InsertInsight records one derived observation.
func (s *Store) InsertInsight(ctx context.Context, i domain.Insight) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO insights (dealer_id, canonical_sku_id, dealer_sku_id, type, severity, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		i.DealerID, i.CanonicalSkuID, i.DealerSkuID, i.Type, i.Severity, i.Detail, i.CreatedAt)
	return err
}

// LastNotificationAt returns the dealer's most recent notification time
// for reason (nil when there is none), for the 24h rate-limit check.
func (s *Store) LastNotificationAt(ctx context.Context, dealerID int64, reason string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT sent_at FROM notification_logs
		WHERE dealer_id = $1 AND reason = $2 ORDER BY sent_at DESC LIMIT 1`, dealerID, reason,
	).Scan(&t)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) InsertNotificationLog(ctx context.Context, log domain.NotificationLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notification_logs (dealer_id, feed_id, reason, recipient, sent_at)
		VALUES ($1,$2,$3,$4,$5)`, log.DealerID, log.FeedID, log.Reason, log.Recipient, log.SentAt)
	return err
}

// ListDealersSubscriptionExpiringSoon returns every non-FOUNDING dealer
// whose grace period ends within the next 7 days or has already ended,
// the candidate set for
// the subscription-notify tick. The 24h per-dealer rate limit is enforced
// downstream by notify.LogNotifier, not by this query.
func (s *Store) ListDealersSubscriptionExpiringSoon(ctx context.Context) ([]domain.Dealer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM dealers
		WHERE tier != 'FOUNDING'
		  AND expires_at + make_interval(days => grace_days) <= now() + interval '7 days'`)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	dealers := make([]domain.Dealer, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDealer(ctx, id)
		if err != nil {
			return nil, err
		}
		dealers = append(dealers, d)
	}
	return dealers, nil
}

// ClaimSchedule attempts to insert a singleton-across-replicas row for
// this scheduler tick's window. Returns false if another replica already
// claimed it (unique constraint on name+window_token).
func (s *Store) ClaimSchedule(ctx context.Context, name, windowToken string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO repeatable_schedules (name, window_token, ran_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name, window_token) DO NOTHING`, name, windowToken)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
