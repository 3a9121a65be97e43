package fixtures

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// TestDealer creates an active, standard-tier dealer with one opted-in
// contact.
func TestDealer(t *testing.T, db *pgxpool.Pool) int64 {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("Test Dealer %s", uuid.New().String()[:8])

	var dealerID int64
	err := db.QueryRow(ctx, `
		INSERT INTO dealers (business_name, subscription_status, expires_at, grace_days, tier)
		VALUES ($1, 'ACTIVE', $2, 5, 'STANDARD')
		RETURNING id
	`, name, time.Now().Add(30*24*time.Hour)).Scan(&dealerID)
	require.NoError(t, err)

	TestDealerContact(t, db, dealerID, true)

	return dealerID
}

// ExpiredDealer creates a dealer whose subscription expired outside its
// grace window, for subscription-gate tests.
func ExpiredDealer(t *testing.T, db *pgxpool.Pool) int64 {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("Expired Dealer %s", uuid.New().String()[:8])

	var dealerID int64
	err := db.QueryRow(ctx, `
		INSERT INTO dealers (business_name, subscription_status, expires_at, grace_days, tier)
		VALUES ($1, 'EXPIRED', $2, 3, 'STANDARD')
		RETURNING id
	`, name, time.Now().Add(-30*24*time.Hour)).Scan(&dealerID)
	require.NoError(t, err)

	TestDealerContact(t, db, dealerID, true)

	return dealerID
}

// FoundingDealer creates a lifetime-access dealer, bypassing the
// subscription gate regardless of expires_at.
func FoundingDealer(t *testing.T, db *pgxpool.Pool) int64 {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("Founding Dealer %s", uuid.New().String()[:8])

	var dealerID int64
	err := db.QueryRow(ctx, `
		INSERT INTO dealers (business_name, subscription_status, expires_at, grace_days, tier)
		VALUES ($1, 'EXPIRED', $2, 0, 'FOUNDING')
		RETURNING id
	`, name, time.Now().Add(-365*24*time.Hour)).Scan(&dealerID)
	require.NoError(t, err)

	TestDealerContact(t, db, dealerID, true)

	return dealerID
}

// TestDealerContact adds a notification contact for dealerID.
func TestDealerContact(t *testing.T, db *pgxpool.Pool, dealerID int64, optedIn bool) {
	t.Helper()
	ctx := context.Background()

	email := fmt.Sprintf("contact-%s@example.com", uuid.New().String()[:8])
	_, err := db.Exec(ctx, `
		INSERT INTO dealer_contacts (dealer_id, name, email, communication_opt_in)
		VALUES ($1, 'Test Contact', $2, $3)
	`, dealerID, email, optedIn)
	require.NoError(t, err)
}

// TestFeed creates an enabled feed in PENDING status on dealerID using the
// given transport and format.
func TestFeed(t *testing.T, db *pgxpool.Pool, dealerID int64, transport, format string) int64 {
	t.Helper()
	ctx := context.Background()

	url := fmt.Sprintf("https://feeds.example.com/%s.csv", uuid.New().String()[:8])

	var feedID int64
	err := db.QueryRow(ctx, `
		INSERT INTO feeds (dealer_id, transport, format, url, schedule_minutes, enabled, status)
		VALUES ($1, $2, $3, $4, 60, true, 'PENDING')
		RETURNING id
	`, dealerID, transport, format, url).Scan(&feedID)
	require.NoError(t, err)

	return feedID
}

// FailedFeed creates a feed already in FAILED status, for scheduler
// skip-on-failure tests.
func FailedFeed(t *testing.T, db *pgxpool.Pool, dealerID int64) int64 {
	t.Helper()
	ctx := context.Background()

	url := fmt.Sprintf("https://feeds.example.com/%s.csv", uuid.New().String()[:8])

	var feedID int64
	err := db.QueryRow(ctx, `
		INSERT INTO feeds (dealer_id, transport, format, url, schedule_minutes, enabled, status, last_error)
		VALUES ($1, 'PUBLIC_URL', 'GENERIC', $2, 60, true, 'FAILED', 'repeated fetch errors')
		RETURNING id
	`, dealerID, url).Scan(&feedID)
	require.NoError(t, err)

	return feedID
}

// TestFeedRun records a finished feed_runs row with the given outcome
// counters.
func TestFeedRun(t *testing.T, db *pgxpool.Pool, feedID, dealerID int64, status string, indexed, quarantined, rejected int) int64 {
	t.Helper()
	ctx := context.Background()

	var runID int64
	err := db.QueryRow(ctx, `
		INSERT INTO feed_runs (feed_id, dealer_id, status, started_at)
		VALUES ($1, $2, 'running', now())
		RETURNING id
	`, feedID, dealerID).Scan(&runID)
	require.NoError(t, err)

	_, err = db.Exec(ctx, `
		UPDATE feed_runs SET status = $1, total = $2, indexed = $3, quarantined = $4,
			rejected = $5, finished_at = now()
		WHERE id = $6
	`, status, indexed+quarantined+rejected, indexed, quarantined, rejected, runID)
	require.NoError(t, err)

	return runID
}

// TestDealerSku inserts an active, indexable dealer SKU tied to feedRunID.
func TestDealerSku(t *testing.T, db *pgxpool.Pool, dealerID, feedID, feedRunID int64, title, upc string, price float64) int64 {
	t.Helper()
	ctx := context.Background()

	skuHash := uuid.New()

	var skuID int64
	err := db.QueryRow(ctx, `
		INSERT INTO dealer_skus (
			dealer_id, feed_id, sku_hash, raw_title, raw_upc, raw_price,
			raw_brand, raw_caliber, raw_in_stock, feed_run_id, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, 'TestBrand', '9mm', true, $7, true)
		RETURNING id
	`, dealerID, feedID, skuHash[:], title, upc, price, feedRunID).Scan(&skuID)
	require.NoError(t, err)

	return skuID
}

// TestQuarantinedRecord inserts an open quarantine row for feedID.
func TestQuarantinedRecord(t *testing.T, db *pgxpool.Pool, feedID, dealerID, feedRunID int64) int64 {
	t.Helper()
	ctx := context.Background()

	matchKey := uuid.New()

	var id int64
	err := db.QueryRow(ctx, `
		INSERT INTO quarantined_records (feed_id, dealer_id, match_key, raw_data, blocking_errors, status, feed_run_id)
		VALUES ($1, $2, $3, '{}', '[]', 'QUARANTINED', $4)
		RETURNING id
	`, feedID, dealerID, matchKey[:], feedRunID).Scan(&id)
	require.NoError(t, err)

	return id
}

// TestCanonicalSku creates a canonical SKU identity for match/benchmark
// fixtures.
func TestCanonicalSku(t *testing.T, db *pgxpool.Pool, caliber, brand string, grain int) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := db.QueryRow(ctx, `
		INSERT INTO canonical_skus (caliber, brand, grain, pack_size)
		VALUES ($1, $2, $3, 50)
		RETURNING id
	`, caliber, brand, grain).Scan(&id)
	require.NoError(t, err)

	return id
}

// TestProductLink links dealerSkuID to canonicalSkuID via the given match
// method.
func TestProductLink(t *testing.T, db *pgxpool.Pool, dealerSkuID, canonicalSkuID int64, method string) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Exec(ctx, `
		INSERT INTO product_links (dealer_sku_id, canonical_sku_id, match_score, match_method, matched_at)
		VALUES ($1, $2, 1.0, $3, now())
	`, dealerSkuID, canonicalSkuID, method)
	require.NoError(t, err)
}

// TestBenchmark inserts a computed benchmark row for canonicalSkuID.
func TestBenchmark(t *testing.T, db *pgxpool.Pool, canonicalSkuID int64, min, median, max, mean float64, sellerCount int, confidence string) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Exec(ctx, `
		INSERT INTO benchmarks (canonical_sku_id, min, median, max, mean, seller_count, confidence, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, canonicalSkuID, min, median, max, mean, sellerCount, confidence)
	require.NoError(t, err)
}

// TestInsight inserts a derived insight row for a dealer's SKU.
func TestInsight(t *testing.T, db *pgxpool.Pool, dealerID, canonicalSkuID, dealerSkuID int64, insightType, severity, detail string) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Exec(ctx, `
		INSERT INTO insights (dealer_id, canonical_sku_id, dealer_sku_id, type, severity, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, dealerID, canonicalSkuID, dealerSkuID, insightType, severity, detail)
	require.NoError(t, err)
}

// TestNotificationLog records a sent notification, for 24h rate-limit
// tests.
func TestNotificationLog(t *testing.T, db *pgxpool.Pool, dealerID, feedID int64, reason, recipient string, sentAt time.Time) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Exec(ctx, `
		INSERT INTO notification_logs (dealer_id, feed_id, reason, recipient, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`, dealerID, feedID, reason, recipient, sentAt)
	require.NoError(t, err)
}

// CleanupTestData removes all test data (call in cleanup).
func CleanupTestData(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	// Delete in reverse order of dependencies.
	tables := []string{
		"jobs",
		"notification_logs",
		"insights",
		"benchmarks",
		"product_links",
		"canonical_skus",
		"quarantined_records",
		"dealer_skus",
		"feed_runs",
		"repeatable_schedules",
		"feeds",
		"dealer_contacts",
		"dealers",
	}

	for _, table := range tables {
		_, err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			t.Logf("Warning: failed to truncate %s: %v", table, err)
		}
	}
}
