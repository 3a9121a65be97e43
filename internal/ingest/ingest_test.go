package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/connector"
	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/fetch"
	"github.com/dealerfeed/ingest-pipeline/internal/notify"
	"github.com/dealerfeed/ingest-pipeline/internal/queue"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/tests/fixtures"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testWorker(db *pgxpool.Pool) *Worker {
	st := store.New(db)
	logger := testLogger()
	fetchers := fetch.NewRegistry(
		fetch.NewHTTPFetcher(5*time.Second, 5),
		fetch.NewFTPFetcher(5*time.Second),
		fetch.NewSFTPFetcher(5*time.Second),
	)
	q := queue.NewPool(db, logger)
	return NewWorker(st, fetchers, connector.NewRegistry(), q, notify.NewLogNotifier(st, logger), logger)
}

// serveBody points a feed at a one-route test server returning body.
func serveBody(t *testing.T, db *pgxpool.Pool, feedID int64, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	_, err := db.Exec(context.Background(), "UPDATE feeds SET url = $1 WHERE id = $2", srv.URL, feedID)
	require.NoError(t, err)
}

const cleanJSONFeed = `{"products": [
	{"title": "Federal 9mm 115gr", "upc": "029465064565", "sku": "F9L", "price": "12.99", "brand": "Federal", "caliber": "9mm Luger"},
	{"title": "Winchester 5.56 55gr", "upc": "020892212345", "sku": "W556", "price": "$9.49", "brand": "Winchester", "caliber": "5.56 NATO"}
]}`

func TestRunCleanJSONIngest(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, cleanJSONFeed)

	run, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 2, run.Indexed)
	assert.Equal(t, 0, run.Quarantined)
	assert.Equal(t, 0, run.Rejected)

	var feedStatus, feedHash string
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT status, feed_hash FROM feeds WHERE id = $1", feedID).Scan(&feedStatus, &feedHash))
	assert.Equal(t, string(domain.FeedHealthy), feedStatus)
	assert.NotEmpty(t, feedHash)

	var activeCount int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM dealer_skus WHERE feed_id = $1 AND is_active = true AND feed_run_id = $2",
		feedID, run.ID).Scan(&activeCount))
	assert.Equal(t, 2, activeCount)

	var matchJobs int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM jobs WHERE type = $1 AND idempotency_key = $2",
		domain.JobSkuMatch, fmt.Sprintf("sku-match:%d:0", run.ID)).Scan(&matchJobs))
	assert.Equal(t, 1, matchJobs)
}

func TestRunMixedLanes(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, `{"products": [
		{"title": "Valid A", "upc": "029465064565", "price": "12.99"},
		{"title": "No UPC", "price": "10.00"},
		{"upc": "020892212345", "price": "8.00"},
		{"title": "Zero Price", "upc": "011111111111", "price": "0"},
		{"title": "Valid B", "upc": "033333333333", "price": "15.50"}
	]}`)

	run, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	assert.Equal(t, 5, run.Total)
	assert.Equal(t, 2, run.Indexed)
	assert.Equal(t, 1, run.Quarantined)
	assert.Equal(t, 2, run.Rejected)
	assert.Equal(t, run.Total, run.Indexed+run.Quarantined+run.Rejected)
	assert.Equal(t, 1, run.ErrorCodes[domain.ErrMissingTitle])
	assert.GreaterOrEqual(t, run.ErrorCodes[domain.ErrMissingUPC], 1)
	assert.GreaterOrEqual(t, run.ErrorCodes[domain.ErrInvalidPrice], 1)

	// qRate = 1/3, rRate = 2/5: both over their warning thresholds
	assert.Equal(t, domain.RunWarning, run.Status)
	var feedStatus string
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT status FROM feeds WHERE id = $1", feedID).Scan(&feedStatus))
	assert.Equal(t, string(domain.FeedWarning), feedStatus)
}

func TestRunContentHashGateSkipsSecondRun(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, cleanJSONFeed)

	first, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)
	require.Equal(t, 2, first.Indexed)

	second, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, second.Status)
	assert.Equal(t, 0, second.Total)
	assert.Equal(t, 0, second.Indexed)

	// no downstream fan-out and no sku churn from the no-op run
	var matchJobs int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM jobs WHERE type = $1", domain.JobSkuMatch).Scan(&matchJobs))
	assert.Equal(t, 1, matchJobs)

	var staleCount int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM dealer_skus WHERE feed_id = $1 AND feed_run_id != $2",
		feedID, first.ID).Scan(&staleCount))
	assert.Equal(t, 0, staleCount)
}

func TestRunActiveSetReconciliation(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, cleanJSONFeed)

	first, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	// second run drops one product: its row must flip inactive
	serveBody(t, db, feedID, `{"products": [
		{"title": "Federal 9mm 115gr", "upc": "029465064565", "sku": "F9L", "price": "12.99"}
	]}`)
	second, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	var activeCount, inactiveCount int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM dealer_skus WHERE feed_id = $1 AND is_active = true", feedID).Scan(&activeCount))
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM dealer_skus WHERE feed_id = $1 AND is_active = false", feedID).Scan(&inactiveCount))
	assert.Equal(t, 1, activeCount)
	assert.Equal(t, 1, inactiveCount)

	var activeRunID int64
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT feed_run_id FROM dealer_skus WHERE feed_id = $1 AND is_active = true", feedID).Scan(&activeRunID))
	assert.Equal(t, second.ID, activeRunID)
}

func TestRunHighRejectRateFailsFeed(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, `{"products": [
		{"title": "A", "upc": "029465064565", "price": "-1", "brand": "Federal", "caliber": "9mm"},
		{"title": "B", "upc": "020892212345", "price": "-1", "brand": "Federal", "caliber": "9mm"},
		{"title": "C", "upc": "011111111111", "price": "-1", "brand": "Federal", "caliber": "9mm"}
	]}`)

	run, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailure, run.Status)
	assert.Equal(t, 3, run.Rejected)
	assert.Equal(t, domain.ErrInvalidPrice, run.PrimaryErrorCode)
	assert.NotEmpty(t, run.ErrorSamples)

	var feedStatus string
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT status FROM feeds WHERE id = $1", feedID).Scan(&feedStatus))
	assert.Equal(t, string(domain.FeedFailed), feedStatus)

	var notifyCount int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2",
		dealerID, notify.ReasonFeedFailed).Scan(&notifyCount))
	assert.Equal(t, 1, notifyCount)
}

func TestRunSubscriptionGateSkips(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.ExpiredDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")

	run, err := w.Run(context.Background(), feedID, false)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSkipped, run.Status)
	assert.Equal(t, domain.ErrSubscriptionExpired, run.PrimaryErrorCode)
	assert.Equal(t, 0, run.Total)

	// the skip never flips the feed itself to FAILED
	var feedStatus string
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT status FROM feeds WHERE id = $1", feedID).Scan(&feedStatus))
	assert.NotEqual(t, string(domain.FeedFailed), feedStatus)
}

func TestRunAdminOverrideBypassesSubscriptionGate(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.ExpiredDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	serveBody(t, db, feedID, cleanJSONFeed)

	run, err := w.Run(context.Background(), feedID, true)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, 2, run.Indexed)
}

func TestRunFetchFailureIsRetriableAndNotifiesOnce(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := testWorker(db)

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	_, err := db.Exec(context.Background(), "UPDATE feeds SET url = $1 WHERE id = $2", srv.URL, feedID)
	require.NoError(t, err)

	run, err := w.Run(context.Background(), feedID, false)
	require.Error(t, err)
	assert.Equal(t, domain.RunFailure, run.Status)
	assert.Equal(t, domain.ErrFetchError, run.PrimaryErrorCode)

	// retried attempt sees the feed already FAILED: no second notification
	_, err = w.Run(context.Background(), feedID, false)
	require.Error(t, err)

	var notifyCount int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2",
		dealerID, notify.ReasonFeedFailed).Scan(&notifyCount))
	assert.Equal(t, 1, notifyCount)
}
