package insight

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/tests/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProcessSkipsUncomputedBenchmark(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := NewWorker(store.New(db), testLogger())

	canonicalSkuID := fixtures.TestCanonicalSku(t, db, "9mm Luger", "Federal", 115)

	err := w.Process(context.Background(), domain.InsightJobPayload{CanonicalSkuID: canonicalSkuID})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM insights WHERE canonical_sku_id = $1", canonicalSkuID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestProcessDerivesOverpricedInsight(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := NewWorker(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	feedRunID := fixtures.TestFeedRun(t, db, feedID, dealerID, "SUCCESS", 1, 0, 0)
	canonicalSkuID := fixtures.TestCanonicalSku(t, db, "9mm Luger", "Federal", 115)
	dealerSkuID := fixtures.TestDealerSku(t, db, dealerID, feedID, feedRunID, "Federal 9mm 115gr", "029465064565", 20.00)
	fixtures.TestProductLink(t, db, dealerSkuID, canonicalSkuID, "upc")
	fixtures.TestBenchmark(t, db, canonicalSkuID, 10.0, 12.0, 15.0, 12.3, 4, "HIGH")

	err := w.Process(context.Background(), domain.InsightJobPayload{CanonicalSkuID: canonicalSkuID})
	require.NoError(t, err)

	var insightType string
	var severity string
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT type, severity FROM insights WHERE canonical_sku_id = $1 AND dealer_sku_id = $2`,
		canonicalSkuID, dealerSkuID).Scan(&insightType, &severity))
	assert.Equal(t, string(domain.InsightOverpriced), insightType)
	assert.Equal(t, string(domain.SeverityHigh), severity)
}

func TestProcessSkipsPriceInsightWithinBand(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	w := NewWorker(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	feedRunID := fixtures.TestFeedRun(t, db, feedID, dealerID, "SUCCESS", 1, 0, 0)
	canonicalSkuID := fixtures.TestCanonicalSku(t, db, "9mm Luger", "Federal", 115)
	dealerSkuID := fixtures.TestDealerSku(t, db, dealerID, feedID, feedRunID, "Federal 9mm 115gr", "029465064565", 12.5)
	fixtures.TestProductLink(t, db, dealerSkuID, canonicalSkuID, "upc")
	fixtures.TestBenchmark(t, db, canonicalSkuID, 10.0, 12.0, 15.0, 12.3, 4, "HIGH")

	err := w.Process(context.Background(), domain.InsightJobPayload{CanonicalSkuID: canonicalSkuID})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		`SELECT count(*) FROM insights WHERE canonical_sku_id = $1 AND dealer_sku_id = $2 AND type = $3`,
		canonicalSkuID, dealerSkuID, domain.InsightOverpriced).Scan(&count))
	assert.Equal(t, 0, count)
}
