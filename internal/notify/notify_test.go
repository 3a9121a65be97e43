package notify

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/tests/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNotifyFeedStatusSkipsLateralHealthy(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)
	feed := domain.Feed{ID: 1, Status: domain.FeedHealthy}

	n.NotifyFeedStatus(context.Background(), dealer, feed, domain.FeedHealthy)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1", dealerID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNotifyFeedStatusSendsOnFailure(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)
	feed := domain.Feed{ID: 1, Status: domain.FeedHealthy}

	n.NotifyFeedStatus(context.Background(), dealer, feed, domain.FeedFailed)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2", dealerID, ReasonFeedFailed).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNotifyFeedStatusSuppressesRepeatedFailure(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)

	n.NotifyFeedStatus(context.Background(), dealer, domain.Feed{ID: 1, Status: domain.FeedHealthy}, domain.FeedFailed)
	// second attempt fails too, but the feed is already FAILED: no transition
	n.NotifyFeedStatus(context.Background(), dealer, domain.Feed{ID: 1, Status: domain.FeedFailed}, domain.FeedFailed)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2", dealerID, ReasonFeedFailed).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNotifyFeedStatusNoWarningAfterFailed(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)

	n.NotifyFeedStatus(context.Background(), dealer, domain.Feed{ID: 1, Status: domain.FeedFailed}, domain.FeedWarning)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1", dealerID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNotifyFeedStatusSendsRecoveredFromFailed(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)

	n.NotifyFeedStatus(context.Background(), dealer, domain.Feed{ID: 1, Status: domain.FeedFailed}, domain.FeedHealthy)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2", dealerID, ReasonFeedRecovered).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNotifyFeedStatusSkipsDealerWithNoOptedInContact(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	_, err := db.Exec(context.Background(), "UPDATE dealer_contacts SET communication_opt_in = false WHERE dealer_id = $1", dealerID)
	require.NoError(t, err)
	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)
	feed := domain.Feed{ID: 1, Status: domain.FeedHealthy}

	n.NotifyFeedStatus(context.Background(), dealer, feed, domain.FeedFailed)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1", dealerID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNotifySubscriptionExpiringRespectsOldRateLimit(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	n := NewLogNotifier(store.New(db), testLogger())

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	fixtures.TestNotificationLog(t, db, dealerID, feedID, ReasonSubscriptionExpiring, "old@example.com", time.Now().Add(-48*time.Hour))

	dealer, err := store.New(db).GetDealer(context.Background(), dealerID)
	require.NoError(t, err)

	n.NotifySubscriptionExpiring(context.Background(), dealer)

	var count int
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT count(*) FROM notification_logs WHERE dealer_id = $1 AND reason = $2", dealerID, ReasonSubscriptionExpiring).Scan(&count))
	assert.Equal(t, 2, count)
}
