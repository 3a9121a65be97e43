package integration

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/handler"
	"github.com/dealerfeed/ingest-pipeline/tests/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListNotificationsEmpty(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	notifHandler := handler.NewNotificationHandler(db, logger)

	req := httptest.NewRequest("GET", "/api/notifications", nil)
	rec := httptest.NewRecorder()
	notifHandler.ListNotifications(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(50), resp["limit"])
	assert.Len(t, resp["notifications"].([]interface{}), 0)
}

func TestListNotificationsWithData(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	fixtures.TestNotificationLog(t, db, dealerID, feedID, "feed_failed", "ops@example.com", time.Now())
	fixtures.TestNotificationLog(t, db, dealerID, feedID, "subscription_expiring", "ops@example.com", time.Now())

	notifHandler := handler.NewNotificationHandler(db, logger)

	req := httptest.NewRequest("GET", "/api/notifications", nil)
	rec := httptest.NewRecorder()
	notifHandler.ListNotifications(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["notifications"].([]interface{}), 2)
}

func TestListNotificationsFilteredByDealer(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	dealerA := fixtures.TestDealer(t, db)
	dealerB := fixtures.TestDealer(t, db)
	feedA := fixtures.TestFeed(t, db, dealerA, "PUBLIC_URL", "GENERIC")
	feedB := fixtures.TestFeed(t, db, dealerB, "PUBLIC_URL", "GENERIC")
	fixtures.TestNotificationLog(t, db, dealerA, feedA, "feed_failed", "a@example.com", time.Now())
	fixtures.TestNotificationLog(t, db, dealerB, feedB, "feed_failed", "b@example.com", time.Now())

	notifHandler := handler.NewNotificationHandler(db, logger)

	req := httptest.NewRequest("GET", fmt.Sprintf("/api/notifications?dealer_id=%d", dealerA), nil)
	rec := httptest.NewRecorder()
	notifHandler.ListNotifications(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	notifications := resp["notifications"].([]interface{})
	require.Len(t, notifications, 1)
	entry := notifications[0].(map[string]interface{})
	assert.Equal(t, "a@example.com", entry["recipient"])
}

func TestListNotificationsFilteredByReason(t *testing.T) {
	db := fixtures.SetupTestDBWithMigrations(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	dealerID := fixtures.TestDealer(t, db)
	feedID := fixtures.TestFeed(t, db, dealerID, "PUBLIC_URL", "GENERIC")
	fixtures.TestNotificationLog(t, db, dealerID, feedID, "feed_failed", "ops@example.com", time.Now())
	fixtures.TestNotificationLog(t, db, dealerID, feedID, "subscription_expiring", "ops@example.com", time.Now())

	notifHandler := handler.NewNotificationHandler(db, logger)

	req := httptest.NewRequest("GET", "/api/notifications?reason=subscription_expiring", nil)
	rec := httptest.NewRecorder()
	notifHandler.ListNotifications(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	notifications := resp["notifications"].([]interface{})
	require.Len(t, notifications, 1)
	entry := notifications[0].(map[string]interface{})
	assert.Equal(t, "subscription_expiring", entry["reason"])
}
