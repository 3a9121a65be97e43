package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationHandler exposes the append-only notification log for admin
// review. There is no per-recipient read/unread state: notification_logs
// is a rate-limit audit trail, not a user inbox.
type NotificationHandler struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewNotificationHandler(db *pgxpool.Pool, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{db: db, logger: logger}
}

// ListNotifications returns recent notification log entries, optionally
// filtered by dealer_id or reason query params.
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	dealerIDStr := r.URL.Query().Get("dealer_id")
	reason := r.URL.Query().Get("reason")

	query := `
		SELECT id, dealer_id, feed_id, reason, recipient, sent_at
		FROM notification_logs
		WHERE ($1 = 0 OR dealer_id = $1) AND ($2 = '' OR reason = $2)
		ORDER BY sent_at DESC
		LIMIT $3
	`
	var dealerID int64
	if dealerIDStr != "" {
		dealerID, _ = strconv.ParseInt(dealerIDStr, 10, 64)
	}

	rows, err := h.db.Query(ctx, query, dealerID, reason, limit)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	logs := make([]map[string]interface{}, 0)
	for rows.Next() {
		var (
			id                int64
			dID, fID          int64
			reasonVal, recip  string
			sentAt            time.Time
		)
		if err := rows.Scan(&id, &dID, &fID, &reasonVal, &recip, &sentAt); err != nil {
			continue
		}
		logs = append(logs, map[string]interface{}{
			"id":        id,
			"dealer_id": dID,
			"feed_id":   fID,
			"reason":    reasonVal,
			"recipient": recip,
			"sent_at":   sentAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"notifications": logs, "limit": limit})
}

func (h *NotificationHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
