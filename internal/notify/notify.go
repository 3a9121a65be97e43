// Package notify implements the dealer notification gate: a status
// transition table, a 24h subscription-expiry rate limit, and
// first-opted-in contact resolution.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
)

const rateLimitWindow = 24 * time.Hour

const (
	ReasonFeedFailed           = "feed_failed"
	ReasonFeedWarning          = "feed_warning"
	ReasonFeedRecovered        = "feed_recovered"
	ReasonSubscriptionExpiring = "subscription_expiring"
)

// Notifier is the collaborator boundary between the pipeline and however
// dealers are actually reached (email, SMS, webhook).
type Notifier interface {
	NotifyFeedStatus(ctx context.Context, dealer domain.Dealer, feed domain.Feed, newStatus domain.FeedStatus)
	NotifySubscriptionExpiring(ctx context.Context, dealer domain.Dealer)
}

// LogNotifier is the reference Notifier: it resolves the recipient,
// enforces the rate limit, and records the send, logging the message
// body rather than dispatching it over a real channel. Swapping in an
// email/SMS sender only requires a new Notifier implementation.
type LogNotifier struct {
	store  *store.Store
	logger *slog.Logger
}

func NewLogNotifier(s *store.Store, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{store: s, logger: logger}
}

// NotifyFeedStatus sends a notification only on the transitions that
// matter to a dealer: becoming WARNING or FAILED, or recovering to
// HEALTHY from one of those. Lateral moves (WARNING->WARNING,
// FAILED->FAILED) and a WARNING that follows a FAILED are silent, so a
// feed retried after a failure never double-fires.
func (n *LogNotifier) NotifyFeedStatus(ctx context.Context, dealer domain.Dealer, feed domain.Feed, newStatus domain.FeedStatus) {
	if newStatus == feed.Status {
		return
	}

	var reason string
	switch newStatus {
	case domain.FeedFailed:
		reason = ReasonFeedFailed
	case domain.FeedWarning:
		if feed.Status != domain.FeedHealthy && feed.Status != domain.FeedPending {
			return
		}
		reason = ReasonFeedWarning
	case domain.FeedHealthy:
		if feed.Status != domain.FeedFailed && feed.Status != domain.FeedWarning {
			return
		}
		reason = ReasonFeedRecovered
	default:
		return
	}

	n.send(ctx, dealer, feed.ID, reason, false, fmt.Sprintf("feed %d transitioned to %s", feed.ID, newStatus))
}

// NotifySubscriptionExpiring is invoked on the subscription-notify
// scheduler tick for the dealers returned by
// store.ListDealersSubscriptionExpiringSoon.
func (n *LogNotifier) NotifySubscriptionExpiring(ctx context.Context, dealer domain.Dealer) {
	n.send(ctx, dealer, 0, ReasonSubscriptionExpiring, true, fmt.Sprintf("dealer %d subscription expiring %s", dealer.ID, dealer.ExpiresAt))
}

// send resolves the recipient and records the notification. Feed-status
// sends are gated by the transition table alone; only subscription-expiry
// sends carry the 24h rate limit.
func (n *LogNotifier) send(ctx context.Context, dealer domain.Dealer, feedID int64, reason string, rateLimited bool, body string) {
	contact, ok := dealer.FirstOptedInContact()
	if !ok {
		return
	}

	if rateLimited {
		last, err := n.store.LastNotificationAt(ctx, dealer.ID, reason)
		if err != nil {
			n.logger.Error("notify_rate_limit_check_error", slog.String("error", err.Error()))
			return
		}
		if last != nil && time.Since(*last) < rateLimitWindow {
			metrics.NotificationsSuppressedTotal.WithLabelValues(reason).Inc()
			return
		}
	}

	n.logger.Info("dealer_notification_sent",
		slog.Int64("dealer_id", dealer.ID),
		slog.String("recipient", contact.Email),
		slog.String("reason", reason),
		slog.String("body", body),
	)

	log := domain.NotificationLog{DealerID: dealer.ID, FeedID: feedID, Reason: reason, Recipient: contact.Email, SentAt: time.Now()}
	if err := n.store.InsertNotificationLog(ctx, log); err != nil {
		n.logger.Error("notify_insert_log_error", slog.String("error", err.Error()))
		return
	}
	metrics.NotificationsSentTotal.WithLabelValues(reason).Inc()
}
