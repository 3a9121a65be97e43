package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
)

// Broker manages SSE connections and broadcasts feed-run progress events
// to admin dashboard clients, keyed by feed ID.
type Broker struct {
	logger *slog.Logger

	subscribers map[int64]map[*Subscriber]struct{}
	mu          sync.RWMutex

	events chan domain.FeedRunEvent

	done chan struct{}
}

// Subscriber represents an SSE client connection watching one feed.
type Subscriber struct {
	ID       string
	Messages chan []byte
	Done     chan struct{}
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[int64]map[*Subscriber]struct{}),
		events:      make(chan domain.FeedRunEvent, 1000),
		done:        make(chan struct{}),
	}
}

func (b *Broker) Start() {
	go b.broadcastLoop()
	b.logger.Info("sse_broker_started")
}

func (b *Broker) Stop() {
	close(b.done)
	b.logger.Info("sse_broker_stopped")
}

func (b *Broker) Subscribe(feedID int64, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[feedID] == nil {
		b.subscribers[feedID] = make(map[*Subscriber]struct{})
	}
	b.subscribers[feedID][sub] = struct{}{}

	metrics.SSEConnectionsActive.Inc()

	b.logger.Debug("sse_subscriber_added",
		slog.Int64("feed_id", feedID),
		slog.String("subscriber_id", sub.ID),
	)
}

func (b *Broker) Unsubscribe(feedID int64, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[feedID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, feedID)
		}
	}

	metrics.SSEConnectionsActive.Dec()

	b.logger.Debug("sse_subscriber_removed",
		slog.Int64("feed_id", feedID),
		slog.String("subscriber_id", sub.ID),
	)
}

// Broadcast queues a feed-run event for fan-out to that feed's subscribers.
func (b *Broker) Broadcast(event domain.FeedRunEvent) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("sse_event_dropped_queue_full", slog.Int64("feed_id", event.FeedID))
	}
}

func (b *Broker) broadcastLoop() {
	for {
		select {
		case <-b.done:
			return
		case event := <-b.events:
			b.broadcastEvent(event)
		}
	}
}

func (b *Broker) broadcastEvent(event domain.FeedRunEvent) {
	b.mu.RLock()
	subs := b.subscribers[event.FeedID]
	count := len(subs)
	b.mu.RUnlock()

	if count == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("sse_event_marshal_error", slog.String("error", err.Error()))
		return
	}

	message := formatSSE(event.Type, data)

	b.mu.RLock()
	for sub := range b.subscribers[event.FeedID] {
		select {
		case sub.Messages <- message:
		default:
		}
	}
	b.mu.RUnlock()

	metrics.SSESubscribersPerRun.Observe(float64(count))

	b.logger.Debug("sse_event_broadcast",
		slog.Int64("feed_id", event.FeedID),
		slog.String("event_type", event.Type),
		slog.Int("subscribers", count),
	)
}

func formatSSE(eventType string, data []byte) []byte {
	result := make([]byte, 0, len(eventType)+len(data)+20)
	result = append(result, "event: "...)
	result = append(result, eventType...)
	result = append(result, '\n')
	result = append(result, "data: "...)
	result = append(result, data...)
	result = append(result, '\n', '\n')
	return result
}

// Stats returns broker statistics for the debug endpoint.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	feedStats := make([]FeedSubscribers, 0, len(b.subscribers))

	for feedID, subs := range b.subscribers {
		count := len(subs)
		total += count
		feedStats = append(feedStats, FeedSubscribers{FeedID: feedID, Subscribers: count})
	}

	return BrokerStats{TotalConnections: total, Feeds: feedStats}
}

type BrokerStats struct {
	TotalConnections int               `json:"total_connections"`
	Feeds            []FeedSubscribers `json:"feeds"`
}

type FeedSubscribers struct {
	FeedID      int64 `json:"feed_id"`
	Subscribers int   `json:"subscribers"`
}
