package realtime

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBroker_StartStop(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	broker.Stop()
}

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feedID := int64(42)
	sub := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}

	broker.Subscribe(feedID, sub)

	broker.mu.RLock()
	subs := broker.subscribers[feedID]
	broker.mu.RUnlock()
	assert.Len(t, subs, 1)
}

func TestBroker_Unsubscribe(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feedID := int64(42)
	sub := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}

	broker.Subscribe(feedID, sub)
	broker.Unsubscribe(feedID, sub)

	broker.mu.RLock()
	subs := broker.subscribers[feedID]
	broker.mu.RUnlock()
	assert.Len(t, subs, 0)
}

func TestBroker_Broadcast(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feedID := int64(42)
	sub := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}
	broker.Subscribe(feedID, sub)

	event := domain.FeedRunEvent{Type: "run_progress", FeedID: feedID, Stage: "parse", Processed: 10, Total: 100}
	broker.Broadcast(event)

	select {
	case received := <-sub.Messages:
		assert.Contains(t, string(received), "run_progress")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("did not receive event")
	}
}

func TestBroker_BroadcastToMultipleSubscribers(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feedID := int64(42)
	subs := make([]*Subscriber, 3)
	for i := 0; i < 3; i++ {
		subs[i] = &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}
		broker.Subscribe(feedID, subs[i])
	}

	event := domain.FeedRunEvent{Type: "run_progress", FeedID: feedID}
	broker.Broadcast(event)

	for i, sub := range subs {
		select {
		case <-sub.Messages:
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestBroker_BroadcastOnlyToTargetFeed(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feed42 := int64(42)
	feed99 := int64(99)

	sub42 := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}
	sub99 := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}

	broker.Subscribe(feed42, sub42)
	broker.Subscribe(feed99, sub99)

	broker.Broadcast(domain.FeedRunEvent{Type: "run_progress", FeedID: feed42})

	select {
	case <-sub42.Messages:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("feed 42 did not receive")
	}

	select {
	case <-sub99.Messages:
		t.Fatal("feed 99 should not receive")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_Stats(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	for i := 0; i < 2; i++ {
		sub := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}
		broker.Subscribe(42, sub)
	}

	sub99 := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 10), Done: make(chan struct{})}
	broker.Subscribe(99, sub99)

	stats := broker.Stats()

	assert.Equal(t, 3, stats.TotalConnections)
	assert.Len(t, stats.Feeds, 2)
}

func TestBroker_SlowSubscriber(t *testing.T) {
	broker := NewBroker(testLogger())
	broker.Start()
	defer broker.Stop()

	feedID := int64(42)
	sub := &Subscriber{ID: uuid.New().String(), Messages: make(chan []byte, 5), Done: make(chan struct{})}
	broker.Subscribe(feedID, sub)

	for i := 0; i < 20; i++ {
		broker.Broadcast(domain.FeedRunEvent{Type: "run_progress", FeedID: feedID, Processed: i})
	}

	time.Sleep(100 * time.Millisecond)

	count := 0
loop:
	for {
		select {
		case <-sub.Messages:
			count++
		case <-time.After(50 * time.Millisecond):
			break loop
		}
	}
	assert.True(t, count > 0)
}
