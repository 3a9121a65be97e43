// Package scheduler drives the periodic feed and benchmark ticks: a
// 5-minute feed-ingest tick, a 2-hour benchmark tick, and a subscription-
// expiry notification tick, each deduplicated across replicas via a
// window-token row in repeatable_schedules rather than relying on gocron's
// own (single-process) scheduling to prevent double-firing.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"syscall"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/queue"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/go-co-op/gocron/v2"
)

const (
	feedScheduleName         = "feed_tick"
	benchmarkScheduleName    = "benchmark_tick"
	subscriptionScheduleName = "subscription_notify_tick"

	feedWindow      = 5 * time.Minute
	benchmarkWindow = 2 * time.Hour
)

// Scheduler wires gocron's in-process cron to the durable queue, gating
// every tick's enqueue behind a cross-replica singleton claim.
type Scheduler struct {
	scheduler gocron.Scheduler
	store     *store.Store
	queue     *queue.Pool
	logger    *slog.Logger

	feedTick         time.Duration
	benchmarkTick    time.Duration
	subscriptionTick time.Duration
	jitterMax        time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithFeedTick(d time.Duration) Option      { return func(s *Scheduler) { s.feedTick = d } }
func WithBenchmarkTick(d time.Duration) Option { return func(s *Scheduler) { s.benchmarkTick = d } }
func WithSubscriptionTick(d time.Duration) Option {
	return func(s *Scheduler) { s.subscriptionTick = d }
}
func WithJitterMax(d time.Duration) Option { return func(s *Scheduler) { s.jitterMax = d } }

func New(st *store.Store, q *queue.Pool, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	g, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("gocron scheduler: %w", err)
	}
	s := &Scheduler{
		scheduler:        g,
		store:            st,
		queue:            q,
		logger:           logger,
		feedTick:         feedWindow,
		benchmarkTick:    benchmarkWindow,
		subscriptionTick: 24 * time.Hour,
		jitterMax:        10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the recurring jobs and begins the gocron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.feedTick),
		gocron.NewTask(func() { s.runFeedTick(ctx) }),
	); err != nil {
		return fmt.Errorf("register feed tick: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.benchmarkTick),
		gocron.NewTask(func() { s.runBenchmarkTick(ctx) }),
	); err != nil {
		return fmt.Errorf("register benchmark tick: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.subscriptionTick),
		gocron.NewTask(func() { s.runSubscriptionTick(ctx) }),
	); err != nil {
		return fmt.Errorf("register subscription tick: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("scheduler_started",
		slog.Duration("feed_tick", s.feedTick),
		slog.Duration("benchmark_tick", s.benchmarkTick),
	)
	return nil
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

const (
	connRetryAttempts = 5
	connRetryBase     = 5 * time.Second
	connRetryCap      = 60 * time.Second
)

// retryConn retries fn on connection-level failures (refused connections,
// anything mentioning "connection") with capped exponential backoff, so a
// brief store outage doesn't drop a whole scheduler tick. Other errors
// return immediately.
func retryConn(ctx context.Context, fn func() error) error {
	delay := connRetryBase
	var err error
	for attempt := 0; attempt < connRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isConnError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
		if delay > connRetryCap {
			delay = connRetryCap
		}
	}
	return err
}

func isConnError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection")
}

// windowToken buckets now into a fixed-width window, giving every replica
// waking within the same window the same dedup key.
func windowToken(now time.Time, window time.Duration) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("%d", bucket)
}

func (s *Scheduler) runFeedTick(ctx context.Context) {
	token := windowToken(time.Now(), s.feedTick)
	var claimed bool
	err := retryConn(ctx, func() error {
		var claimErr error
		claimed, claimErr = s.store.ClaimSchedule(ctx, feedScheduleName, token)
		return claimErr
	})
	if err != nil {
		s.logger.Error("scheduler_claim_error", slog.String("tick", feedScheduleName), slog.String("error", err.Error()))
		return
	}
	if !claimed {
		return
	}

	feeds, err := s.store.ListEnabledFeeds(ctx)
	if err != nil {
		s.logger.Error("scheduler_list_feeds_error", slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	for _, feed := range feeds {
		if !feed.IsDue(now) {
			continue
		}

		// Per-feed jitter decorrelates a tick's fan-out without blocking
		// the tick itself; the job sits in the queue until its deferred
		// first-attempt time.
		jitter := time.Duration(rand.Int63n(int64(s.jitterMax) + 1))

		key := fmt.Sprintf("feed-%d-%s", feed.ID, token)
		payload, _ := json.Marshal(map[string]int64{"feed_id": feed.ID})
		if _, err := s.queue.EnqueueAt(ctx, domain.JobFeedIngest, key, payload, now.Add(jitter)); err != nil && err != queue.ErrDuplicate {
			s.logger.Error("scheduler_enqueue_feed_error", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
			continue
		}
		if err := s.store.MarkFeedRunAt(ctx, feed.ID, now); err != nil {
			s.logger.Error("scheduler_mark_run_at_error", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) runBenchmarkTick(ctx context.Context) {
	token := windowToken(time.Now(), s.benchmarkTick)
	var claimed bool
	err := retryConn(ctx, func() error {
		var claimErr error
		claimed, claimErr = s.store.ClaimSchedule(ctx, benchmarkScheduleName, token)
		return claimErr
	})
	if err != nil {
		s.logger.Error("scheduler_claim_error", slog.String("tick", benchmarkScheduleName), slog.String("error", err.Error()))
		return
	}
	if !claimed {
		return
	}

	key := fmt.Sprintf("benchmark-full-%s", token)
	payload, _ := json.Marshal(domain.BenchmarkJobPayload{Full: true})
	if _, err := s.queue.Enqueue(ctx, domain.JobBenchmarkFull, key, payload); err != nil && err != queue.ErrDuplicate {
		s.logger.Error("scheduler_enqueue_benchmark_error", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) runSubscriptionTick(ctx context.Context) {
	token := windowToken(time.Now(), s.subscriptionTick)
	var claimed bool
	err := retryConn(ctx, func() error {
		var claimErr error
		claimed, claimErr = s.store.ClaimSchedule(ctx, subscriptionScheduleName, token)
		return claimErr
	})
	if err != nil {
		s.logger.Error("scheduler_claim_error", slog.String("tick", subscriptionScheduleName), slog.String("error", err.Error()))
		return
	}
	if !claimed {
		return
	}
	key := fmt.Sprintf("notify-dealer-%s", token)
	payload, _ := json.Marshal(map[string]string{"kind": "subscription_expiring"})
	if _, err := s.queue.Enqueue(ctx, domain.JobNotifyDealer, key, payload); err != nil && err != queue.ErrDuplicate {
		s.logger.Error("scheduler_enqueue_notify_error", slog.String("error", err.Error()))
	}
}

// TriggerManualIngest bypasses the tick schedule for an admin-initiated
// run. It always enqueues regardless of window-token dedup since it's
// explicitly requested.
func (s *Scheduler) TriggerManualIngest(ctx context.Context, feedID, adminID int64) error {
	key := fmt.Sprintf("feed-manual-%d-%d-%d", feedID, adminID, time.Now().UnixNano())
	payload, err := json.Marshal(map[string]interface{}{
		"feed_id": feedID, "admin_id": adminID, "admin_override": true,
	})
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(ctx, domain.JobFeedIngest, key, payload)
	if err != nil && err != queue.ErrDuplicate {
		return err
	}
	return nil
}
