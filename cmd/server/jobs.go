package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dealerfeed/ingest-pipeline/internal/benchmark"
	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/ingest"
	"github.com/dealerfeed/ingest-pipeline/internal/insight"
	"github.com/dealerfeed/ingest-pipeline/internal/match"
	"github.com/dealerfeed/ingest-pipeline/internal/notify"
	"github.com/dealerfeed/ingest-pipeline/internal/queue"
	"github.com/dealerfeed/ingest-pipeline/internal/realtime"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
)

// ingestJobHandler adapts ingest.Worker.Run to the queue.Handler shape and
// broadcasts a start/finish pair of FeedRunEvents so admin dashboard SSE
// clients watching a feed see the run progress without polling.
func ingestJobHandler(w *ingest.Worker, broker *realtime.Broker) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload struct {
			FeedID        int64 `json:"feed_id"`
			AdminID       int64 `json:"admin_id"`
			AdminOverride bool  `json:"admin_override"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal feed_ingest payload: %w", err)
		}

		broker.Broadcast(domain.FeedRunEvent{FeedID: payload.FeedID, Type: "run_started", Stage: "fetch"})

		run, err := w.Run(ctx, payload.FeedID, payload.AdminOverride)
		if err != nil {
			broker.Broadcast(domain.FeedRunEvent{FeedID: payload.FeedID, Type: "run_failed", Stage: "ingest", Message: err.Error()})
			return err
		}

		broker.Broadcast(domain.FeedRunEvent{
			FeedID:    payload.FeedID,
			RunID:     run.ID,
			Type:      "run_finished",
			Stage:     string(run.Status),
			Processed: run.Indexed + run.Quarantined + run.Rejected,
			Total:     run.Total,
		})
		return nil
	}
}

// matchJobHandler adapts match.Worker.ProcessBatch and fans out a
// benchmark recompute for exactly the canonical SKUs this batch touched,
// completing the Match -> Benchmark queue hop of the control flow.
func matchJobHandler(w *match.Worker, q *queue.Pool) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.MatchJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal sku_match payload: %w", err)
		}

		touched, err := w.ProcessBatch(ctx, payload)
		if err != nil {
			return err
		}
		if len(touched) == 0 {
			return nil
		}

		benchPayload := domain.BenchmarkJobPayload{CanonicalSkuIDs: touched}
		data, err := json.Marshal(benchPayload)
		if err != nil {
			return fmt.Errorf("marshal benchmark payload: %w", err)
		}
		key := fmt.Sprintf("benchmark-delta:%d:%d", payload.FeedRunID, payload.BatchIndex)
		if _, err := q.Enqueue(ctx, domain.JobBenchmarkDelta, key, data); err != nil && err != queue.ErrDuplicate {
			return fmt.Errorf("enqueue benchmark delta: %w", err)
		}
		return nil
	}
}

// benchmarkJobHandler adapts benchmark.Worker.ProcessBatch and fans out
// one insight_derive job per canonical SKU that reached a usable
// confidence, completing the Benchmark -> Insight queue hop.
func benchmarkJobHandler(w *benchmark.Worker, q *queue.Pool) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.BenchmarkJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal benchmark payload: %w", err)
		}

		withBenchmark, err := w.ProcessBatch(ctx, payload)
		if err != nil {
			return err
		}

		for _, id := range withBenchmark {
			insightPayload := domain.InsightJobPayload{CanonicalSkuID: id}
			data, err := json.Marshal(insightPayload)
			if err != nil {
				return fmt.Errorf("marshal insight payload: %w", err)
			}
			key := fmt.Sprintf("insight-derive:%d", id)
			if _, err := q.Enqueue(ctx, domain.JobInsightDerive, key, data); err != nil && err != queue.ErrDuplicate {
				return fmt.Errorf("enqueue insight derive: %w", err)
			}
		}
		return nil
	}
}

func insightJobHandler(w *insight.Worker) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		var payload domain.InsightJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal insight payload: %w", err)
		}
		return w.Process(ctx, payload)
	}
}

// notifyJobHandler processes the subscription-expiry tick: every
// non-FOUNDING dealer whose grace period ends within 7 days (or has
// already ended) gets a rate-limited expiry warning.
func notifyJobHandler(st *store.Store, notifier notify.Notifier, logger *slog.Logger) queue.Handler {
	return func(ctx context.Context, job domain.Job) error {
		dealers, err := st.ListDealersSubscriptionExpiringSoon(ctx)
		if err != nil {
			return fmt.Errorf("list expiring dealers: %w", err)
		}
		for _, d := range dealers {
			notifier.NotifySubscriptionExpiring(ctx, d)
		}
		logger.Info("subscription_notify_tick_processed", slog.Int("dealer_count", len(dealers)))
		return nil
	}
}
