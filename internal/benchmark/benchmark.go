// Package benchmark recomputes the cross-seller price summary for a set
// of canonical SKUs: min/median/max/mean/sellerCount/confidence. Writes
// are idempotent last-write-wins per canonical SKU.
package benchmark

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
	"github.com/shopspring/decimal"
)

// Worker recomputes benchmarks for one batch of canonical SKUs.
type Worker struct {
	store  *store.Store
	logger *slog.Logger
}

func NewWorker(s *store.Store, logger *slog.Logger) *Worker {
	return &Worker{store: s, logger: logger}
}

// ProcessBatch recomputes every canonical SKU named in payload (or, when
// payload.CanonicalSkuIDs is empty and Full is set, every canonical SKU in
// the catalog, whether or not its offers changed since an earlier run). It
// returns the IDs whose
// benchmark reached a non-NONE confidence, so the caller can fan out
// insight derivation for exactly the SKUs that now have a usable median.
func (w *Worker) ProcessBatch(ctx context.Context, payload domain.BenchmarkJobPayload) ([]int64, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "benchmark.process_batch")
	defer span.End()
	defer func() { metrics.BenchmarkComputeDuration.Observe(time.Since(start).Seconds()) }()

	ids := payload.CanonicalSkuIDs
	if len(ids) == 0 && payload.Full {
		all, err := w.store.ListCanonicalSkus(ctx)
		if err != nil {
			return nil, err
		}
		ids = make([]int64, len(all))
		for i, c := range all {
			ids[i] = c.ID
		}
	}

	var withBenchmark []int64
	for _, id := range ids {
		ok, err := w.recompute(ctx, id)
		if err != nil {
			w.logger.Error("benchmark_recompute_error", slog.Int64("canonical_sku_id", id), slog.String("error", err.Error()))
			return withBenchmark, err
		}
		if ok {
			withBenchmark = append(withBenchmark, id)
		}
	}
	return withBenchmark, nil
}

// recompute returns true when the resulting benchmark has a non-NONE
// confidence (i.e. is a candidate for insight derivation).
func (w *Worker) recompute(ctx context.Context, canonicalSkuID int64) (bool, error) {
	offers, err := w.store.SellerPricesForCanonicalSku(ctx, canonicalSkuID)
	if err != nil {
		return false, err
	}

	distinctSellers := map[int64]bool{}
	prices := make([]float64, 0, len(offers))
	for _, o := range offers {
		distinctSellers[o.DealerID] = true
		prices = append(prices, o.Price)
	}

	b := domain.Benchmark{CanonicalSkuID: canonicalSkuID, ComputedAt: time.Now()}
	if len(distinctSellers) < 2 {
		b.Confidence = domain.ConfidenceNone
		b.SellerCount = len(distinctSellers)
		metrics.BenchmarksComputedTotal.WithLabelValues(string(b.Confidence)).Inc()
		return false, w.store.UpsertBenchmark(ctx, b)
	}

	sort.Float64s(prices)
	n := len(prices)
	b.Min = decimal.NewFromFloat(prices[0])
	b.Max = decimal.NewFromFloat(prices[n-1])
	b.Median = decimal.NewFromFloat(median(prices))
	b.Mean = decimal.NewFromFloat(mean(prices))
	sellerCount := len(distinctSellers)
	if sellerCount > 10 {
		sellerCount = 10
	}
	b.SellerCount = sellerCount
	b.Confidence = confidenceFor(len(distinctSellers))

	metrics.BenchmarksComputedTotal.WithLabelValues(string(b.Confidence)).Inc()
	return b.Confidence != domain.ConfidenceNone, w.store.UpsertBenchmark(ctx, b)
}

// confidenceFor applies the seller-count thresholds: HIGH >= 5 sellers,
// MEDIUM >= 3, else NONE (the < 2 skip path is handled before this is
// called).
func confidenceFor(distinctSellerCount int) domain.Confidence {
	switch {
	case distinctSellerCount >= 5:
		return domain.ConfidenceHigh
	case distinctSellerCount >= 3:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceNone
	}
}

// median uses sort-middle for odd N, lower-middle for even N.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1]
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
