// Package insight derives per-dealer observations from the benchmark
// table: price-deviation insights against the median band, plus the
// stock-opportunity and attribute-gap sub-rules.
package insight

import (
	"context"
	"log/slog"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
)

const (
	overpriceHighThreshold    = 0.25
	overpriceMediumThreshold  = 0.15
	underpriceHighThreshold   = -0.25
	underpriceMediumThreshold = -0.15

	stockOpportunityMinSellers = 3
)

// Worker derives insights for one canonical SKU's matched dealer offers.
type Worker struct {
	store  *store.Store
	logger *slog.Logger
}

func NewWorker(s *store.Store, logger *slog.Logger) *Worker {
	return &Worker{store: s, logger: logger}
}

// Process derives every insight type for payload.CanonicalSkuID.
func (w *Worker) Process(ctx context.Context, payload domain.InsightJobPayload) error {
	ctx, span := tracing.StartSpan(ctx, "insight.process")
	defer span.End()

	benchmark, ok, err := w.store.GetBenchmark(ctx, payload.CanonicalSkuID)
	if err != nil {
		return err
	}
	if !ok || benchmark.Confidence == domain.ConfidenceNone {
		return nil
	}

	canonical, ok, err := w.store.GetCanonicalSku(ctx, payload.CanonicalSkuID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	offers, err := w.store.DealerOffersForCanonicalSku(ctx, payload.CanonicalSkuID)
	if err != nil {
		return err
	}

	for _, offer := range offers {
		w.derivePriceInsight(ctx, offer, canonical, benchmark)
		w.deriveStockOpportunity(ctx, offer, canonical, benchmark)
		w.deriveAttributeGap(ctx, offer, canonical)
	}
	return nil
}

func (w *Worker) derivePriceInsight(ctx context.Context, offer store.DealerOffer, canonical domain.CanonicalSku, bm domain.Benchmark) {
	if bm.Median.IsZero() {
		return
	}
	diff, _ := offer.Price.Sub(bm.Median).Div(bm.Median).Float64()

	var insightType domain.InsightType
	var severity domain.Severity
	switch {
	case diff > overpriceHighThreshold:
		insightType, severity = domain.InsightOverpriced, domain.SeverityHigh
	case diff > overpriceMediumThreshold:
		insightType, severity = domain.InsightOverpriced, domain.SeverityMedium
	case diff < underpriceHighThreshold:
		insightType, severity = domain.InsightUnderpriced, domain.SeverityHigh
	case diff < underpriceMediumThreshold:
		insightType, severity = domain.InsightUnderpriced, domain.SeverityMedium
	default:
		return
	}

	w.record(ctx, offer, canonical, insightType, severity)
}

// deriveStockOpportunity fires when the dealer's offer is out of stock
// while the benchmark shows the canonical SKU is actively trading
// (confidence already gated by the caller, plus this sub-rule's stricter
// >=3-seller threshold).
func (w *Worker) deriveStockOpportunity(ctx context.Context, offer store.DealerOffer, canonical domain.CanonicalSku, bm domain.Benchmark) {
	if offer.InStock {
		return
	}
	if bm.SellerCount < stockOpportunityMinSellers {
		return
	}
	w.record(ctx, offer, canonical, domain.InsightStockOpportunity, domain.SeverityMedium)
}

// deriveAttributeGap fires when the canonical SKU has both caliber and
// brand populated but the dealer's own matched fields came back empty.
func (w *Worker) deriveAttributeGap(ctx context.Context, offer store.DealerOffer, canonical domain.CanonicalSku) {
	if canonical.Caliber == "" || canonical.Brand == "" {
		return
	}
	if offer.Caliber != "" && offer.Brand != "" {
		return
	}
	w.record(ctx, offer, canonical, domain.InsightAttributeGap, domain.SeverityMedium)
}

func (w *Worker) record(ctx context.Context, offer store.DealerOffer, canonical domain.CanonicalSku, insightType domain.InsightType, severity domain.Severity) {
	i := domain.Insight{
		DealerID: offer.DealerID, CanonicalSkuID: canonical.ID, DealerSkuID: offer.DealerSkuID,
		Type: insightType, Severity: severity, CreatedAt: time.Now(),
	}
	if err := w.store.InsertInsight(ctx, i); err != nil {
		w.logger.Error("insight_insert_error", slog.String("error", err.Error()))
		return
	}
	metrics.InsightsGeneratedTotal.WithLabelValues(string(insightType)).Inc()
}
