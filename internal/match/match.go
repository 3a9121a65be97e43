// Package match links dealer SKUs to canonical SKUs using in-memory O(1)
// lookup maps (by UPC and by caliber|brand) instead of a query per record.
// The maps are updated whenever a lookup misses, so a canonical SKU
// created earlier in the same run is visible to later batches without a
// full reload.
package match

import (
	"context"
	"sync"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/metrics"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
)

// Worker matches batches of dealer SKUs against canonical SKUs.
type Worker struct {
	store *store.Store

	mu      sync.Mutex
	upcMap  map[string]domain.CanonicalSku
	attrMap map[string]domain.CanonicalSku
	epoch   int
}

func NewWorker(s *store.Store) *Worker {
	return &Worker{store: s}
}

// ProcessBatch matches every dealer SKU named in payload and returns the
// distinct canonical SKU IDs touched so the caller can fan out a benchmark
// recompute for exactly the SKUs this batch affected.
func (w *Worker) ProcessBatch(ctx context.Context, payload domain.MatchJobPayload) ([]int64, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "match.process_batch")
	defer span.End()
	defer func() { metrics.MatchBatchDuration.Observe(time.Since(start).Seconds()) }()

	if err := w.ensureMaps(ctx); err != nil {
		return nil, err
	}

	skus, err := w.store.DealerSkusByIDs(ctx, payload.SkuIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var touched []int64
	for _, sku := range skus {
		canonicalID, err := w.matchOne(ctx, sku)
		if err != nil {
			return touched, err
		}
		if _, ok := seen[canonicalID]; !ok {
			seen[canonicalID] = struct{}{}
			touched = append(touched, canonicalID)
		}
	}
	return touched, nil
}

func (w *Worker) ensureMaps(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.upcMap != nil {
		return nil
	}
	return w.reloadLocked(ctx)
}

// reloadLocked rebuilds both lookup maps from the canonical_skus table.
// Caller must hold w.mu.
func (w *Worker) reloadLocked(ctx context.Context) error {
	canonicals, err := w.store.ListCanonicalSkus(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]domain.CanonicalSku, len(canonicals))
	attrMap := make(map[string]domain.CanonicalSku, len(canonicals))
	for _, c := range canonicals {
		byID[c.ID] = c
		attrMap[c.LookupKey()] = c
	}

	upcToID, err := w.store.ListCanonicalSkuUPCs(ctx)
	if err != nil {
		return err
	}
	upcMap := make(map[string]domain.CanonicalSku, len(upcToID))
	for upc, canonicalID := range upcToID {
		if c, ok := byID[canonicalID]; ok {
			upcMap[upc] = c
		}
	}

	w.upcMap = upcMap
	w.attrMap = attrMap
	w.epoch++
	return nil
}

func (w *Worker) matchOne(ctx context.Context, sku domain.DealerSku) (int64, error) {
	w.mu.Lock()
	canonical, hitUPC := w.lookupUPC(sku.RawUPC)
	var hitAttr bool
	if !hitUPC && sku.RawCaliber != "" && sku.RawBrand != "" {
		canonical, hitAttr = w.attrMap[sku.RawCaliber+"|"+sku.RawBrand]
	}
	w.mu.Unlock()

	if hitUPC {
		return canonical.ID, w.link(ctx, sku, canonical, 1.0, domain.MatchByUPC)
	}
	if hitAttr {
		return canonical.ID, w.link(ctx, sku, canonical, 0.75, domain.MatchByAttr)
	}

	// Cache miss: fall back to a direct lookup in case another replica
	// created this canonical SKU since our maps were last built, then
	// create one if it genuinely doesn't exist.
	if sku.RawUPC != "" {
		if found, ok, err := w.store.FindCanonicalSkuByUPC(ctx, sku.RawUPC); err != nil {
			return 0, err
		} else if ok {
			w.addToCache(found)
			w.mu.Lock()
			w.upcMap[sku.RawUPC] = found
			w.mu.Unlock()
			return found.ID, w.link(ctx, sku, found, 1.0, domain.MatchByUPC)
		}
	}
	if sku.RawCaliber != "" && sku.RawBrand != "" {
		if found, ok, err := w.store.FindCanonicalSkuByAttributes(ctx, sku.RawCaliber, sku.RawBrand); err != nil {
			return 0, err
		} else if ok {
			w.addToCache(found)
			return found.ID, w.link(ctx, sku, found, 0.75, domain.MatchByAttr)
		}
	}

	created := domain.CanonicalSku{Caliber: sku.RawCaliber, Brand: sku.RawBrand}
	id, err := w.store.CreateCanonicalSku(ctx, created)
	if err != nil {
		return 0, err
	}
	created.ID = id
	w.addToCache(created)
	if sku.RawUPC != "" {
		w.mu.Lock()
		w.upcMap[sku.RawUPC] = created
		w.mu.Unlock()
	}
	return created.ID, w.link(ctx, sku, created, 0.5, domain.MatchCreated)
}

func (w *Worker) lookupUPC(upc string) (domain.CanonicalSku, bool) {
	if upc == "" {
		return domain.CanonicalSku{}, false
	}
	c, ok := w.upcMap[upc]
	return c, ok
}

func (w *Worker) addToCache(c domain.CanonicalSku) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c.Caliber != "" && c.Brand != "" {
		w.attrMap[c.LookupKey()] = c
	}
}

func (w *Worker) link(ctx context.Context, sku domain.DealerSku, canonical domain.CanonicalSku, score float64, method domain.MatchMethod) error {
	link := domain.ProductLink{
		DealerSkuID: sku.ID, CanonicalSkuID: canonical.ID, MatchScore: score,
		MatchMethod: method, MatchedAt: time.Now(),
	}
	if err := w.store.UpsertProductLink(ctx, link); err != nil {
		return err
	}
	metrics.MatchedTotal.WithLabelValues(string(method)).Inc()
	return nil
}
