package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dealerfeed/ingest-pipeline/internal/scheduler"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PipelineHandler serves the read-only admin introspection surface over
// feeds, feed runs, benchmarks, and insights, plus the manual-ingest
// trigger. It never exposes feed-creation or feed-editing endpoints;
// those remain the external admin surface's responsibility.
type PipelineHandler struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewPipelineHandler(s *store.Store, sch *scheduler.Scheduler, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{store: s, scheduler: sch, logger: logger}
}

// ListFeedsForDealer returns every feed configured for one dealer.
func (h *PipelineHandler) ListFeedsForDealer(w http.ResponseWriter, r *http.Request) {
	dealerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid dealer id", http.StatusBadRequest)
		return
	}

	feeds, err := h.store.ListFeedsForDealer(r.Context(), dealerID)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"feeds": feeds})
}

// ListFeedRuns returns the most recent runs for one feed, newest first.
func (h *PipelineHandler) ListFeedRuns(w http.ResponseWriter, r *http.Request) {
	feedID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid feed id", http.StatusBadRequest)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	runs, err := h.store.ListFeedRuns(r.Context(), feedID, limit)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": runs})
}

// GetFeedRun returns one run's full outcome, including its error histogram.
func (h *PipelineHandler) GetFeedRun(w http.ResponseWriter, r *http.Request) {
	feedID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid feed id", http.StatusBadRequest)
		return
	}
	runID, err := strconv.ParseInt(chi.URLParam(r, "runId"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid run id", http.StatusBadRequest)
		return
	}

	run, ok, err := h.store.GetFeedRun(r.Context(), feedID, runID)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		h.jsonError(w, "feed run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// ListInsightsForDealer returns every derived insight for one dealer's
// matched offers, newest first.
func (h *PipelineHandler) ListInsightsForDealer(w http.ResponseWriter, r *http.Request) {
	dealerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid dealer id", http.StatusBadRequest)
		return
	}

	insights, err := h.store.ListInsightsForDealer(r.Context(), dealerID)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"insights": insights})
}

func (h *PipelineHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feedID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid feed id", http.StatusBadRequest)
		return
	}

	feed, err := h.store.GetFeed(r.Context(), feedID)
	if err != nil {
		h.jsonError(w, "feed not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(feed)
}

// TriggerIngest bypasses the scheduler's window-token tick for one feed
// via the adminOverride path.
type triggerIngestRequest struct {
	AdminOverride bool  `json:"adminOverride" validate:"required"`
	AdminID       int64 `json:"adminId" validate:"required,gt=0"`
}

func (h *PipelineHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	feedID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid feed id", http.StatusBadRequest)
		return
	}

	var req triggerIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.jsonError(w, "adminOverride and adminId are required", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.TriggerManualIngest(r.Context(), feedID, req.AdminID); err != nil {
		h.logger.Error("manual_ingest_trigger_error", slog.Int64("feed_id", feedID), slog.String("error", err.Error()))
		h.jsonError(w, "failed to enqueue ingest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "ingest enqueued"})
}

func (h *PipelineHandler) GetBenchmark(w http.ResponseWriter, r *http.Request) {
	skuID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid canonical sku id", http.StatusBadRequest)
		return
	}

	benchmark, ok, err := h.store.GetBenchmark(r.Context(), skuID)
	if err != nil {
		h.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		h.jsonError(w, "no benchmark computed for this canonical sku", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(benchmark)
}

func (h *PipelineHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
