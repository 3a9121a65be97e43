package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/realtime"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DebugHandler struct {
	broker *realtime.Broker
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewDebugHandler(broker *realtime.Broker, db *pgxpool.Pool, logger *slog.Logger) *DebugHandler {
	return &DebugHandler{broker: broker, db: db, logger: logger}
}

// PipelineStats reports queue depth per job type alongside SSE broker stats.
func (h *DebugHandler) PipelineStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.db.Query(ctx, `
		SELECT type, count(*) FROM jobs WHERE status = 'pending' GROUP BY type`)
	if err != nil {
		h.logger.Error("pipeline_stats_query_error", slog.String("error", err.Error()))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var jobType string
		var count int
		if err := rows.Scan(&jobType, &count); err != nil {
			continue
		}
		depth[jobType] = count
	}

	sseStats := h.broker.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"queue_depth_by_type": depth,
		"sse": map[string]interface{}{
			"total_connections": sseStats.TotalConnections,
			"feed_count":        len(sseStats.Feeds),
		},
	})
}

// Seed creates sample dealers, feeds, and canonical SKUs for local
// development. Only available when ENVIRONMENT is development, test, or
// unset.
func (h *DebugHandler) Seed(w http.ResponseWriter, r *http.Request) {
	env := os.Getenv("ENVIRONMENT")
	if env != "development" && env != "test" && env != "" {
		http.Error(w, "seed only available in development/test", http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	tx, err := h.db.Begin(ctx)
	if err != nil {
		h.logger.Error("seed_tx_begin_error", slog.String("error", err.Error()))
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO dealers (id, business_name, subscription_status, expires_at, grace_days, tier, created_at, updated_at) VALUES
		(1, 'AmmoSeek Wholesale', 'ACTIVE', NOW() + interval '30 days', 5, 'STANDARD', NOW(), NOW()),
		(2, 'GunEngine Supply Co', 'ACTIVE', NOW() + interval '30 days', 5, 'STANDARD', NOW(), NOW()),
		(3, 'Impact Outdoors', 'ACTIVE', NOW() + interval '14 days', 3, 'FOUNDING', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET business_name = EXCLUDED.business_name, subscription_status = EXCLUDED.subscription_status
	`)
	if err != nil {
		h.logger.Error("seed_dealers_error", slog.String("error", err.Error()))
		http.Error(w, "failed to seed dealers: "+err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dealer_contacts (dealer_id, name, email, communication_opt_in) VALUES
		(1, 'Ops Team', 'ops@ammoseek-wholesale.test', true),
		(2, 'Supply Desk', 'supply@gunengine-co.test', true),
		(3, 'Outdoors Admin', 'admin@impact-outdoors.test', false)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		h.logger.Error("seed_dealer_contacts_error", slog.String("error", err.Error()))
		http.Error(w, "failed to seed dealer contacts: "+err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO feeds (id, dealer_id, transport, format, url, schedule_minutes, enabled, status, created_at, updated_at) VALUES
		(1, 1, 'AUTH_URL', 'AMMOSEEK_V1', 'https://feeds.ammoseek-wholesale.test/products.xml', 5, true, 'PENDING', NOW(), NOW()),
		(2, 2, 'AUTH_URL', 'GUNENGINE_V2', 'https://feeds.gunengine-co.test/catalog.json', 5, true, 'PENDING', NOW(), NOW()),
		(3, 3, 'SFTP', 'IMPACT', '/outgoing/impact_inventory.csv', 5, true, 'PENDING', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET url = EXCLUDED.url, enabled = EXCLUDED.enabled
	`)
	if err != nil {
		h.logger.Error("seed_feeds_error", slog.String("error", err.Error()))
		http.Error(w, "failed to seed feeds: "+err.Error(), http.StatusInternalServerError)
		return
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO canonical_skus (id, caliber, brand, grain, pack_size) VALUES
		(1, '9mm Luger', 'Federal', 115, 50),
		(2, '.223 Remington', 'PMC', 55, 20),
		(3, '12 Gauge', 'Winchester', 0, 25)
		ON CONFLICT (id) DO UPDATE SET caliber = EXCLUDED.caliber, brand = EXCLUDED.brand
	`)
	if err != nil {
		h.logger.Error("seed_canonical_skus_error", slog.String("error", err.Error()))
		http.Error(w, "failed to seed canonical skus: "+err.Error(), http.StatusInternalServerError)
		return
	}

	_, _ = tx.Exec(ctx, `SELECT setval('dealers_id_seq', COALESCE((SELECT MAX(id) FROM dealers), 1))`)
	_, _ = tx.Exec(ctx, `SELECT setval('feeds_id_seq', COALESCE((SELECT MAX(id) FROM feeds), 1))`)
	_, _ = tx.Exec(ctx, `SELECT setval('canonical_skus_id_seq', COALESCE((SELECT MAX(id) FROM canonical_skus), 1))`)

	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("seed_commit_error", slog.String("error", err.Error()))
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.logger.Info("seed_data_created")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "seed data created successfully",
		"data": map[string]int{
			"dealers":        3,
			"dealer_contacts": 3,
			"feeds":          3,
			"canonical_skus": 3,
		},
	})
}

// ClearSeed removes all seed data. Only available when ENVIRONMENT is
// development, test, or unset.
func (h *DebugHandler) ClearSeed(w http.ResponseWriter, r *http.Request) {
	env := os.Getenv("ENVIRONMENT")
	if env != "development" && env != "test" && env != "" {
		http.Error(w, "clear seed only available in development/test", http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	tables := []string{
		"jobs",
		"repeatable_schedules",
		"notification_logs",
		"insights",
		"benchmarks",
		"product_links",
		"quarantined_records",
		"dealer_skus",
		"canonical_skus",
		"feed_runs",
		"feeds",
		"dealer_contacts",
		"dealers",
	}

	for _, table := range tables {
		if _, err := h.db.Exec(ctx, "DELETE FROM "+table); err != nil {
			h.logger.Error("clear_seed_error", slog.String("table", table), slog.String("error", err.Error()))
			http.Error(w, "failed to clear "+table+": "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	h.logger.Info("seed_data_cleared")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "all seed data cleared"})
}
