package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/config"
	"github.com/dealerfeed/ingest-pipeline/internal/middleware"
	"github.com/dealerfeed/ingest-pipeline/internal/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type SSEHandler struct {
	broker *realtime.Broker
	logger *slog.Logger
	cfg    *config.Config
}

func NewSSEHandler(broker *realtime.Broker, logger *slog.Logger, cfg *config.Config) *SSEHandler {
	return &SSEHandler{broker: broker, logger: logger, cfg: cfg}
}

// StreamFeedRun handles SSE connections watching one feed's ingest progress.
func (h *SSEHandler) StreamFeedRun(w http.ResponseWriter, r *http.Request) {
	feedIDStr := chi.URLParam(r, "id")
	feedID, err := strconv.ParseInt(feedIDStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid feed id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := &realtime.Subscriber{
		ID:       uuid.New().String(),
		Messages: make(chan []byte, 100),
		Done:     make(chan struct{}),
	}

	h.broker.Subscribe(feedID, sub)
	defer h.broker.Unsubscribe(feedID, sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	h.logger.Info("sse_connection_opened",
		slog.String("subscriber_id", sub.ID),
		slog.Int64("feed_id", feedID),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	w.Write([]byte("event: connected\ndata: {\"feed_id\":" + feedIDStr + "}\n\n"))
	flusher.Flush()

	keepalive := time.NewTicker(h.cfg.SSEKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse_connection_closed",
				slog.String("subscriber_id", sub.ID),
				slog.Int64("feed_id", feedID),
			)
			return

		case msg := <-sub.Messages:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
