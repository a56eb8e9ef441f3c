package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/engine"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

const (
	maxBatchSize    = 100
	maxBodyBytes    = 1 << 20
	defaultPageSize = 50
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng       *engine.Engine
	incidents incident.Store
	loader    *config.Loader
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates an HTTP handler and registers all routes. Config reload only
// re-reads the file; whoever registered Loader.OnChange applies it.
func New(eng *engine.Engine, incidents incident.Store, loader *config.Loader, logger *slog.Logger) http.Handler {
	h := &Handler{eng: eng, incidents: incidents, loader: loader, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("POST /v1/events/evaluate", h.evaluateEvent)
	h.mux.HandleFunc("GET /v1/incidents", h.listIncidents)
	h.mux.HandleFunc("POST /v1/retry/drain", h.drainRetries)
	h.mux.HandleFunc("GET /v1/retry/dead-letters", h.listDeadLetters)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(logger, h.mux)
}

// decodeEvent reads a single audit event, filling ID and ReceivedAt.
func decodeEvent(r *http.Request) (*event.AuditEvent, error) {
	var ev event.AuditEvent
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s", err)
	}
	prepare(&ev, time.Now().UTC())
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func prepare(ev *event.AuditEvent, now time.Time) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.ReceivedAt = now
}

// POST /v1/events: detached single-event ingestion.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.eng.Submit(ev); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id": ev.ID,
		"queued":   true,
	})
}

// POST /v1/events/evaluate: synchronous evaluation, returns the process result.
func (h *Handler) evaluateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.eng.ProcessSync(r.Context(), ev)
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch: detached batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.AuditEvent
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBatchSize*maxBodyBytes)).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now().UTC()
	queued, invalid := 0, 0
	for _, ev := range events {
		if ev == nil {
			invalid++
			continue
		}
		prepare(ev, now)
		if err := ev.Validate(); err != nil {
			invalid++
			continue
		}
		if h.eng.Submit(ev) == nil {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   uuid.NewString(),
		"total":    len(events),
		"queued":   queued,
		"invalid":  invalid,
		"rejected": len(events) - queued - invalid,
	})
}

// GET /v1/incidents?status=open&limit=50: newest first.
func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all, err := h.incidents.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	out := make([]*incident.Incident, 0, min(limit, len(all)))
	for _, inc := range all {
		if len(out) == limit {
			break
		}
		switch {
		case status == "":
		case status == "active" && !inc.Status.IsOpen():
			continue
		case status != "active" && string(inc.Status) != status:
			continue
		}
		out = append(out, inc)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(out),
		"incidents": out,
	})
}

// POST /v1/retry/drain: one manual drain pass. The body is optional.
func (h *Handler) drainRetries(w http.ResponseWriter, r *http.Request) {
	req := retry.DrainRequest{Reason: "api"}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
			return
		}
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must not be negative")
		return
	}
	res, err := h.eng.DrainRetryQueue(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/retry/dead-letters?limit=50
func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	store := h.eng.Retries().Store()
	dead, err := store.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := store.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":      pending,
		"dead_letters": dead,
	})
}

// GET /v1/rules: active detectors in evaluation order.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	active := h.eng.Pipeline().Rules()
	infos := make([]rules.Info, 0, len(active))
	for _, rule := range active {
		infos = append(infos, rule.Info())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.loader.Config().Version,
		"rules":   infos,
	})
}

// POST /v1/config/reload: hot-reload config from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"version":     cfg.Version,
		"rules_count": len(h.eng.Pipeline().Rules()),
	})
}

// GET /healthz: always 200 while the process is up.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if event queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func pageSize(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 500 {
		return 0, fmt.Errorf("limit must be an integer in [1, 500]")
	}
	return n, nil
}
