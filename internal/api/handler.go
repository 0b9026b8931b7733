package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

const (
	defaultMaxBatch = 500
	maxBodyBytes    = 4 << 20
	readyThreshold  = 0.8
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	proc     *engine.Processor
	store    store.Store
	maxBatch int
	logger   *slog.Logger
}

// New creates an HTTP handler and registers all routes.
func New(proc *engine.Processor, st store.Store, maxBatch int, logger *slog.Logger) http.Handler {
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{proc: proc, store: st, maxBatch: maxBatch, logger: logger}

	r := chi.NewRouter()
	r.Use(h.logging)
	h.Register(r)
	return r
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.ingestEvent)
		r.Post("/events/batch", h.ingestBatch)
		r.Get("/users/{id}/profile", h.profile)
		r.Get("/users/{id}/audit", h.auditLog)
		r.Post("/plans/{id}/accept", h.acceptPlan)
		r.Post("/plans/{id}/complete", h.completePlan)
		r.Get("/debts/{id}", h.getDebt)
		r.Post("/debts/{id}/repay", h.repayDebt)
		r.Post("/debts/{id}/transfer", h.transferDebt)
	})
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %s", err)
	}
	return nil
}

// POST /v1/events: synchronous single-event processing.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.proc.ProcessSync(r.Context(), ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchItem struct {
	EventID string         `json:"event_id,omitempty"`
	Status  int            `json:"status"`
	Result  *engine.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// POST /v1/events/batch: waits for every event unless ?async=true, in which
// case events are queued and 202 is returned straight away.
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []event.Event
	if err := decodeBody(w, r, &events); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > h.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), h.maxBatch))
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		queued := 0
		for _, ev := range events {
			if err := h.proc.ProcessAsync(ev); err == nil {
				queued++
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   uuid.NewString(),
			"total":    len(events),
			"queued":   queued,
			"rejected": len(events) - queued,
		})
		return
	}

	items := h.proc.ProcessBatch(r.Context(), events)
	out := make([]batchItem, len(items))
	failed := 0
	for i, it := range items {
		out[i] = batchItem{EventID: events[i].ID, Status: http.StatusOK, Result: it.Result}
		if it.Err != nil {
			failed++
			out[i].Status, out[i].Error = statusFor(it.Err), it.Err.Error()
			continue
		}
		out[i].EventID = it.Result.EventID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(events),
		"failed": failed,
		"items":  out,
	})
}

// GET /v1/users/{id}/profile
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.proc.KarmaProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

// GET /v1/users/{id}/audit?limit=n
func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	userID := chi.URLParam(r, "id")
	recs, err := h.store.ListAudit(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"records": recs,
	})
}

// POST /v1/plans/{id}/accept
func (h *Handler) acceptPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.proc.AcceptPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type completionRequest struct {
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit"`
	Reference string  `json:"reference"`
	Note      string  `json:"note"`
}

// POST /v1/plans/{id}/complete
func (h *Handler) completePlan(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := h.proc.SubmitAtonementCompletion(r.Context(), chi.URLParam(r, "id"), karma.Evidence{
		Quantity:  req.Quantity,
		Unit:      req.Unit,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /v1/debts/{id}
func (h *Handler) getDebt(w http.ResponseWriter, r *http.Request) {
	d, err := h.proc.Debt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type repayRequest struct {
	Amount      float64 `json:"amount"`
	RepaymentID string  `json:"repayment_id"`
}

// POST /v1/debts/{id}/repay
func (h *Handler) repayDebt(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.proc.RepayDebt(r.Context(), chi.URLParam(r, "id"), req.Amount, req.RepaymentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type transferRequest struct {
	NewDebtorID string `json:"new_debtor_id"`
	TransferID  string `json:"transfer_id"`
}

// POST /v1/debts/{id}/transfer
func (h *Handler) transferDebt(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	closed, successor, err := h.proc.TransferDebt(r.Context(), chi.URLParam(r, "id"), req.NewDebtorID, req.TransferID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transferred": closed,
		"successor":   successor,
	})
}

// GET /healthz: always 200 (liveness).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the event queue is over 80% full or the store is
// unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.proc.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness: store ping failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "store_unavailable",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}
