package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	conf := config.Default()
	conf.Engine.Workers = 2
	conf.Engine.QueueDepth = 16
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := engine.New(context.Background(), conf, st,
		engine.WithLogger(logger),
		engine.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return New(p, st, 3, logger)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v), rec.Body.String())
	return v
}

type batchResponse struct {
	Total  int         `json:"total"`
	Failed int         `json:"failed"`
	Items  []batchItem `json:"items"`
}

type auditResponse struct {
	Records []karma.AuditRecord `json:"records"`
}

func eventJSON(id, user, action string) string {
	return fmt.Sprintf(`{"id":%q,"user_id":%q,"type":"life_event","role":"human","action":%q,"timestamp":"2026-06-01T12:00:00Z"}`,
		id, user, action)
}

func TestIngestEvent(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	rec := do(t, h, http.MethodPost, "/v1/events", eventJSON("e1", "alice", "help"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.Result](t, rec)
	assert.Equal(t, "e1", res.EventID)
	assert.InDelta(t, 0.40, res.Score.Composite, 1e-9)
	require.NotNil(t, res.Audit)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestIngestEventRejectsBadInput(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_id":`},
		{"missing user", `{"type":"life_event","action":"help"}`},
		{"unknown type", `{"user_id":"u","type":"gossip"}`},
		{"intensity out of range", `{"user_id":"u","type":"life_event","action":"help","intensity":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestIngestBatch(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	body := "[" + eventJSON("b1", "dave", "help") + `,{"type":"life_event"},` + eventJSON("b3", "erin", "cheat") + "]"
	rec := do(t, h, http.MethodPost, "/v1/events/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[batchResponse](t, rec)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Items, 3)
	assert.Equal(t, "b1", out.Items[0].EventID)
	assert.Equal(t, http.StatusBadRequest, out.Items[1].Status)
	assert.Equal(t, "b3", out.Items[2].EventID)
}

func TestIngestBatchLimits(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	rec := do(t, h, http.MethodPost, "/v1/events/batch", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	over := "[" + strings.Repeat(eventJSON("", "u", "help")+",", 3) + eventJSON("", "u", "help") + "]"
	rec = do(t, h, http.MethodPost, "/v1/events/batch", over)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "exceeds max 3")
}

func TestIngestBatchAsync(t *testing.T) {
	st := store.NewMemory()
	h := newTestHandler(t, st)

	rec := do(t, h, http.MethodPost, "/v1/events/batch?async=true", "["+eventJSON("a1", "frank", "help")+"]")
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, out["queued"])
	assert.NotEmpty(t, out["job_id"])

	require.Eventually(t, func() bool {
		recs, err := st.ListAudit(context.Background(), "frank", 0)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProfileAndAudit(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	rec := do(t, h, http.MethodGet, "/v1/users/ghost/profile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i, action := range []string{"help", "cheat", "meditate"} {
		rec := do(t, h, http.MethodPost, "/v1/events", eventJSON(fmt.Sprintf("p%d", i), "gita", action))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/users/gita/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	prof := decode[engine.Profile](t, rec)
	assert.Equal(t, "gita", prof.UserID)
	assert.Equal(t, 5, prof.ActiveSeverity)

	rec = do(t, h, http.MethodGet, "/v1/users/gita/audit?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[auditResponse](t, rec)
	require.Len(t, audit.Records, 2)
	assert.Equal(t, "p1", audit.Records[0].EventID)
	assert.Equal(t, "p2", audit.Records[1].EventID)

	rec = do(t, h, http.MethodGet, "/v1/users/gita/audit?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanLifecycle(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	rec := do(t, h, http.MethodPost, "/v1/events", eventJSON("v1", "hari", "violence"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.Result](t, rec)
	require.NotNil(t, res.Plan)
	planPath := "/v1/plans/" + res.Plan.ID

	rec = do(t, h, http.MethodPost, planPath+"/accept", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, karma.PlanAccepted, decode[karma.AtonementPlan](t, rec).Status)

	rec = do(t, h, http.MethodPost, planPath+"/complete", `{"quantity":1,"unit":"donation","reference":"tx-1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, decode[errorResponse](t, rec).Error, "plan requires")

	proof := fmt.Sprintf(`{"quantity":%g,"unit":%q,"reference":"temple receipt"}`, res.Plan.Quantity, res.Plan.Unit)
	rec = do(t, h, http.MethodPost, planPath+"/complete", proof)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[engine.Result](t, rec)
	require.NotNil(t, done.Plan.Evidence)
	assert.Equal(t, "temple receipt", done.Plan.Evidence.Reference)

	rec = do(t, h, http.MethodPost, planPath+"/complete", proof)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, planPath+"/accept", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/plans/nope/complete", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebtRoutes(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())

	ev := `{"id":"c1","user_id":"amy","type":"life_event","role":"human","action":"cheat","counterpart_user_id":"ben"}`
	rec := do(t, h, http.MethodPost, "/v1/events", ev)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.Result](t, rec)
	require.NotNil(t, res.Outcome.Debt)
	debtPath := "/v1/debts/" + res.Outcome.Debt.ID

	rec = do(t, h, http.MethodGet, debtPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 5.0, decode[karma.DebtRelationship](t, rec).Magnitude, 1e-9)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/debts/nope", "").Code)

	rec = do(t, h, http.MethodPost, debtPath+"/repay", `{"amount":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, h, http.MethodPost, debtPath+"/repay", `{"amount":2,"repayment_id":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 3.0, decode[karma.DebtRelationship](t, rec).Magnitude, 1e-9)

	rec = do(t, h, http.MethodPost, debtPath+"/transfer", `{"new_debtor_id":"cat"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown debtor")

	rec = do(t, h, http.MethodPost, "/v1/events", eventJSON("c2", "cat", "help"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, debtPath+"/transfer", `{"new_debtor_id":"cat","transfer_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[struct {
		Transferred karma.DebtRelationship `json:"transferred"`
		Successor   karma.DebtRelationship `json:"successor"`
	}](t, rec)
	assert.Equal(t, karma.ResolutionTransferred, out.Transferred.Resolution)
	assert.Equal(t, "cat", out.Successor.DebtorID)
	assert.InDelta(t, 3.0, out.Successor.Magnitude, 1e-9)

	rec = do(t, h, http.MethodPost, debtPath+"/repay", `{"amount":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "closed edges take no repayments")
}

type unreachableStore struct {
	*store.Memory
}

func (unreachableStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	h := newTestHandler(t, store.NewMemory())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "karma_http_requests_total")

	down := newTestHandler(t, unreachableStore{store.NewMemory()})
	rec = do(t, down, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decode[map[string]any](t, rec)["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: user_id is required", engine.ErrInvalidEvent), http.StatusBadRequest},
		{fmt.Errorf("%w (capacity 4)", engine.ErrQueueFull), http.StatusTooManyRequests},
		{karma.ErrNotFound, http.StatusNotFound},
		{karma.ErrAlreadyCompleted, http.StatusConflict},
		{fmt.Errorf("debt d1: %w", karma.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: quantity must be positive", karma.ErrInvalidEvidence), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: amount exceeds debt", karma.ErrInvalidDebtOp), http.StatusUnprocessableEntity},
		{karma.ErrPlanExpired, http.StatusGone},
		{&karma.PersistenceError{Op: "apply_delta", Attempts: 3, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{fmt.Errorf("event e1: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
