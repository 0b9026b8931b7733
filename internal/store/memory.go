package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger.Ledger
	deltas  map[string]ledger.Delta
	audit   map[string][]karma.AuditRecord
	audited map[string]karma.AuditRecord
	debts   []karma.DebtRelationship
	// contrib maps the event, repayment or transfer id behind a debt write
	// to the edge it changed.
	contrib map[string]string
	plans   map[string]karma.AtonementPlan
	policy  *recommender.Snapshot
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		ledgers: make(map[string]*ledger.Ledger),
		deltas:  make(map[string]ledger.Delta),
		audit:   make(map[string][]karma.AuditRecord),
		audited: make(map[string]karma.AuditRecord),
		contrib: make(map[string]string),
		plans:   make(map[string]karma.AtonementPlan),
	}
}

func (m *Memory) GetLedger(_ context.Context, userID string) (*ledger.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[userID]
	if !ok {
		return nil, karma.ErrNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) ApplyDelta(_ context.Context, d ledger.Delta) (*ledger.Ledger, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ledgers[d.UserID]
	if !ok {
		cur = ledger.New(d.UserID)
	}
	if _, done := m.deltas[d.ID]; done {
		return cur.Clone(), false, nil
	}
	next, err := ledger.Apply(cur, d)
	if err != nil {
		return nil, false, err
	}
	m.ledgers[d.UserID] = next
	m.deltas[d.ID] = d
	return next.Clone(), true, nil
}

func (m *Memory) GetDelta(_ context.Context, deltaID string) (ledger.Delta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deltas[deltaID]
	if !ok {
		return ledger.Delta{}, karma.ErrNotFound
	}
	return d, nil
}

func (m *Memory) AppendAudit(_ context.Context, rec karma.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.audited[rec.EventID]; ok {
		return nil
	}
	m.audited[rec.EventID] = rec
	m.audit[rec.UserID] = append(m.audit[rec.UserID], rec)
	return nil
}

func (m *Memory) FindAudit(_ context.Context, eventID string) (karma.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.audited[eventID]
	if !ok {
		return rec, karma.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListAudit(_ context.Context, userID string, limit int) ([]karma.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.audit[userID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return append([]karma.AuditRecord{}, recs...), nil
}

func (m *Memory) openDebt(debtorID, creditorID string) int {
	for i, d := range m.debts {
		if !d.Resolved && d.DebtorID == debtorID && d.CreditorID == creditorID {
			return i
		}
	}
	return -1
}

func (m *Memory) debtIndex(id string) int {
	for i, d := range m.debts {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// replayed returns the edge an earlier write keyed by key changed.
func (m *Memory) replayed(key string) (int, bool) {
	if key == "" {
		return -1, false
	}
	id, ok := m.contrib[key]
	if !ok {
		return -1, false
	}
	i := m.debtIndex(id)
	return i, i >= 0
}

func (m *Memory) record(key, debtID string) {
	if key != "" {
		m.contrib[key] = debtID
	}
}

func (m *Memory) MergeDebt(_ context.Context, edge karma.DebtRelationship) (karma.DebtRelationship, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.replayed(edge.OriginEventID); ok {
		return m.debts[i], m.debts[i].OriginEventID == edge.OriginEventID, nil
	}
	out, created := m.merge(edge)
	m.record(edge.OriginEventID, out.ID)
	return out, created, nil
}

func (m *Memory) merge(edge karma.DebtRelationship) (karma.DebtRelationship, bool) {
	if i := m.openDebt(edge.DebtorID, edge.CreditorID); i >= 0 {
		m.debts[i].Magnitude += edge.Magnitude
		m.debts[i].UpdatedAt = edge.UpdatedAt
		return m.debts[i], false
	}
	edge.Resolved, edge.ResolvedAt, edge.ResolutionEventID, edge.Resolution = false, nil, "", ""
	m.debts = append(m.debts, edge)
	return edge, true
}

func (m *Memory) ResolveDebt(_ context.Context, debtorID, creditorID, eventID string, at time.Time) (karma.DebtRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.openDebt(debtorID, creditorID)
	if i < 0 {
		for _, d := range m.debts {
			if d.Resolved && eventID != "" && d.ResolutionEventID == eventID &&
				d.DebtorID == debtorID && d.CreditorID == creditorID {
				return d, nil
			}
		}
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	m.debts[i].Close(karma.ResolutionAtoned, eventID, at)
	return m.debts[i], nil
}

func (m *Memory) RepayDebt(_ context.Context, id string, amount float64, repaymentID string, at time.Time) (karma.DebtRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.debtIndex(id)
	if i < 0 {
		return karma.DebtRelationship{}, karma.ErrNotFound
	}
	if j, ok := m.replayed(repaymentID); ok && j == i {
		return m.debts[i], nil
	}
	next, err := m.debts[i].Repay(amount, repaymentID, at)
	if err != nil {
		return m.debts[i], err
	}
	m.debts[i] = next
	m.record(repaymentID, id)
	return next, nil
}

func (m *Memory) TransferDebt(_ context.Context, id, newDebtorID, transferID string, at time.Time) (karma.DebtRelationship, karma.DebtRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.debtIndex(id)
	if i < 0 {
		return karma.DebtRelationship{}, karma.DebtRelationship{}, karma.ErrNotFound
	}
	cur := m.debts[i]
	if cur.Resolution == karma.ResolutionTransferred && cur.ResolutionEventID == transferID {
		if j, ok := m.replayed(transferID); ok {
			return cur, m.debts[j], nil
		}
	}
	closed, successor, err := cur.Transfer(newDebtorID, transferID, at)
	if err != nil {
		return cur, karma.DebtRelationship{}, err
	}
	m.debts[i] = closed
	merged, _ := m.merge(successor)
	m.record(transferID, merged.ID)
	return closed, merged, nil
}

func (m *Memory) GetDebt(_ context.Context, id string) (karma.DebtRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.debtIndex(id); i >= 0 {
		return m.debts[i], nil
	}
	return karma.DebtRelationship{}, karma.ErrNotFound
}

func (m *Memory) GetUnresolvedDebt(_ context.Context, debtorID, creditorID string) (karma.DebtRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.openDebt(debtorID, creditorID); i >= 0 {
		return m.debts[i], nil
	}
	return karma.DebtRelationship{}, karma.ErrNotFound
}

func (m *Memory) ListDebts(_ context.Context, userID string) ([]karma.DebtRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []karma.DebtRelationship{}
	for _, d := range m.debts {
		if d.DebtorID == userID || d.CreditorID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) SavePlan(_ context.Context, plan karma.AtonementPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

func (m *Memory) GetPlan(_ context.Context, planID string) (karma.AtonementPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok {
		return karma.AtonementPlan{}, karma.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlans(_ context.Context, userID string) ([]karma.AtonementPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []karma.AtonementPlan{}
	for _, p := range m.plans {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) TransitionPlan(_ context.Context, plan karma.AtonementPlan, from karma.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.plans[plan.ID]
	if !ok {
		return karma.ErrNotFound
	}
	if cur.Status != from {
		if cur.Equal(plan) {
			return nil
		}
		return karma.ErrConflict
	}
	m.plans[plan.ID] = plan
	return nil
}

func (m *Memory) LoadPolicy(_ context.Context) (recommender.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.policy == nil {
		return recommender.Snapshot{}, karma.ErrNotFound
	}
	return *m.policy, nil
}

func (m *Memory) SavePolicy(_ context.Context, snap recommender.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Entries = append([]recommender.Entry(nil), snap.Entries...)
	m.policy = &snap
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
