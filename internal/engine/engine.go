package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/karmachain/internal/audit"
	"github.com/gyaneshwarpardhi/karmachain/internal/classifier"
	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/event"
	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
	"github.com/gyaneshwarpardhi/karmachain/internal/ledger"
	"github.com/gyaneshwarpardhi/karmachain/internal/mapper"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
	"github.com/gyaneshwarpardhi/karmachain/internal/purushartha"
	"github.com/gyaneshwarpardhi/karmachain/internal/recommender"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
)

var (
	// ErrInvalidEvent is returned for events that fail intake validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrQueueFull is returned when the event queue has no free slot.
	ErrQueueFull = errors.New("event queue full")
)

var tracer = otel.Tracer("github.com/gyaneshwarpardhi/karmachain/internal/engine")

// MaxIntensity bounds Event.Intensity.
const MaxIntensity = 2.0

// Result is the outcome of one processed event or plan completion.
type Result struct {
	EventID    string                  `json:"event_id"`
	UserID     string                  `json:"user_id"`
	Delta      ledger.Delta            `json:"token_deltas"`
	Outcome    karma.ClassifierOutcome `json:"classifier_outcome"`
	Score      karma.Score             `json:"score"`
	Plan       *karma.AtonementPlan    `json:"atonement_plan,omitempty"`
	Audit      *karma.AuditRecord      `json:"audit,omitempty"`
	Loka       ledger.Loka             `json:"loka,omitempty"`
	Reward     *float64                `json:"reward,omitempty"`
	Replayed   bool                    `json:"replayed,omitempty"`
	// Reconciled marks a replay whose audit record was missing and has been
	// rebuilt from the journaled delta.
	Reconciled bool                    `json:"reconciled,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
}

// Processor runs events through evaluation, token mapping, classification,
// recommendation and audit. It is safe for concurrent use; mutations of one
// user's ledger are serialised.
type Processor struct {
	store      store.Store
	evaluator  *purushartha.Evaluator
	classifier *classifier.Classifier
	policy     *recommender.Policy
	mirror     audit.Publisher
	tokens     mapper.Params
	threshold  int
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	locks *userLocks
	pool  *workerPool[*job]
}

type job struct {
	ctx     context.Context
	cancel  context.CancelFunc
	ev      event.Event
	resultC chan jobResult
}

type jobResult struct {
	res *Result
	err error
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Processor) { p.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// WithMirror publishes committed audit records to m.
func WithMirror(m audit.Publisher) Option { return func(p *Processor) { p.mirror = m } }

// WithPolicy injects a recommender policy instead of building one from config.
func WithPolicy(pol *recommender.Policy) Option { return func(p *Processor) { p.policy = pol } }

// New builds a Processor from validated config, restores the recommender
// policy from the store when one is saved there, and starts the worker pool.
// Call Shutdown to drain it.
func New(ctx context.Context, conf *config.Config, st store.Store, opts ...Option) (*Processor, error) {
	ev, err := purushartha.FromConfig(conf.Scoring)
	if err != nil {
		return nil, fmt.Errorf("build evaluator: %w", err)
	}
	p := &Processor{
		store:      st,
		evaluator:  ev,
		classifier: classifier.New(conf.Classifier.PrarabdhaTopN),
		mirror:     audit.Nop{},
		tokens:     mapper.ParamsFromConfig(conf.Tokens),
		threshold:  conf.Recommender.RecommendThreshold,
		timeout:    time.Duration(conf.Engine.EventTimeoutMs) * time.Millisecond,
		logger:     slog.Default(),
		now:        time.Now,
		locks:      newUserLocks(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.policy == nil {
		p.policy = recommender.New(recommender.ParamsFromConfig(conf.Recommender))
		if err := p.restorePolicy(ctx); err != nil {
			return nil, err
		}
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}

	p.pool = newWorkerPool(ctx, conf.Engine.Workers, conf.Engine.QueueDepth, func(_ context.Context, j *job) {
		res, err := p.ProcessEvent(j.ctx, j.ev)
		metrics.QueueUtilization.Set(p.QueueUtilization())
		if j.resultC != nil {
			j.resultC <- jobResult{res: res, err: err}
			return
		}
		j.cancel()
		if err != nil {
			p.logger.Error("async event failed", "event_id", j.ev.ID, "user_id", j.ev.UserID, "error", err)
		}
	})
	return p, nil
}

func (p *Processor) restorePolicy(ctx context.Context) error {
	snap, err := p.store.LoadPolicy(ctx)
	if errors.Is(err, karma.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	dropped := p.policy.Restore(snap)
	p.logger.Info("recommender policy restored", "entries", len(snap.Entries)-dropped, "dropped", dropped)
	return nil
}

// Policy exposes the recommender policy.
func (p *Processor) Policy() *recommender.Policy { return p.policy }

// ProcessSync queues ev and waits for its result. Returns ErrQueueFull if the
// queue is full.
func (p *Processor) ProcessSync(ctx context.Context, ev event.Event) (*Result, error) {
	jctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	j := &job{ctx: jctx, cancel: cancel, ev: ev, resultC: make(chan jobResult, 1)}
	if !p.pool.Submit(j) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, p.pool.QueueCap())
	}
	metrics.EventsEnqueued.Inc()

	select {
	case r := <-j.resultC:
		return r.res, r.err
	case <-jctx.Done():
		return nil, fmt.Errorf("event %s: %w", ev.ID, jctx.Err())
	}
}

// ProcessAsync enqueues ev for background processing. Returns ErrQueueFull if
// the queue is full.
func (p *Processor) ProcessAsync(ev event.Event) error {
	jctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	if !p.pool.Submit(&job{ctx: jctx, cancel: cancel, ev: ev}) {
		cancel()
		metrics.EventsDropped.Inc()
		return ErrQueueFull
	}
	metrics.EventsEnqueued.Inc()
	return nil
}

// BatchItem is one entry of a ProcessBatch result, in input order.
type BatchItem struct {
	Result *Result
	Err    error
}

// ProcessBatch runs events through the worker pool and waits for all of them.
// Events of one user may be applied in any order; callers that need strict
// per-user order should call ProcessEvent sequentially.
func (p *Processor) ProcessBatch(ctx context.Context, events []event.Event) []BatchItem {
	out := make([]BatchItem, len(events))
	pending := make([]*job, len(events))
	for i, ev := range events {
		jctx, cancel := context.WithTimeout(ctx, p.timeout)
		j := &job{ctx: jctx, cancel: cancel, ev: ev, resultC: make(chan jobResult, 1)}
		if !p.pool.Submit(j) {
			cancel()
			metrics.EventsDropped.Inc()
			out[i].Err = ErrQueueFull
			continue
		}
		metrics.EventsEnqueued.Inc()
		pending[i] = j
	}
	for i, j := range pending {
		if j == nil {
			continue
		}
		select {
		case r := <-j.resultC:
			out[i] = BatchItem{Result: r.res, Err: r.err}
		case <-j.ctx.Done():
			out[i].Err = j.ctx.Err()
		}
		j.cancel()
	}
	return out
}

// QueueUtilization returns queue used / capacity (0–1).
func (p *Processor) QueueUtilization() float64 {
	if p.pool.QueueCap() == 0 {
		return 0
	}
	return float64(p.pool.QueueLen()) / float64(p.pool.QueueCap())
}

// Shutdown drains the worker pool and saves the recommender policy.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.pool.Drain()
	if err := p.store.SavePolicy(ctx, p.policy.Snapshot()); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// normalize validates ev and returns the canonical copy the pipeline works on.
func (p *Processor) normalize(ev event.Event) (event.Event, error) {
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.UserID == "" {
		return ev, fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.Intensity < 0 || ev.Intensity > MaxIntensity {
		return ev, fmt.Errorf("%w: intensity %.2f outside [0, %.0f], 0 = default", ErrInvalidEvent, ev.Intensity, MaxIntensity)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Role = event.Role(strings.ToLower(strings.TrimSpace(string(ev.Role))))
	ev.Action = ev.Action.Normalize()
	ev.CounterpartID = strings.TrimSpace(ev.CounterpartID)
	return ev, nil
}

// ProcessEvent runs ev through the pipeline. It returns ErrInvalidEvent for
// malformed input, the context error when cancelled before the ledger write,
// and *karma.PersistenceError when the ledger write or audit append fails.
// Every other stage degrades to a neutral outcome with an audit flag.
func (p *Processor) ProcessEvent(ctx context.Context, in event.Event) (res *Result, err error) {
	start := time.Now()
	ev, err := p.normalize(in)
	if err != nil {
		metrics.EventsProcessed.WithLabelValues(string(in.Type), "invalid").Inc()
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.ProcessEvent", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", string(ev.Type)),
		attribute.String("user.id", ev.UserID),
	))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.EventsProcessed.WithLabelValues(string(ev.Type), status).Inc()
		metrics.EventProcessingDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	unlock, err := p.locks.Lock(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &Result{EventID: ev.ID, UserID: ev.UserID}
	var flags []karma.Flag

	// evaluated
	score := purushartha.Neutral()
	score.Role, score.Action = p.evaluator.Resolve(&ev)
	if ev.Type.Scored() {
		score, flags = p.evaluate(ctx, &ev)
	}
	res.Score = karma.Score{
		Composite: score.Composite,
		Axes:      score.Axes.Map(),
		Features:  score.Features,
		Role:      string(score.Role),
		Action:    string(score.Action),
	}

	// scored + classified on the projected ledger
	cur, err := p.loadLedger(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}
	mapped := mapper.Map(&ev, score, p.tokens)
	delta := ledger.NewDelta(ev.ID, ev.UserID, ev.Timestamp)
	delta.Merge(mapper.Decay(cur, ev.Timestamp, p.tokens))
	delta.Merge(mapped)
	delta, outcome, err := p.classify(ctx, cur, delta)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, applied, err := p.apply(ctx, delta)
	if err != nil {
		return nil, err
	}
	res.Delta = delta
	res.Outcome = outcome
	if !applied {
		res.Replayed = true
		done, err := p.replay(ctx, res, next)
		if err != nil {
			return nil, err
		}
		if done {
			p.logger.Info("event already applied", "event_id", ev.ID, "user_id", ev.UserID)
			res.DurationMs = time.Since(start).Milliseconds()
			return res, nil
		}
		// The ledger holds the event but its audit never landed: finish the
		// pipeline from the journaled delta.
		delta = res.Delta
		mapped = ledger.Delta{NewPaap: delta.NewPaap}
		flags = append(flags, p.flag(karma.FlagReconciled))
		p.logger.Warn("reconciling event with missing audit", "event_id", ev.ID, "user_id", ev.UserID)
	}

	// Committed: the rest runs to audit regardless of caller cancellation.
	wctx := context.WithoutCancel(ctx)

	debt := p.debts(wctx, &ev, mapped)
	res.Outcome.DebtAction = debt.Action
	res.Outcome.Debt = debt.Edge
	flags = append(flags, debt.Flags...)

	if ev.Type == event.TypeDeathEvent {
		res.Loka = ledger.AssignLoka(next.NetKarma())
	}

	if ev.Type == event.TypeAppeal || next.ActiveSeverity() >= p.threshold {
		plan, pflags := p.recommend(wctx, ev.UserID, next)
		res.Plan = plan
		flags = append(flags, pflags...)
	}

	rec := karma.AuditRecord{
		ID:        uuid.NewString(),
		EventID:   ev.ID,
		UserID:    ev.UserID,
		Delta:     delta,
		Score:     res.Score,
		Outcome:   res.Outcome,
		Flags:     flags,
		Loka:      res.Loka,
		Timestamp: p.now().UTC(),
	}
	if res.Plan != nil {
		rec.RecommendedPlanID = res.Plan.ID
	}
	if err := p.appendAudit(wctx, rec); err != nil {
		return nil, err
	}
	res.Audit = &rec
	res.DurationMs = time.Since(start).Milliseconds()

	p.logger.Debug("event processed",
		"event_id", ev.ID,
		"user_id", ev.UserID,
		"type", ev.Type,
		"composite", score.Composite,
		"active_severity", next.ActiveSeverity(),
		"flags", flags,
	)
	return res, nil
}

// replay fills res for an event the ledger already holds. It reports done
// when the event's audit record exists; otherwise res carries the journaled
// delta and the caller completes the remaining stages.
func (p *Processor) replay(ctx context.Context, res *Result, cur *ledger.Ledger) (bool, error) {
	rec, err := p.store.FindAudit(ctx, res.EventID)
	switch {
	case err == nil:
		res.Delta = rec.Delta
		res.Outcome = rec.Outcome
		res.Score = rec.Score
		res.Loka = rec.Loka
		res.Audit = &rec
		return true, nil
	case !errors.Is(err, karma.ErrNotFound):
		return false, p.persistence("find_audit", err)
	}

	journaled, err := p.store.GetDelta(ctx, res.EventID)
	if errors.Is(err, karma.ErrNotFound) {
		p.logger.Warn("replayed event has no journaled delta", "event_id", res.EventID)
		return true, nil
	}
	if err != nil {
		return false, p.persistence("get_delta", err)
	}
	_, outcome := p.classifier.Split(cur, journaled.At)
	res.Delta = journaled
	res.Outcome = outcome
	res.Reconciled = true
	return false, nil
}

func (p *Processor) evaluate(ctx context.Context, ev *event.Event) (purushartha.Score, []karma.Flag) {
	_, span := tracer.Start(ctx, "engine.evaluate")
	defer span.End()
	defer observeStage("evaluate", time.Now())

	var flags []karma.Flag
	score, err := p.evaluator.Evaluate(ev)
	if err != nil {
		var ue *purushartha.UnclassifiedActionError
		if errors.As(err, &ue) {
			flags = append(flags, p.flag(karma.FlagUnclassifiedAction))
			p.logger.Warn("unclassified action", "event_id", ev.ID,
				"action", ue.Action, "role", ue.Role,
				"resolved_action", ue.ResolvedAction, "resolved_role", ue.ResolvedRole)
		}
		return score, flags
	}
	if score.FeatureErr != nil {
		flags = append(flags, p.flag(karma.FlagFeatureError))
		p.logger.Warn("feature rules failed", "event_id", ev.ID, "error", score.FeatureErr)
	}
	return score, flags
}

// classify folds the class split of the projected ledger into delta.
func (p *Processor) classify(ctx context.Context, cur *ledger.Ledger, delta ledger.Delta) (ledger.Delta, karma.ClassifierOutcome, error) {
	_, span := tracer.Start(ctx, "engine.classify")
	defer span.End()
	defer observeStage("classify", time.Now())

	projected, err := ledger.Apply(cur, delta)
	if err != nil {
		return delta, karma.ClassifierOutcome{}, fmt.Errorf("project ledger: %w", err)
	}
	split, outcome := p.classifier.Split(projected, delta.At)
	delta.Merge(split)
	return delta, outcome, nil
}

func (p *Processor) loadLedger(ctx context.Context, userID string) (*ledger.Ledger, error) {
	l, err := p.store.GetLedger(ctx, userID)
	if errors.Is(err, karma.ErrNotFound) {
		return ledger.New(userID), nil
	}
	if err != nil {
		return nil, p.persistence("get_ledger", err)
	}
	return l, nil
}

func (p *Processor) apply(ctx context.Context, d ledger.Delta) (*ledger.Ledger, bool, error) {
	ctx, span := tracer.Start(ctx, "engine.apply")
	defer span.End()
	defer observeStage("apply", time.Now())

	next, applied, err := p.store.ApplyDelta(ctx, d)
	if err != nil {
		return nil, false, p.persistence("apply_delta", err)
	}
	span.SetAttributes(attribute.Bool("delta.applied", applied), attribute.Int64("ledger.version", next.Version))
	return next, applied, nil
}

func (p *Processor) debts(ctx context.Context, ev *event.Event, mapped ledger.Delta) classifier.DebtResult {
	ctx, span := tracer.Start(ctx, "engine.debts")
	defer span.End()
	defer observeStage("debts", time.Now())

	var mag float64
	for _, e := range mapped.NewPaap {
		mag += e.Magnitude
	}
	res := p.classifier.Debts(ctx, p.store, ev, mag)
	for _, f := range res.Flags {
		p.flag(f)
	}
	if len(res.Flags) > 0 {
		p.logger.Warn("debt bookkeeping degraded", "event_id", ev.ID, "flags", res.Flags)
	}
	return res
}

// recommend proposes a plan unless the user already has a live one. Stale
// plans found on the way are marked expired.
func (p *Processor) recommend(ctx context.Context, userID string, l *ledger.Ledger) (*karma.AtonementPlan, []karma.Flag) {
	ctx, span := tracer.Start(ctx, "engine.recommend")
	defer span.End()
	defer observeStage("recommend", time.Now())

	now := p.now().UTC()
	plans, err := p.store.ListPlans(ctx, userID)
	if err != nil {
		p.logger.Error("list plans", "user_id", userID, "error", err)
		return nil, []karma.Flag{p.flag(karma.FlagRecommendFailed)}
	}
	last := recommender.NoPillar
	for _, pl := range plans {
		switch {
		case pl.Status == karma.PlanCompleted:
			last = pl.Pillar
		case pl.Status.Active() && pl.Expired(now):
			p.expire(ctx, pl)
		case pl.Status.Active():
			return nil, []karma.Flag{p.flag(karma.FlagActivePlanExists)}
		}
	}

	plan, err := p.policy.Recommend(userID, l.ActiveSeverity(), last, now)
	if err != nil {
		p.logger.Error("recommend", "user_id", userID, "error", err)
		return nil, []karma.Flag{p.flag(karma.FlagRecommendFailed)}
	}
	if err := p.store.SavePlan(ctx, plan); err != nil {
		p.logger.Error("save plan", "user_id", userID, "plan_id", plan.ID, "error", err)
		return nil, []karma.Flag{p.flag(karma.FlagRecommendFailed)}
	}
	metrics.PlansRecommended.WithLabelValues(string(plan.Pillar)).Inc()
	span.SetAttributes(attribute.String("plan.pillar", string(plan.Pillar)), attribute.Int("plan.intensity", plan.Intensity))
	return &plan, nil
}

func (p *Processor) expire(ctx context.Context, pl karma.AtonementPlan) {
	from := pl.Status
	pl.Status = karma.PlanExpired
	if err := p.store.TransitionPlan(ctx, pl, from); err != nil && !errors.Is(err, karma.ErrConflict) {
		p.logger.Warn("expire plan", "plan_id", pl.ID, "error", err)
	}
}

func (p *Processor) appendAudit(ctx context.Context, rec karma.AuditRecord) error {
	ctx, span := tracer.Start(ctx, "engine.audit")
	defer span.End()
	defer observeStage("audit", time.Now())

	if err := p.store.AppendAudit(ctx, rec); err != nil {
		return p.persistence("append_audit", err)
	}
	p.mirror.Publish(ctx, rec)
	return nil
}

// persistence normalises store failures to *karma.PersistenceError. Caller
// cancellation passes through unchanged.
func (p *Processor) persistence(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pe *karma.PersistenceError
	if !errors.As(err, &pe) {
		pe = &karma.PersistenceError{Op: op, Attempts: 1, Err: err}
		err = pe
	}
	metrics.PersistenceErrors.WithLabelValues(pe.Op).Inc()
	p.logger.Error("persistence failure", "op", pe.Op, "attempts", pe.Attempts, "error", pe.Err)
	return err
}

func (p *Processor) flag(f karma.Flag) karma.Flag {
	metrics.FlagsRaised.WithLabelValues(string(f)).Inc()
	return f
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(float64(time.Since(start).Microseconds()) / 1000)
}
