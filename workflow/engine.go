// Package workflow executes case automation rules: it matches case events
// against the enabled rules, applies the guards and runs the matched rules'
// actions, recording one history entry per attempt.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/history"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/notify"
	"github.com/liamcoop/caseflow/rules"
)

// RuleRegistry is the rule surface the engine needs
type RuleRegistry interface {
	RuleSource
	Get(id string) (*rules.Rule, error)
	List() ([]*rules.Rule, error)
	AddRule(rule *rules.Rule) error
	UpdateRule(rule *rules.Rule) error
	DeleteRule(id string) error
	SetEnabled(id string, enabled bool) error
}

// Notifier delivers SEND_NOTIFICATION actions
type Notifier interface {
	Send(ctx context.Context, req notify.Request) ([]notify.Notification, error)
}

// HistoryLog persists attempts and answers the cooldown lookup
type HistoryLog interface {
	Record(ctx context.Context, rec history.Record) (history.Record, error)
	LastSuccess(ctx context.Context, ruleID, caseID string) (history.Record, error)
}

// Deps are the engine's collaborators. Clock defaults to time.Now.
type Deps struct {
	Rules    RuleRegistry
	Cases    cases.CaseDirectory
	Timeline cases.TimelineLog
	Users    cases.UserDirectory
	Notifier Notifier
	History  HistoryLog
	Clock    func() time.Time
}

// Engine runs rules against case events
type Engine struct {
	deps       Deps
	opts       Options
	clock      func() time.Time
	dispatcher *Dispatcher
	locks      *keyLock
	handlers   map[rules.ActionType]actionHandler

	queue     chan cases.Event
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	workers   sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	switch {
	case deps.Rules == nil:
		return nil, errors.New("engine requires a rule registry")
	case deps.Cases == nil || deps.Timeline == nil || deps.Users == nil:
		return nil, errors.New("engine requires case, timeline and user directories")
	case deps.Notifier == nil:
		return nil, errors.New("engine requires a notifier")
	case deps.History == nil:
		return nil, errors.New("engine requires a history log")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deps:       deps,
		opts:       opts,
		clock:      clock,
		dispatcher: NewDispatcher(deps.Rules, opts.FirstMatchOnly),
		locks:      newKeyLock(),
		queue:      make(chan cases.Event, opts.QueueSize),
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
	e.handlers = e.actionHandlers()
	return e, nil
}

// Start launches the workers that drain Submit. Calling it again is a no-op.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.opts.Workers; i++ {
			e.workers.Add(1)
			go e.work()
		}
		logger.Info("Workflow engine started", "workers", e.opts.Workers, "queue_size", e.opts.QueueSize)
	})
}

func (e *Engine) work() {
	defer e.workers.Done()
	for ev := range e.queue {
		e.Dispatch(e.baseCtx, ev, 1)
	}
}

// Submit queues a live event without blocking
func (e *Engine) Submit(ev cases.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock()
	}
	select {
	case e.queue <- ev:
		return nil
	default:
		logger.EventsDropped.Add(1)
		logger.Warn("Event queue full, dropping event", "kind", ev.Kind, "case_id", ev.Case.ID)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to finish. If ctx
// ends first the in-flight work is cancelled and ctx's error returned.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Dispatch runs every rule ev triggers at the given depth and returns the
// records written, including those of follow-up dispatches.
func (e *Engine) Dispatch(ctx context.Context, ev cases.Event, depth int) []history.Record {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock()
	}

	matched, err := e.dispatcher.Match(ev)
	if err != nil {
		logger.Error("Failed to load rules for dispatch", "kind", ev.Kind, "case_id", ev.Case.ID, "error", err)
		return nil
	}
	if len(matched) == 0 {
		return nil
	}
	logger.Debug("Event matched rules", "kind", ev.Kind, "case_id", ev.Case.ID, "depth", depth, "rules", MatchedIDs(matched))

	var records []history.Record
	for _, rule := range matched {
		rec, followUps := e.execute(ctx, rule, ev, depth)
		records = append(records, rec)
		for _, next := range followUps {
			records = append(records, e.Dispatch(ctx, next, depth+1)...)
		}
	}
	return records
}

// RunRule executes one rule against one case on request. Trigger matching
// and scope filters are bypassed; cooldown and the timeouts still apply.
func (e *Engine) RunRule(ctx context.Context, ruleID, caseID string) (history.Record, error) {
	rule, err := e.deps.Rules.Get(ruleID)
	if err != nil {
		return history.Record{}, err
	}
	subject, err := e.deps.Cases.GetCase(ctx, caseID)
	if err != nil {
		return history.Record{}, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}

	ev := cases.Event{
		Case:      subject,
		Timestamp: e.clock(),
		Origin:    cases.OriginManual,
		RuleID:    rule.ID,
	}
	rec, followUps := e.execute(ctx, rule, ev, 1)
	for _, next := range followUps {
		e.Dispatch(ctx, next, 2)
	}
	return rec, nil
}

// execute runs one attempt of rule for ev and writes its record. The
// follow-up events are returned for the caller to dispatch once the key
// lock is released.
func (e *Engine) execute(ctx context.Context, rule *rules.Rule, ev cases.Event, depth int) (history.Record, []cases.Event) {
	rec := history.Record{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		TriggerType:    string(rule.TriggerType),
		TriggerData:    triggerData(ev),
		CaseID:         ev.Case.ID,
		CaseIDSnapshot: ev.Case.ID,
		CaseStatus:     ev.Case.Status,
		Depth:          depth,
		TriggeredBy:    ev.TriggeredBy(),
		StartedAt:      e.clock(),
	}

	if depth > e.opts.MaxDepth {
		rec.Outcome = history.OutcomeSkipped
		rec.ErrorMessage = ReasonMaxDepth
		return e.record(ctx, rec), nil
	}

	unlock, err := e.locks.Lock(ctx, rule.ID+"\x00"+ev.Case.ID)
	if err != nil {
		rec.Outcome = history.OutcomeFailed
		rec.ErrorMessage = fmt.Sprintf("waiting for in-flight execution: %v", err)
		return e.record(ctx, rec), nil
	}
	defer unlock()

	// Earlier rules for the same event may have changed the case
	ev.Case = e.current(ctx, ev.Case)
	rec.CaseStatus = ev.Case.Status

	if e.inCooldown(ctx, rule, ev.Case) {
		rec.Outcome = history.OutcomeSkipped
		rec.ErrorMessage = ReasonCooldown
		return e.record(ctx, rec), nil
	}

	ruleCtx, cancel := context.WithTimeout(ctx, e.opts.RuleTimeout)
	defer cancel()

	followUps := e.runActions(ruleCtx, rule, ev, &rec)
	return e.record(ctx, rec), followUps
}

// current re-reads the case, falling back to snapshot when the directory
// cannot answer.
func (e *Engine) current(ctx context.Context, snapshot cases.Case) cases.Case {
	fresh, err := e.deps.Cases.GetCase(ctx, snapshot.ID)
	if err != nil {
		if !errors.Is(err, cases.ErrCaseNotFound) {
			logger.Warn("Failed to reload case, using event snapshot", "case_id", snapshot.ID, "error", err)
		}
		return snapshot
	}
	return fresh
}

// runActions fills rec's actions and outcome and returns the follow-ups of
// the actions that succeeded.
func (e *Engine) runActions(ctx context.Context, rule *rules.Rule, ev cases.Event, rec *history.Record) []cases.Event {
	subject := ev.Case
	actions := rule.OrderedActions()

	var followUps []cases.Event
	var failures []string
	for _, action := range actions {
		var res actionResult
		if h, ok := e.handlers[action.ActionType]; ok {
			res = e.runAction(ctx, h, actionContext{rule: rule, action: action, subject: subject, event: ev})
		} else {
			res = actionResult{err: fmt.Errorf("%w: unknown action type %q", ErrConfiguration, action.ActionType)}
		}

		outcome := history.ActionOutcome{ActionType: string(action.ActionType), Success: res.err == nil, Detail: res.detail}
		if res.err != nil {
			outcome.Detail = res.err.Error()
			rec.Actions = append(rec.Actions, outcome)
			logger.ActionFailures.Add(1)
			logger.Warn("Action failed", "rule_id", rule.ID, "case_id", subject.ID, "action_type", action.ActionType, "error", res.err)

			failure := fmt.Sprintf("%s: %v", action.ActionType, res.err)
			if fatalActions[action.ActionType] {
				rec.Outcome = history.OutcomeFailed
				rec.ErrorMessage = failure
				return followUps
			}
			failures = append(failures, failure)
			continue
		}

		rec.Actions = append(rec.Actions, outcome)
		if res.subject != nil {
			subject = *res.subject
		}
		if res.followUp != nil {
			followUps = append(followUps, *res.followUp)
		}
	}

	switch {
	case len(actions) > 0 && len(failures) == len(actions):
		rec.Outcome = history.OutcomeFailed
		rec.ErrorMessage = strings.Join(failures, "; ")
	case len(failures) > 0:
		rec.Outcome = history.OutcomeSuccess
		rec.ErrorMessage = fmt.Sprintf("%d of %d actions failed: %s", len(failures), len(actions), strings.Join(failures, "; "))
	default:
		rec.Outcome = history.OutcomeSuccess
	}
	return followUps
}

// inCooldown reports whether a previous SUCCESS still blocks the pair. A
// failed lookup lets the attempt run.
func (e *Engine) inCooldown(ctx context.Context, rule *rules.Rule, subject cases.Case) bool {
	policy, window := e.opts.Cooldown, e.opts.CooldownWindow
	if rule.CooldownSeconds != nil {
		if *rule.CooldownSeconds == 0 {
			return false
		}
		policy, window = CooldownWindow, time.Duration(*rule.CooldownSeconds)*time.Second
	}
	if policy == CooldownNone {
		return false
	}

	last, err := e.deps.History.LastSuccess(ctx, rule.ID, subject.ID)
	if errors.Is(err, history.ErrNotFound) {
		return false
	}
	if err != nil {
		logger.Warn("Cooldown lookup failed, running rule", "rule_id", rule.ID, "case_id", subject.ID, "error", err)
		return false
	}

	switch policy {
	case CooldownWindow:
		return e.clock().Sub(last.StartedAt) < window
	default:
		return !last.StartedAt.Before(subject.StatusSince())
	}
}

// record writes rec on a context that survives the rule's cancellation
func (e *Engine) record(ctx context.Context, rec history.Record) history.Record {
	switch rec.Outcome {
	case history.OutcomeSuccess:
		logger.ExecutionsSucceeded.Add(1)
	case history.OutcomeFailed:
		logger.ExecutionsFailed.Add(1)
	case history.OutcomeSkipped:
		logger.ExecutionsSkipped.Add(1)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.HistoryTimeout)
	defer cancel()

	saved, err := e.deps.History.Record(writeCtx, rec)
	if err != nil {
		logger.Error("Failed to write execution record", "rule_id", rec.RuleID, "case_id", rec.CaseID, "outcome", rec.Outcome, "error", err)
		return rec
	}

	logger.Info("Rule executed",
		"rule_id", saved.RuleID,
		"case_id", saved.CaseID,
		"outcome", saved.Outcome,
		"depth", saved.Depth,
		"triggered_by", saved.TriggeredBy,
		"error_message", saved.ErrorMessage,
	)
	return saved
}

func triggerData(ev cases.Event) map[string]any {
	data := map[string]any{"origin": string(ev.Origin)}
	if ev.Kind != "" {
		data["event"] = string(ev.Kind)
	}
	if ev.PreviousStatus != "" {
		data["previous_status"] = ev.PreviousStatus
	}
	if len(ev.Payload) > 0 {
		data["payload"] = ev.Payload
	}
	if !ev.Timestamp.IsZero() {
		data["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	return data
}

// Rule returns one rule by id
func (e *Engine) Rule(id string) (*rules.Rule, error) {
	return e.deps.Rules.Get(id)
}

// Rules lists every rule, enabled or not
func (e *Engine) Rules() ([]*rules.Rule, error) {
	return e.deps.Rules.List()
}

// AddRule validates and stores a new rule
func (e *Engine) AddRule(rule *rules.Rule) error {
	if err := e.deps.Rules.AddRule(rule); err != nil {
		return err
	}
	logger.Info("Rule added", "rule_id", rule.ID, "trigger_type", rule.TriggerType)
	return nil
}

func (e *Engine) UpdateRule(rule *rules.Rule) error {
	if err := e.deps.Rules.UpdateRule(rule); err != nil {
		return err
	}
	logger.Info("Rule updated", "rule_id", rule.ID)
	return nil
}

func (e *Engine) DeleteRule(id string) error {
	if err := e.deps.Rules.DeleteRule(id); err != nil {
		return err
	}
	logger.Info("Rule deleted", "rule_id", id)
	return nil
}

func (e *Engine) SetEnabled(id string, enabled bool) error {
	if err := e.deps.Rules.SetEnabled(id, enabled); err != nil {
		return err
	}
	logger.Info("Rule toggled", "rule_id", id, "enabled", enabled)
	return nil
}
