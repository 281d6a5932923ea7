// Package scheduler periodically scans for cases that have sat in a status
// long enough to fire TIME_BASED rules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/history"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/rules"
	"github.com/robfig/cron/v3"
)

// DefaultInterval is the scan period when none is configured
const DefaultInterval = 5 * time.Minute

// ErrAlreadyRunning is returned by RunOnce while another scan is in progress
var ErrAlreadyRunning = errors.New("scheduler scan already running")

// RuleSource yields the enabled rules
type RuleSource interface {
	Enabled() ([]*rules.Rule, error)
}

// CaseLister finds the cases sitting in a status
type CaseLister interface {
	ListByStatus(ctx context.Context, status string) ([]cases.Case, error)
}

// Dispatcher runs the rules an event triggers
type Dispatcher interface {
	Dispatch(ctx context.Context, ev cases.Event, depth int) []history.Record
}

// Summary describes one scan
type Summary struct {
	Rules      int
	Candidates int
	Dispatched int
}

// Scheduler owns the periodic scan. At most one scan runs at a time; a tick
// that finds one in progress is skipped.
type Scheduler struct {
	rules    RuleSource
	cases    CaseLister
	engine   Dispatcher
	interval time.Duration
	clock    func() time.Time

	cron    *cron.Cron
	running atomic.Bool

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a scheduler. A zero interval uses DefaultInterval.
func New(source RuleSource, lister CaseLister, engine Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		rules:    source,
		cases:    lister,
		engine:   engine,
		interval: interval,
		clock:    time.Now,
		cron:     cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{}))),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// cronLogger routes cron's own messages into the service logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Start schedules the scan every interval
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.tick); err != nil {
		return fmt.Errorf("failed to schedule scan: %w", err)
	}
	s.cron.Start()
	s.started = true
	logger.Info("Scheduler started", "interval", s.interval.String())
	return nil
}

// Stop cancels any scan in progress and waits for it to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if !s.started {
		return nil
	}
	s.started = false

	select {
	case <-s.cron.Stop().Done():
		logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	summary, err := s.RunOnce(s.ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		logger.SchedulerTicksSkipped.Add(1)
		logger.Warn("Scheduler tick skipped, previous scan still running")
	case err != nil:
		logger.Error("Scheduler scan failed", "error", err)
	default:
		logger.Debug("Scheduler scan finished", "rules", summary.Rules, "candidates", summary.Candidates, "dispatched", summary.Dispatched)
	}
}

// RunOnce performs one scan now unless another is in progress
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	logger.SchedulerRuns.Add(1)
	return s.Scan(ctx, s.clock())
}

// Scan dispatches one time_based event per (rule, case) pair due at now.
// Cooldown in the engine keeps repeated scans from re-firing a pair.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) (Summary, error) {
	var summary Summary

	enabled, err := s.rules.Enabled()
	if err != nil {
		return summary, fmt.Errorf("failed to load rules: %w", err)
	}

	for _, rule := range enabled {
		cfg := rule.TriggerConfig.TimeBased
		if rule.TriggerType != rules.TriggerTimeBased || cfg == nil {
			continue
		}
		summary.Rules++

		candidates, err := s.cases.ListByStatus(ctx, cfg.Status)
		if err != nil {
			logger.Error("Failed to list cases for time-based rule", "rule_id", rule.ID, "status", cfg.Status, "error", err)
			continue
		}
		summary.Candidates += len(candidates)

		for _, c := range Due(rule, candidates, now) {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			s.engine.Dispatch(ctx, cases.Event{
				Kind:      cases.KindTimeBased,
				Case:      c,
				Timestamp: now,
				Origin:    cases.OriginScheduler,
				RuleID:    rule.ID,
				Payload:   map[string]any{"days": cfg.Days, "status": cfg.Status},
			}, 1)
			summary.Dispatched++
		}
	}
	return summary, nil
}

// Due returns the cases that have been in the rule's status for at least its
// days, measured from the last status change or creation.
func Due(rule *rules.Rule, candidates []cases.Case, now time.Time) []cases.Case {
	cfg := rule.TriggerConfig.TimeBased
	if cfg == nil {
		return nil
	}
	threshold := time.Duration(cfg.Days) * 24 * time.Hour

	var due []cases.Case
	for _, c := range candidates {
		if c.Status != cfg.Status || !rule.AppliesTo(c) {
			continue
		}
		if now.Sub(c.StatusSince()) >= threshold {
			due = append(due, c)
		}
	}
	return due
}
