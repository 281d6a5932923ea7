package workflow

import (
	"fmt"
	"time"
)

// CooldownPolicy selects how long a SUCCESS blocks the same (rule, case)
type CooldownPolicy string

const (
	// CooldownStatus blocks until the case changes status after the success
	CooldownStatus CooldownPolicy = "status"
	// CooldownWindow blocks for a fixed window after the success
	CooldownWindow CooldownPolicy = "window"
	// CooldownNone never blocks
	CooldownNone CooldownPolicy = "none"
)

// Options tunes the engine
type Options struct {
	// Workers drain the Submit queue
	Workers   int
	QueueSize int

	// MaxDepth is the deepest nested dispatch that still executes
	MaxDepth int

	RuleTimeout   time.Duration
	ActionTimeout time.Duration

	// HistoryTimeout bounds the record write, which runs even when the
	// rule's own context is done.
	HistoryTimeout time.Duration

	Cooldown       CooldownPolicy
	CooldownWindow time.Duration

	// FirstMatchOnly executes only the highest-priority matching rule
	FirstMatchOnly bool
}

func DefaultOptions() Options {
	return Options{
		Workers:        4,
		QueueSize:      1024,
		MaxDepth:       3,
		RuleTimeout:    30 * time.Second,
		ActionTimeout:  10 * time.Second,
		HistoryTimeout: 5 * time.Second,
		Cooldown:       CooldownStatus,
		CooldownWindow: time.Hour,
	}
}

func (o Options) validate() error {
	switch {
	case o.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", o.Workers)
	case o.QueueSize < 1:
		return fmt.Errorf("queue size must be at least 1, got %d", o.QueueSize)
	case o.MaxDepth < 1:
		return fmt.Errorf("max depth must be at least 1, got %d", o.MaxDepth)
	case o.RuleTimeout <= 0 || o.ActionTimeout <= 0 || o.HistoryTimeout <= 0:
		return fmt.Errorf("timeouts must be positive")
	}
	switch o.Cooldown {
	case CooldownStatus, CooldownNone:
	case CooldownWindow:
		if o.CooldownWindow <= 0 {
			return fmt.Errorf("cooldown window must be positive for policy %q", o.Cooldown)
		}
	default:
		return fmt.Errorf("unknown cooldown policy %q", o.Cooldown)
	}
	return nil
}
