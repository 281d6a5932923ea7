package cases

import "time"

// EventKind labels a case lifecycle event
type EventKind string

const (
	KindCaseCreated   EventKind = "case_created"
	KindCaseUpdated   EventKind = "case_updated"
	KindStatusChanged EventKind = "status_changed"
	KindEvidenceAdded EventKind = "evidence_added"
	KindFindingAdded  EventKind = "finding_added"
	KindTimelineAdded EventKind = "timeline_added"

	// KindTimeBased is only ever produced by the scheduler.
	KindTimeBased EventKind = "time_based"
)

// Origin tells where an event entered the engine
type Origin string

const (
	OriginEvent     Origin = "event"
	OriginScheduler Origin = "scheduler"
	OriginManual    Origin = "manual"
)

// Event is a case lifecycle event delivered to the rules engine.
type Event struct {
	Kind           EventKind      `json:"kind"`
	Case           Case           `json:"case"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Origin         Origin         `json:"origin,omitempty"`

	// RuleID targets a single rule. Set by the scheduler for time_based
	// events and by manual runs.
	RuleID string `json:"rule_id,omitempty"`
}

// TriggeredBy renders the origin the way execution history stores it:
// "scheduler", "manual" or "event:<kind>".
func (e Event) TriggeredBy() string {
	switch e.Origin {
	case OriginScheduler:
		return string(OriginScheduler)
	case OriginManual:
		return string(OriginManual)
	default:
		return "event:" + string(e.Kind)
	}
}
