package rules

import (
	"slices"
	"sort"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/conditions"
)

// TriggerType selects which trigger variant a rule carries
type TriggerType string

const (
	TriggerStatusChange TriggerType = "STATUS_CHANGE"
	TriggerTimeBased    TriggerType = "TIME_BASED"
	TriggerEvent        TriggerType = "EVENT"
	TriggerCondition    TriggerType = "CONDITION"
)

// ActionType selects which action variant an action carries
type ActionType string

const (
	ActionChangeStatus     ActionType = "CHANGE_STATUS"
	ActionAssignUser       ActionType = "ASSIGN_USER"
	ActionAddTag           ActionType = "ADD_TAG"
	ActionSendNotification ActionType = "SEND_NOTIFICATION"
	ActionCreateTimeline   ActionType = "CREATE_TIMELINE"
)

// Rule pairs a trigger with an ordered list of actions
type Rule struct {
	ID            string
	Name          string
	Description   string
	TriggerType   TriggerType
	TriggerConfig TriggerConfig
	Enabled       bool

	// Priority orders evaluation, lower first
	Priority int

	// ScopeCodes and CaseTypes restrict the rule when non-empty
	ScopeCodes []string
	CaseTypes  []string

	// CooldownSeconds overrides the engine cooldown policy for this rule.
	// Zero disables cooldown for the rule.
	CooldownSeconds *int

	Actions   []Action
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppliesTo reports whether the rule's scope and case-type filters admit c
func (r *Rule) AppliesTo(c cases.Case) bool {
	if len(r.ScopeCodes) > 0 && !slices.Contains(r.ScopeCodes, c.ScopeCode) {
		return false
	}
	if len(r.CaseTypes) > 0 && !slices.Contains(r.CaseTypes, c.CaseType) {
		return false
	}
	return true
}

// OrderedActions returns the actions sorted by ascending sequence
func (r *Rule) OrderedActions() []Action {
	out := slices.Clone(r.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Clone returns a deep enough copy for cache isolation
func (r *Rule) Clone() *Rule {
	out := *r
	out.ScopeCodes = slices.Clone(r.ScopeCodes)
	out.CaseTypes = slices.Clone(r.CaseTypes)
	out.Actions = slices.Clone(r.Actions)
	if r.CooldownSeconds != nil {
		v := *r.CooldownSeconds
		out.CooldownSeconds = &v
	}
	return &out
}

// TriggerConfig is a tagged union: exactly one variant is set and it must
// match the rule's TriggerType.
type TriggerConfig struct {
	StatusChange *StatusChangeTrigger
	TimeBased    *TimeBasedTrigger
	Event        *EventTrigger
	Condition    *ConditionTrigger
}

// StatusChangeTrigger matches transitions. Empty fields match any status.
type StatusChangeTrigger struct {
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
}

// TimeBasedTrigger matches cases sitting in Status for at least Days
type TimeBasedTrigger struct {
	Status string `json:"status" validate:"required"`
	Days   int    `json:"days" validate:"gte=0"`
}

// EventTrigger matches an event kind label such as "case_created"
type EventTrigger struct {
	EventType string `json:"event_type" validate:"required"`
}

// ConditionTrigger matches when every condition holds and, if set, the CEL
// expression over `case` evaluates to true.
type ConditionTrigger struct {
	Conditions []conditions.Condition `json:"conditions" validate:"dive"`
	Expression string                 `json:"expression,omitempty"`
}

// Action is one automated effect of a rule
type Action struct {
	ID         string
	RuleID     string
	ActionType ActionType
	Config     ActionConfig
	Sequence   int
}

// ActionConfig is a tagged union keyed by ActionType
type ActionConfig struct {
	ChangeStatus     *ChangeStatusConfig
	AssignUser       *AssignUserConfig
	AddTag           *AddTagConfig
	SendNotification *SendNotificationConfig
	CreateTimeline   *CreateTimelineConfig
}

type ChangeStatusConfig struct {
	NewStatus string `json:"new_status" validate:"required"`
}

// AssignUserConfig names either an explicit user or the case owner
type AssignUserConfig struct {
	UserID        string `json:"user_id,omitempty" validate:"required_without=AssignToOwner,excluded_with=AssignToOwner"`
	AssignToOwner bool   `json:"assign_to_owner,omitempty"`
}

type AddTagConfig struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

// Recipient types for SEND_NOTIFICATION
const (
	RecipientOwner    = "owner"
	RecipientAssignee = "assignee"
	RecipientRole     = "role"
	RecipientUser     = "user"
)

type SendNotificationConfig struct {
	Title          string `json:"title" validate:"required,max=200"`
	Message        string `json:"message" validate:"required"`
	RecipientType  string `json:"recipient_type" validate:"required,oneof=owner assignee role user"`
	RecipientValue string `json:"recipient_value,omitempty" validate:"required_if=RecipientType role,required_if=RecipientType user"`
	Priority       string `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	LinkURL        string `json:"link_url,omitempty" validate:"omitempty,url"`
}

type CreateTimelineConfig struct {
	EventType           string `json:"event_type" validate:"required"`
	DescriptionTemplate string `json:"description_template" validate:"required"`
}
