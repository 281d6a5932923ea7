package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig marks a rule or action whose configuration does not fit
// its declared variant.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

const (
	maxNameLength = 200
	maxActions    = 50
)

// Validate checks a rule at authoring time. Evaluation trusts rules that
// passed here and never re-validates them.
func Validate(r *Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidConfig)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: rule name length %d exceeds maximum of %d", ErrInvalidConfig, len(r.Name), maxNameLength)
	}
	if r.CooldownSeconds != nil && *r.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidConfig)
	}

	if err := ValidateTrigger(r.TriggerType, r.TriggerConfig); err != nil {
		return err
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %q has no actions", ErrInvalidConfig, r.Name)
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: rule %q has %d actions, maximum allowed is %d", ErrInvalidConfig, r.Name, len(r.Actions), maxActions)
	}

	seen := make(map[int]bool, len(r.Actions))
	for i, a := range r.Actions {
		if seen[a.Sequence] {
			return fmt.Errorf("%w: action %d reuses sequence %d", ErrInvalidConfig, i, a.Sequence)
		}
		seen[a.Sequence] = true

		if err := ValidateAction(a.ActionType, a.Config); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}

// ValidateTrigger checks that exactly the variant for t is set and that it
// satisfies its schema.
func ValidateTrigger(t TriggerType, cfg TriggerConfig) error {
	set := 0
	for _, present := range []bool{cfg.StatusChange != nil, cfg.TimeBased != nil, cfg.Event != nil, cfg.Condition != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: trigger config must carry exactly one variant, got %d", ErrInvalidConfig, set)
	}

	var variant any
	switch t {
	case TriggerStatusChange:
		variant = cfg.StatusChange
	case TriggerTimeBased:
		variant = cfg.TimeBased
	case TriggerEvent:
		variant = cfg.Event
	case TriggerCondition:
		variant = cfg.Condition
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidConfig, t)
	}
	if isNilVariant(variant) {
		return fmt.Errorf("%w: trigger type %s does not match its config", ErrInvalidConfig, t)
	}

	if err := validate.Struct(variant); err != nil {
		return fmt.Errorf("%w: %s trigger: %s", ErrInvalidConfig, t, describe(err))
	}

	if cfg.Condition != nil && len(cfg.Condition.Conditions) == 0 && strings.TrimSpace(cfg.Condition.Expression) == "" {
		// An empty list is true, which would make the rule fire on every event.
		return fmt.Errorf("%w: CONDITION trigger needs at least one condition or an expression", ErrInvalidConfig)
	}
	return nil
}

// ValidateAction checks that the variant for t is set and valid
func ValidateAction(t ActionType, cfg ActionConfig) error {
	var variant any
	switch t {
	case ActionChangeStatus:
		variant = cfg.ChangeStatus
	case ActionAssignUser:
		variant = cfg.AssignUser
	case ActionAddTag:
		variant = cfg.AddTag
	case ActionSendNotification:
		variant = cfg.SendNotification
	case ActionCreateTimeline:
		variant = cfg.CreateTimeline
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidConfig, t)
	}
	if isNilVariant(variant) {
		return fmt.Errorf("%w: action type %s does not match its config", ErrInvalidConfig, t)
	}

	if err := validate.Struct(variant); err != nil {
		return fmt.Errorf("%w: %s action: %s", ErrInvalidConfig, t, describe(err))
	}
	return nil
}

func isNilVariant(v any) bool {
	switch p := v.(type) {
	case *StatusChangeTrigger:
		return p == nil
	case *TimeBasedTrigger:
		return p == nil
	case *EventTrigger:
		return p == nil
	case *ConditionTrigger:
		return p == nil
	case *ChangeStatusConfig:
		return p == nil
	case *AssignUserConfig:
		return p == nil
	case *AddTagConfig:
		return p == nil
	case *SendNotificationConfig:
		return p == nil
	case *CreateTimelineConfig:
		return p == nil
	default:
		return v == nil
	}
}

// describe flattens validator errors into "field: tag" pairs
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
