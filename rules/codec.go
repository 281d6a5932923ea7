package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeTriggerConfig parses a stored trigger document into the variant
// selected by t.
func DecodeTriggerConfig(t TriggerType, raw []byte) (TriggerConfig, error) {
	var cfg TriggerConfig
	var err error
	switch t {
	case TriggerStatusChange:
		cfg.StatusChange = &StatusChangeTrigger{}
		err = unmarshalConfig(raw, cfg.StatusChange)
	case TriggerTimeBased:
		cfg.TimeBased = &TimeBasedTrigger{}
		err = unmarshalConfig(raw, cfg.TimeBased)
	case TriggerEvent:
		cfg.Event = &EventTrigger{}
		err = unmarshalConfig(raw, cfg.Event)
	case TriggerCondition:
		cfg.Condition = &ConditionTrigger{}
		err = unmarshalConfig(raw, cfg.Condition)
	default:
		return cfg, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidConfig, t)
	}
	if err != nil {
		return TriggerConfig{}, fmt.Errorf("%w: %s trigger config: %v", ErrInvalidConfig, t, err)
	}
	return cfg, nil
}

// EncodeTriggerConfig renders the variant selected by t
func EncodeTriggerConfig(t TriggerType, cfg TriggerConfig) ([]byte, error) {
	var v any
	switch t {
	case TriggerStatusChange:
		v = cfg.StatusChange
	case TriggerTimeBased:
		v = cfg.TimeBased
	case TriggerEvent:
		v = cfg.Event
	case TriggerCondition:
		v = cfg.Condition
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidConfig, t)
	}
	return json.Marshal(v)
}

// DecodeActionConfig parses a stored action document into the variant
// selected by t.
func DecodeActionConfig(t ActionType, raw []byte) (ActionConfig, error) {
	var cfg ActionConfig
	var err error
	switch t {
	case ActionChangeStatus:
		cfg.ChangeStatus = &ChangeStatusConfig{}
		err = unmarshalConfig(raw, cfg.ChangeStatus)
	case ActionAssignUser:
		cfg.AssignUser = &AssignUserConfig{}
		err = unmarshalConfig(raw, cfg.AssignUser)
	case ActionAddTag:
		cfg.AddTag = &AddTagConfig{}
		err = unmarshalConfig(raw, cfg.AddTag)
	case ActionSendNotification:
		cfg.SendNotification = &SendNotificationConfig{}
		err = unmarshalConfig(raw, cfg.SendNotification)
	case ActionCreateTimeline:
		cfg.CreateTimeline = &CreateTimelineConfig{}
		err = unmarshalConfig(raw, cfg.CreateTimeline)
	default:
		return cfg, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfig, t)
	}
	if err != nil {
		return ActionConfig{}, fmt.Errorf("%w: %s action config: %v", ErrInvalidConfig, t, err)
	}
	return cfg, nil
}

// EncodeActionConfig renders the variant selected by t
func EncodeActionConfig(t ActionType, cfg ActionConfig) ([]byte, error) {
	var v any
	switch t {
	case ActionChangeStatus:
		v = cfg.ChangeStatus
	case ActionAssignUser:
		v = cfg.AssignUser
	case ActionAddTag:
		v = cfg.AddTag
	case ActionSendNotification:
		v = cfg.SendNotification
	case ActionCreateTimeline:
		v = cfg.CreateTimeline
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfig, t)
	}
	return json.Marshal(v)
}

// unmarshalConfig rejects unknown keys so typos surface at authoring time
func unmarshalConfig(raw []byte, target any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
