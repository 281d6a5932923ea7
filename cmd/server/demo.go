package main

import (
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/conditions"
	"github.com/liamcoop/caseflow/rules"
)

// seedDemo fills an in-memory directory and rule set with a small security
// desk: two admins, an analyst, two cases and one rule per trigger type.
func seedDemo(directory *cases.MemoryDirectory, registry *rules.Registry) error {
	now := time.Now().UTC()

	for _, u := range []cases.User{
		{ID: "admin-1", Role: "admin", Active: true},
		{ID: "admin-2", Role: "admin", Active: true},
		{ID: "analyst-1", Role: "analyst", Active: true},
	} {
		directory.PutUser(u)
	}

	openedAt := now.Add(-8 * 24 * time.Hour)
	directory.PutCase(cases.Case{
		ID: "case-1001", Title: "Suspicious login from new country", Status: "OPEN",
		Severity: "HIGH", CaseType: "account_takeover", ScopeCode: "SEC", OwnerID: "analyst-1",
		CreatedAt: openedAt, StatusChangedAt: &openedAt,
	})
	directory.PutCase(cases.Case{
		ID: "case-1002", Title: "Invoice mismatch", Status: "OPEN",
		Severity: "LOW", CaseType: "billing", ScopeCode: "OPS", OwnerID: "analyst-1",
		CreatedAt: now.Add(-2 * time.Hour),
	})

	seed := []*rules.Rule{
		{
			ID: "sec-intake", Name: "Security intake", TriggerType: rules.TriggerEvent,
			TriggerConfig: rules.TriggerConfig{Event: &rules.EventTrigger{EventType: string(cases.KindCaseCreated)}},
			Enabled:       true, Priority: 10, ScopeCodes: []string{"SEC"},
			Actions: []rules.Action{
				{ActionType: rules.ActionAddTag, Sequence: 1, Config: rules.ActionConfig{AddTag: &rules.AddTagConfig{Tag: "needs-review"}}},
				{ActionType: rules.ActionSendNotification, Sequence: 2, Config: rules.ActionConfig{SendNotification: &rules.SendNotificationConfig{
					Title: "New security case {{case_id}}", Message: "{{rule_name}} flagged a new case for review",
					RecipientType: rules.RecipientRole, RecipientValue: "admin", Priority: "HIGH",
				}}},
			},
		},
		{
			ID: "stale-open", Name: "Stale open case", TriggerType: rules.TriggerTimeBased,
			TriggerConfig: rules.TriggerConfig{TimeBased: &rules.TimeBasedTrigger{Status: "OPEN", Days: 7}},
			Enabled:       true, Priority: 20,
			Actions: []rules.Action{
				{ActionType: rules.ActionCreateTimeline, Sequence: 1, Config: rules.ActionConfig{CreateTimeline: &rules.CreateTimelineConfig{
					EventType: "reminder", DescriptionTemplate: "Case {{case_id}} has been open for {{days}} days",
				}}},
				{ActionType: rules.ActionSendNotification, Sequence: 2, Config: rules.ActionConfig{SendNotification: &rules.SendNotificationConfig{
					Title: "Case {{case_id}} is stale", Message: "Open for {{days}} days", RecipientType: rules.RecipientOwner,
				}}},
			},
		},
		{
			ID: "critical-escalation", Name: "Escalate critical cases", TriggerType: rules.TriggerCondition,
			TriggerConfig: rules.TriggerConfig{Condition: &rules.ConditionTrigger{
				Conditions: []conditions.Condition{{Field: "severity", Operator: conditions.OpGte, Value: "CRITICAL"}},
				Expression: `case.status == "OPEN"`,
			}},
			Enabled: true, Priority: 5,
			Actions: []rules.Action{
				{ActionType: rules.ActionChangeStatus, Sequence: 1, Config: rules.ActionConfig{ChangeStatus: &rules.ChangeStatusConfig{NewStatus: "ESCALATED"}}},
			},
		},
		{
			ID: "escalated-assign", Name: "Assign escalations to owner", TriggerType: rules.TriggerStatusChange,
			TriggerConfig: rules.TriggerConfig{StatusChange: &rules.StatusChangeTrigger{ToStatus: "ESCALATED"}},
			Enabled:       true, Priority: 10,
			Actions: []rules.Action{
				{ActionType: rules.ActionAssignUser, Sequence: 1, Config: rules.ActionConfig{AssignUser: &rules.AssignUserConfig{AssignToOwner: true}}},
			},
		},
	}
	for _, r := range seed {
		r.CreatedBy = "demo"
		if err := registry.AddRule(r); err != nil {
			return err
		}
	}
	return nil
}
