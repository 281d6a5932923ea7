package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/notify"
	"github.com/liamcoop/caseflow/rules"
)

// timelineSource is the source recorded on engine-written timeline entries
const timelineSource = "workflow"

// actionContext is everything a handler may read. Handlers never mutate
// shared state; they report changes through actionResult.
type actionContext struct {
	rule    *rules.Rule
	action  rules.Action
	subject cases.Case
	event   cases.Event
}

type actionResult struct {
	detail string
	err    error

	// subject is the case after the action, nil if unchanged
	subject *cases.Case

	// followUp is the case event the action's side effect amounts to
	followUp *cases.Event
}

type actionHandler func(ctx context.Context, ac actionContext) actionResult

// fatalActions halt the rule's remaining actions on failure
var fatalActions = map[rules.ActionType]bool{
	rules.ActionChangeStatus: true,
	rules.ActionAssignUser:   true,
}

func (e *Engine) actionHandlers() map[rules.ActionType]actionHandler {
	return map[rules.ActionType]actionHandler{
		rules.ActionChangeStatus:     e.changeStatus,
		rules.ActionAssignUser:       e.assignUser,
		rules.ActionAddTag:           e.addTag,
		rules.ActionSendNotification: e.sendNotification,
		rules.ActionCreateTimeline:   e.createTimeline,
	}
}

func (e *Engine) changeStatus(ctx context.Context, ac actionContext) actionResult {
	cfg := ac.action.Config.ChangeStatus
	if cfg == nil || cfg.NewStatus == "" {
		return configError(ac.action)
	}

	previous := ac.subject.Status
	if previous == cfg.NewStatus {
		return actionResult{detail: "already " + cfg.NewStatus}
	}

	if err := e.deps.Cases.MutateStatus(ctx, ac.subject.ID, cfg.NewStatus); err != nil {
		return collaboratorError("change status", err)
	}

	now := e.clock()
	updated := e.refetch(ctx, ac.subject, func(c *cases.Case) {
		c.Status = cfg.NewStatus
		c.StatusChangedAt = &now
	})
	return actionResult{
		detail:  fmt.Sprintf("%s -> %s", previous, cfg.NewStatus),
		subject: &updated,
		followUp: &cases.Event{
			Kind:           cases.KindStatusChanged,
			Case:           updated,
			PreviousStatus: previous,
			Timestamp:      now,
			Origin:         cases.OriginEvent,
		},
	}
}

func (e *Engine) assignUser(ctx context.Context, ac actionContext) actionResult {
	cfg := ac.action.Config.AssignUser
	if cfg == nil {
		return configError(ac.action)
	}

	target := cfg.UserID
	if cfg.AssignToOwner {
		target = ac.subject.OwnerID
	}
	if target == "" {
		return actionResult{err: fmt.Errorf("%w: no assignee resolved for case %s", ErrConfiguration, ac.subject.ID)}
	}

	exists, err := e.deps.Users.UserExists(ctx, target)
	if err != nil {
		return collaboratorError("look up user", err)
	}
	if !exists {
		return collaboratorError("assign user", fmt.Errorf("%w: %s", cases.ErrUserNotFound, target))
	}

	if err := e.deps.Cases.AssignUser(ctx, ac.subject.ID, target); err != nil {
		return collaboratorError("assign user", err)
	}

	updated := e.refetch(ctx, ac.subject, func(c *cases.Case) { c.AssignedTo = target })
	return actionResult{
		detail:  "assigned to " + target,
		subject: &updated,
		followUp: &cases.Event{
			Kind:      cases.KindCaseUpdated,
			Case:      updated,
			Payload:   map[string]any{"field": "assigned_to", "value": target},
			Timestamp: e.clock(),
			Origin:    cases.OriginEvent,
		},
	}
}

func (e *Engine) addTag(ctx context.Context, ac actionContext) actionResult {
	cfg := ac.action.Config.AddTag
	if cfg == nil || cfg.Tag == "" {
		return configError(ac.action)
	}

	added, err := e.deps.Cases.AddTag(ctx, ac.subject.ID, cfg.Tag)
	if err != nil {
		return collaboratorError("add tag", err)
	}
	if !added {
		return actionResult{detail: "tag " + cfg.Tag + " already present"}
	}

	updated := e.refetch(ctx, ac.subject, func(c *cases.Case) {
		if !c.HasTag(cfg.Tag) {
			c.Tags = append(c.Tags, cfg.Tag)
		}
	})
	return actionResult{
		detail:  "added tag " + cfg.Tag,
		subject: &updated,
		followUp: &cases.Event{
			Kind:      cases.KindCaseUpdated,
			Case:      updated,
			Payload:   map[string]any{"field": "tags", "value": cfg.Tag},
			Timestamp: e.clock(),
			Origin:    cases.OriginEvent,
		},
	}
}

func (e *Engine) sendNotification(ctx context.Context, ac actionContext) actionResult {
	cfg := ac.action.Config.SendNotification
	if cfg == nil {
		return configError(ac.action)
	}

	vars := e.templateVars(ac)
	sent, err := e.deps.Notifier.Send(ctx, notify.Request{
		Case:           ac.subject,
		Title:          Render(cfg.Title, vars),
		Message:        Render(cfg.Message, vars),
		RecipientType:  cfg.RecipientType,
		RecipientValue: cfg.RecipientValue,
		Priority:       notify.Priority(cfg.Priority),
		LinkURL:        cfg.LinkURL,
		Source:         notify.SourceWorkflow,
		SourceRuleID:   ac.rule.ID,
		Metadata: map[string]any{
			"rule_id":   ac.rule.ID,
			"rule_name": ac.rule.Name,
			"case_id":   ac.subject.ID,
		},
	})
	if errors.Is(err, notify.ErrNoAssignee) {
		return actionResult{detail: "no assignee, skipped"}
	}
	if errors.Is(err, notify.ErrNoRecipients) {
		return actionResult{err: err}
	}
	if errors.Is(err, notify.ErrUnknownRecipientType) {
		return actionResult{err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
	}
	if err != nil {
		return collaboratorError("send notification", err)
	}
	return actionResult{detail: fmt.Sprintf("notified %d recipient(s)", len(sent))}
}

func (e *Engine) createTimeline(ctx context.Context, ac actionContext) actionResult {
	cfg := ac.action.Config.CreateTimeline
	if cfg == nil || cfg.EventType == "" {
		return configError(ac.action)
	}

	description := Render(cfg.DescriptionTemplate, e.templateVars(ac))
	if err := e.deps.Timeline.AppendEvent(ctx, ac.subject.ID, cfg.EventType, description, timelineSource); err != nil {
		return collaboratorError("append timeline", err)
	}
	return actionResult{
		detail: "timeline " + cfg.EventType,
		followUp: &cases.Event{
			Kind:      cases.KindTimelineAdded,
			Case:      ac.subject,
			Payload:   map[string]any{"event_type": cfg.EventType},
			Timestamp: e.clock(),
			Origin:    cases.OriginEvent,
		},
	}
}

// refetch reads the case back after a mutation. If the read fails the local
// snapshot is patched instead so the rule can continue.
func (e *Engine) refetch(ctx context.Context, current cases.Case, patch func(*cases.Case)) cases.Case {
	if fresh, err := e.deps.Cases.GetCase(ctx, current.ID); err == nil {
		return fresh
	}
	patched := current.Clone()
	patch(&patched)
	return patched
}

func (e *Engine) templateVars(ac actionContext) map[string]string {
	days := int(e.clock().Sub(ac.subject.StatusSince()).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return map[string]string{
		"case_id":      ac.subject.ID,
		"days":         strconv.Itoa(days),
		"trigger_type": string(ac.rule.TriggerType),
		"rule_name":    ac.rule.Name,
	}
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. Placeholders not in
// vars are left exactly as written.
func Render(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func configError(a rules.Action) actionResult {
	return actionResult{err: fmt.Errorf("%w: %s action has no usable config", ErrConfiguration, a.ActionType)}
}

func collaboratorError(op string, err error) actionResult {
	return actionResult{err: fmt.Errorf("%w: %s: %w", ErrCollaborator, op, err)}
}

// runAction applies the per-action budget. The handler runs in its own
// goroutine so a collaborator that ignores ctx cannot stall the rule; its
// late result is discarded.
func (e *Engine) runAction(ctx context.Context, h actionHandler, ac actionContext) actionResult {
	actionCtx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()

	done := make(chan actionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- actionResult{err: fmt.Errorf("%w: handler panicked: %v", ErrCollaborator, r)}
			}
		}()
		done <- h(actionCtx, ac)
	}()

	select {
	case res := <-done:
		return res
	case <-actionCtx.Done():
		return actionResult{err: fmt.Errorf("%w: %w after %s", ErrCollaborator, ErrTimeout, e.actionBudget(ctx))}
	}
}

// actionBudget reports the effective budget for log details
func (e *Engine) actionBudget(ctx context.Context) time.Duration {
	budget := e.opts.ActionTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget && remaining > 0 {
			budget = remaining
		}
	}
	return budget.Round(time.Millisecond)
}
