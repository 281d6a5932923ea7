package cases

import (
	"slices"
	"strings"
	"time"
)

// Severity is the ordinal severity of a case
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch Severity(strings.ToUpper(string(s))) {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Case is a read-only snapshot of a case as owned by the case application.
type Case struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Status     string         `json:"status"`
	Severity   Severity       `json:"severity"`
	CaseType   string         `json:"case_type"`
	ScopeCode  string         `json:"scope_code"`
	OwnerID    string         `json:"owner_id"`
	AssignedTo string         `json:"assigned_to,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	// StatusChangedAt is the time of the most recent status change, nil if
	// the status never changed since creation.
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
}

// StatusSince returns when the case entered its current status.
func (c Case) StatusSince() time.Time {
	if c.StatusChangedAt != nil {
		return *c.StatusChangedAt
	}
	return c.CreatedAt
}

// HasTag reports whether the case already carries tag
func (c Case) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Clone returns a copy that shares no slices or maps with c.
func (c Case) Clone() Case {
	out := c
	out.Tags = slices.Clone(c.Tags)
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.StatusChangedAt != nil {
		t := *c.StatusChangedAt
		out.StatusChangedAt = &t
	}
	return out
}
