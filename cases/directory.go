package cases

import (
	"context"
	"errors"
)

var (
	// ErrCaseNotFound is returned when a case id is unknown to the directory
	ErrCaseNotFound = errors.New("case not found")
	// ErrUserNotFound is returned when a user id is unknown or inactive
	ErrUserNotFound = errors.New("user not found")
)

// CaseDirectory is the case application's read/mutate boundary.
//
// Mutations made through this interface do not come back through the event
// subscription: the engine derives follow-up events itself so it can thread
// the execution depth.
type CaseDirectory interface {
	GetCase(ctx context.Context, id string) (Case, error)

	// ListByStatus returns every case currently in status
	ListByStatus(ctx context.Context, status string) ([]Case, error)

	MutateStatus(ctx context.Context, id, status string) error
	AssignUser(ctx context.Context, id, userID string) error

	// AddTag reports added=false when the case already had the tag.
	AddTag(ctx context.Context, id, tag string) (added bool, err error)
}

// TimelineLog appends entries to a case's timeline
type TimelineLog interface {
	AppendEvent(ctx context.Context, caseID, eventType, description, source string) error
}

// UserDirectory resolves users
type UserDirectory interface {
	// ListUsersByRole returns the ids of active users holding role
	ListUsersByRole(ctx context.Context, role string) ([]string, error)
	UserExists(ctx context.Context, id string) (bool, error)
}
