package workflow

import "errors"

var (
	// ErrConfiguration marks an action whose config does not fit its type.
	ErrConfiguration = errors.New("configuration error")

	// ErrCollaborator marks a failed call to the case application, the user
	// directory, the timeline or the notification service.
	ErrCollaborator = errors.New("collaborator error")

	// ErrTimeout marks an action that exceeded its budget. It is always
	// wrapped together with ErrCollaborator.
	ErrTimeout = errors.New("timeout")

	// ErrQueueFull is returned by Submit when the event queue has no room
	ErrQueueFull = errors.New("event queue full")

	// ErrEngineClosed is returned by Submit after Close
	ErrEngineClosed = errors.New("engine closed")
)

// Guard reasons recorded as the errorMessage of SKIPPED records
const (
	ReasonCooldown = "cooldown"
	ReasonMaxDepth = "max execution depth exceeded"
)
