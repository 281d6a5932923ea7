package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/liamcoop/caseflow/internal/logger"
)

// ChangeChannel is the NOTIFY channel the workflow_rules trigger publishes on
const ChangeChannel = "workflow_rules_changed"

// Invalidator is anything holding a rule snapshot
type Invalidator interface {
	Invalidate()
}

// ChangeListener invalidates a rule snapshot whenever rules are changed in
// Postgres by another writer, such as the admin application.
type ChangeListener struct {
	listener *pq.Listener
	target   Invalidator
}

// NewChangeListener connects a dedicated LISTEN connection
func NewChangeListener(connStr string, target Invalidator) (*ChangeListener, error) {
	l := pq.NewListener(connStr, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.Warn("Rule change listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("Rule change listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("Rule change listener connection attempt failed", "error", err)
		}
	})

	if err := l.Listen(ChangeChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	return &ChangeListener{listener: l, target: target}, nil
}

// Run blocks until ctx is done. Any notification, and any reconnect (which
// may have lost notifications), invalidates the snapshot.
func (cl *ChangeListener) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-cl.listener.Notify:
			// A nil notification is sent after a reconnect
			if n != nil {
				logger.Debug("Rule change notification", "payload", n.Extra)
			}
			cl.target.Invalidate()
		case <-ping.C:
			if err := cl.listener.Ping(); err != nil {
				logger.Warn("Rule change listener ping failed", "error", err)
			}
		}
	}
}

// Close releases the LISTEN connection
func (cl *ChangeListener) Close() error {
	return cl.listener.Close()
}
