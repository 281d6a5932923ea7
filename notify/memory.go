package notify

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps notifications per recipient in creation order
type MemoryStore struct {
	byUser map[string][]*Notification
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*Notification)}
}

func (s *MemoryStore) Create(_ context.Context, ns []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range ns {
		n := ns[i]
		s.byUser[n.RecipientUserID] = append(s.byUser[n.RecipientUserID], &n)
	}
	return nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byUser[userID]
	out := make([]Notification, 0)
	skipped := 0
	for i := len(list) - 1; i >= 0; i-- {
		n := list[i]
		if opts.UnreadOnly && n.IsRead {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, *n)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.byUser[userID] {
		if n.ID != id {
			continue
		}
		if !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
		}
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.byUser[userID] {
		if n.IsRead {
			continue
		}
		n.IsRead = true
		n.ReadAt = &at
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.byUser[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}
