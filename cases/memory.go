package cases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// User is a user known to the in-memory directory
type User struct {
	ID     string
	Role   string
	Active bool
}

// TimelineEntry is one appended timeline line
type TimelineEntry struct {
	CaseID      string
	EventType   string
	Description string
	Source      string
	CreatedAt   time.Time
}

// MemoryDirectory implements CaseDirectory, TimelineLog and UserDirectory in
// memory. It backs the demo server and the tests.
type MemoryDirectory struct {
	cases    map[string]Case
	users    map[string]User
	timeline []TimelineEntry
	clock    func() time.Time
	mu       sync.RWMutex
}

// NewMemoryDirectory creates an empty directory. A nil clock uses time.Now.
func NewMemoryDirectory(clock func() time.Time) *MemoryDirectory {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryDirectory{
		cases: make(map[string]Case),
		users: make(map[string]User),
		clock: clock,
	}
}

// PutCase inserts or replaces a case
func (d *MemoryDirectory) PutCase(c Case) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cases[c.ID] = c.Clone()
}

// PutUser inserts or replaces a user
func (d *MemoryDirectory) PutUser(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// GetCase returns a copy of the stored case
func (d *MemoryDirectory) GetCase(_ context.Context, id string) (Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cases[id]
	if !ok {
		return Case{}, fmt.Errorf("case %s: %w", id, ErrCaseNotFound)
	}
	return c.Clone(), nil
}

// ListByStatus returns the cases in status ordered by id
func (d *MemoryDirectory) ListByStatus(_ context.Context, status string) ([]Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Case
	for _, c := range d.cases {
		if c.Status == status {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MutateStatus changes the status and stamps the status change time
func (d *MemoryDirectory) MutateStatus(_ context.Context, id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.cases[id]
	if !ok {
		return fmt.Errorf("case %s: %w", id, ErrCaseNotFound)
	}
	now := d.clock()
	c.Status = status
	c.StatusChangedAt = &now
	d.cases[id] = c
	return nil
}

// AssignUser sets the assignee
func (d *MemoryDirectory) AssignUser(_ context.Context, id, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.cases[id]
	if !ok {
		return fmt.Errorf("case %s: %w", id, ErrCaseNotFound)
	}
	c.AssignedTo = userID
	d.cases[id] = c
	return nil
}

// AddTag appends tag unless already present
func (d *MemoryDirectory) AddTag(_ context.Context, id, tag string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.cases[id]
	if !ok {
		return false, fmt.Errorf("case %s: %w", id, ErrCaseNotFound)
	}
	if c.HasTag(tag) {
		return false, nil
	}
	c.Tags = append(c.Tags, tag)
	d.cases[id] = c
	return true, nil
}

// AppendEvent records a timeline entry for an existing case
func (d *MemoryDirectory) AppendEvent(_ context.Context, caseID, eventType, description, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.cases[caseID]; !ok {
		return fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	d.timeline = append(d.timeline, TimelineEntry{
		CaseID:      caseID,
		EventType:   eventType,
		Description: description,
		Source:      source,
		CreatedAt:   d.clock(),
	})
	return nil
}

// Timeline returns the entries appended for caseID in order
func (d *MemoryDirectory) Timeline(caseID string) []TimelineEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []TimelineEntry
	for _, e := range d.timeline {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out
}

// ListUsersByRole returns active users with role, ordered by id
func (d *MemoryDirectory) ListUsersByRole(_ context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for _, u := range d.users {
		if u.Active && u.Role == role {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// UserExists reports whether id is a known active user
func (d *MemoryDirectory) UserExists(_ context.Context, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	return ok && u.Active, nil
}
