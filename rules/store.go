package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// RuleStore manages rule persistence and retrieval
type RuleStore interface {
	// Add a new rule together with its actions
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// ListEnabled returns enabled rules ordered by priority then id
	ListEnabled() ([]*Rule, error)

	// List returns every rule ordered by priority then id
	List() ([]*Rule, error)

	// Update replaces a rule and its actions
	Update(rule *Rule) error

	// Delete a rule. Its actions go with it.
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	rules map[string]*Rule
	now   func() time.Time
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
		now:   time.Now,
	}
}

// Add stores a copy of rule and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	stored := rule.Clone()
	for i := range stored.Actions {
		stored.Actions[i].RuleID = rule.ID
	}
	s.rules[rule.ID] = stored
	return nil
}

// Get retrieves a copy of the rule
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return rule.Clone(), nil
}

func (s *InMemoryRuleStore) ListEnabled() ([]*Rule, error) {
	return s.list(true), nil
}

func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	return s.list(false), nil
}

func (s *InMemoryRuleStore) list(enabledOnly bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule.Clone())
	}
	SortByPriority(out)
	return out
}

// Update replaces the rule, preserving its original CreatedAt
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()
	stored := rule.Clone()
	for i := range stored.Actions {
		stored.Actions[i].RuleID = rule.ID
	}
	s.rules[rule.ID] = stored
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}

// SortByPriority orders rules ascending by priority, ties broken by id
func SortByPriority(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
