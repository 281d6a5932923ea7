package rules

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// TestRuleStoreInterfaceExists verifies both stores satisfy RuleStore at compile time
func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

func TestInMemoryRuleStoreAddAndGet(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := escalationRule("test-1", 10)
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get("test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if retrieved.Name != rule.Name {
		t.Errorf("Retrieved rule Name = %s, want %s", retrieved.Name, rule.Name)
	}
	if retrieved.CreatedAt.IsZero() || !retrieved.CreatedAt.Equal(retrieved.UpdatedAt) {
		t.Errorf("Add() should stamp CreatedAt == UpdatedAt, got %v / %v", retrieved.CreatedAt, retrieved.UpdatedAt)
	}
	if retrieved.Actions[0].RuleID != "test-1" {
		t.Errorf("action RuleID = %q, want test-1", retrieved.Actions[0].RuleID)
	}

	// Mutating the returned copy must not leak into the store
	retrieved.Name = "changed"
	retrieved.Actions[0].Sequence = 99
	again, _ := store.Get("test-1")
	if again.Name != rule.Name || again.Actions[0].Sequence != 1 {
		t.Error("Get() should return an isolated copy")
	}
}

// TestInMemoryRuleStoreAddDuplicate verifies duplicate ids are rejected without overwriting
func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryRuleStore()

	first := escalationRule("duplicate-id", 1)
	second := escalationRule("duplicate-id", 2)
	second.Name = "Second Rule"

	if err := store.Add(first); err != nil {
		t.Fatalf("First Add() should succeed: %v", err)
	}
	if err := store.Add(second); !errors.Is(err, ErrRuleExists) {
		t.Fatalf("Add() with duplicate ID error = %v, want ErrRuleExists", err)
	}

	retrieved, _ := store.Get("duplicate-id")
	if retrieved.Name != first.Name {
		t.Errorf("Rule should not have been overwritten, Name = %s", retrieved.Name)
	}
}

func TestInMemoryRuleStoreNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if _, err := store.Get("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Update(escalationRule("missing", 1)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update() error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Delete() error = %v, want ErrRuleNotFound", err)
	}
}

// TestInMemoryRuleStoreUpdatePreservesCreatedAt verifies Update keeps the creation stamp
func TestInMemoryRuleStoreUpdatePreservesCreatedAt(t *testing.T) {
	store := NewInMemoryRuleStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	if err := store.Add(escalationRule("r", 1)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	store.now = func() time.Time { return base.Add(time.Hour) }
	updated := escalationRule("r", 5)
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get("r")
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base.Add(time.Hour))
	}
	if got.Priority != 5 {
		t.Errorf("Priority = %d, want 5", got.Priority)
	}
}

// TestInMemoryRuleStoreListEnabledOrder verifies enabled filtering and priority/id ordering
func TestInMemoryRuleStoreListEnabledOrder(t *testing.T) {
	store := NewInMemoryRuleStore()

	for _, r := range []*Rule{
		escalationRule("b", 2),
		escalationRule("a", 2),
		escalationRule("c", 1),
		escalationRule("d", 0),
	} {
		if err := store.Add(r); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}
	disabled := escalationRule("d", 0)
	disabled.Enabled = false
	if err := store.Update(disabled); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	enabled, err := store.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled() failed: %v", err)
	}
	var ids []string
	for _, r := range enabled {
		ids = append(ids, r.ID)
	}
	want := []string{"c", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("ListEnabled() ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ListEnabled() ids = %v, want %v", ids, want)
		}
	}

	all, _ := store.List()
	if len(all) != 4 || all[0].ID != "d" {
		t.Errorf("List() should include disabled rules first by priority, got %d rules", len(all))
	}
}

// TestInMemoryRuleStoreConcurrentAccess exercises the store under the race detector
func TestInMemoryRuleStoreConcurrentAccess(t *testing.T) {
	store := NewInMemoryRuleStore()
	if err := store.Add(escalationRule("shared", 1)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.ListEnabled()
		}()
		go func(i int) {
			defer wg.Done()
			_ = store.Update(escalationRule("shared", i))
		}(i)
	}
	wg.Wait()
}

func TestInMemoryRulesCache(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewInMemoryRulesCache(CacheConfig{TTL: time.Minute})
	cache.now = func() time.Time { return now }

	if cache.Get() != nil || cache.IsValid() {
		t.Fatal("new cache should be empty")
	}

	if !cache.Set([]*Rule{escalationRule("a", 1)}, cache.Generation()) {
		t.Fatal("Set() with the current generation should store")
	}
	if got := cache.Get(); len(got) != 1 {
		t.Fatalf("Get() returned %d rules, want 1", len(got))
	}

	now = now.Add(2 * time.Minute)
	if cache.Get() != nil {
		t.Error("Get() should miss after TTL")
	}

	cache.Set([]*Rule{}, cache.Generation())
	if got := cache.Get(); got == nil || len(got) != 0 {
		t.Error("an empty snapshot is still a hit")
	}

	cache.Invalidate()
	if cache.IsValid() {
		t.Error("Invalidate() should clear the cache")
	}
}

func TestInMemoryRulesCacheRejectsStaleRefresh(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{})

	generation := cache.Generation()
	cache.Invalidate()

	if cache.Set([]*Rule{escalationRule("stale", 1)}, generation) {
		t.Fatal("Set() after an invalidation should be refused")
	}
	if cache.Get() != nil {
		t.Error("a refused Set() must leave the cache empty")
	}
	if !cache.Set([]*Rule{}, cache.Generation()) {
		t.Error("Set() with the new generation should store")
	}
}
