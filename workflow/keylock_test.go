package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyLockSerialisesSameKey(t *testing.T) {
	locks := newKeyLock()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "r1\x00c1")
			if err != nil {
				t.Errorf("Lock() failed: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("expected at most one holder, saw %d", peak.Load())
	}
	if locks.size() != 0 {
		t.Errorf("expected entries to be released, got %d", locks.size())
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locks := newKeyLock()

	unlockA, err := locks.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) failed: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked behind a: %v", err)
	}
	unlockB()
}

func TestKeyLockHonoursContext(t *testing.T) {
	locks := newKeyLock()

	unlock, err := locks.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "k"); err == nil {
		t.Fatal("expected the second Lock() to give up")
	}

	unlock()
	unlock()
	if locks.size() != 0 {
		t.Errorf("expected no live keys, got %d", locks.size())
	}
}
