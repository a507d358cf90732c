package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReserve_FirstWins(t *testing.T) {
	c := New()
	if !c.Reserve("k", time.Minute) {
		t.Fatal("first reserve must succeed")
	}
	if c.Reserve("k", time.Minute) {
		t.Fatal("second reserve must fail while reservation is live")
	}
	if !c.Reserve("other", time.Minute) {
		t.Fatal("distinct keys are independent")
	}
}

func TestReserve_ExpiryAllowsReuse(t *testing.T) {
	c := New()
	clock := time.Now()
	c.now = func() time.Time { return clock }

	if !c.Reserve("k", time.Second) {
		t.Fatal("reserve")
	}
	clock = clock.Add(500 * time.Millisecond)
	if c.Reserve("k", time.Second) {
		t.Fatal("not yet expired")
	}
	clock = clock.Add(time.Second)
	if !c.Reserve("k", time.Second) {
		t.Fatal("expired reservation must be reclaimable")
	}
}

func TestRelease(t *testing.T) {
	c := New()
	c.Reserve("k", time.Minute)
	c.Release("k")
	if !c.Reserve("k", time.Minute) {
		t.Fatal("released key must be reservable immediately")
	}
	// Releasing an absent key is a no-op.
	c.Release("missing")
}

// Concurrent reservations of one key must yield exactly one winner.
func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	c := New()
	const n = 64
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.Reserve("contested", time.Minute) {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestOpportunisticGC(t *testing.T) {
	c := New()
	c.cleanupN = 4
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Reserve("a", time.Second)
	c.Reserve("b", time.Second)
	clock = clock.Add(2 * time.Second)

	// Two more lookups push the counter over the sweep threshold.
	c.Reserve("c", time.Minute)
	c.Reserve("d", time.Minute)

	if got := c.Len(); got != 2 {
		t.Fatalf("expired entries not collected: len = %d, want 2", got)
	}
}
