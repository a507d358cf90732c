// Package dedup implements a lightweight, in-memory, TTL-based reservation
// cache keyed by idempotency key. It is the fast-path duplicate check in
// front of the durable action store, with per-key reservations and
// opportunistic garbage collection.
//
// Notes:
//   - This cache is process-local. For horizontally scaled deployments,
//     prefer a distributed store (e.g., Redis-backed) to enforce global
//     reservations.
//   - The cache is a performance optimization only. Correctness is anchored
//     in the durable store's live-key constraint; an expired reservation can
//     never cause a running action to be treated as absent, because the
//     store is consulted on every conflict.
package dedup

import (
	"sync"
	"time"
)

// reservation holds a single reserved key and its expiry.
type reservation struct {
	expiresAt time.Time
}

// Cache is a per-key reservation table with atomic check-and-set semantics.
//
// Reservations expire after their TTL to bound memory. Expired entries are
// collected opportunistically during lookups rather than by a background
// goroutine, which keeps the type dependency-free and trivially testable.
//
// This type is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]reservation
	lookupN  uint64
	now      func() time.Time // test seam
	cleanupN uint64           // lookups between GC sweeps
}

// New constructs an empty reservation cache.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]reservation),
		now:      time.Now,
		cleanupN: 5000,
	}
}

// Reserve attempts an atomic check-and-set on key with the given ttl.
// Exactly one of any number of concurrent callers observes true; the rest
// observe false until the reservation expires or is released.
func (c *Cache) Reserve(key string, ttl time.Duration) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic cleanup after a threshold of lookups, then reset the
	// counter. Runs before the requested key is touched so a stale entry
	// for that same key is evicted rather than refreshed.
	c.lookupN++
	if c.lookupN >= c.cleanupN {
		for k, r := range c.entries {
			if !r.expiresAt.After(now) {
				delete(c.entries, k)
			}
		}
		c.lookupN = 0
	}

	if r, ok := c.entries[key]; ok && r.expiresAt.After(now) {
		return false
	}
	c.entries[key] = reservation{expiresAt: now.Add(ttl)}
	return true
}

// Release drops the reservation for key, if any. The executor releases on
// terminal failure so a corrective resubmission is not blocked for a full
// TTL.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of tracked reservations, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
