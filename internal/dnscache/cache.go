// Package dnscache implements the resolver's TTL-bounded answer cache: a
// concurrent map from query name to the most recently fetched packet,
// freshness-checked against the packet's own first-answer TTL (spec §3,
// §4.2).
package dnscache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
)

type entry struct {
	fetchedAt time.Time
	packet    dnswire.Packet
}

// Cache is a concurrent, non-evicting TTL cache keyed by query name. A
// single sync.RWMutex is sufficient discipline here (spec §9): writes are
// single-entry and rare relative to reads, so a sharded map buys nothing
// at this scale.
type Cache struct {
	mu   sync.RWMutex
	data map[string]entry

	now func() time.Time // overridable for tests

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// Get returns the cached packet for name iff an entry exists and has not
// gone stale: now−fetchedAt must be less than the TTL of the packet's
// first answer record (zero if there are no answers, which forces a
// miss — spec §3). Stale entries are reported as misses but are not
// proactively removed; they are simply overwritten on the next
// successful Set (spec §4.2).
func (c *Cache) Get(name string) (dnswire.Packet, bool) {
	c.mu.RLock()
	e, ok := c.data[name]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return dnswire.Packet{}, false
	}

	ttl := firstAnswerTTL(e.packet)
	if ttl == 0 {
		c.misses.Add(1)
		return dnswire.Packet{}, false
	}
	if c.now().Sub(e.fetchedAt) >= time.Duration(ttl)*time.Second {
		c.misses.Add(1)
		return dnswire.Packet{}, false
	}
	c.hits.Add(1)
	return e.packet, true
}

// Set unconditionally overwrites the entry for name. Callers must only
// call Set with packets that have a non-empty answer section — the
// "never cache NXDOMAIN or referral-only responses" rule (spec §4.2,
// §9) is the caller's responsibility, not Cache's, exactly as in the
// original: Set simply stores whatever it's given.
func (c *Cache) Set(name string, packet dnswire.Packet) {
	c.mu.Lock()
	c.data[name] = entry{fetchedAt: c.now(), packet: packet}
	c.mu.Unlock()
}

// Len reports the number of entries currently stored, stale or not. Used
// only by the admin surface (SPEC_FULL §4.10), never on the query path.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Hits reports the cumulative number of lookups served from a fresh
// entry, for the admin surface's query counters (SPEC_FULL §4.10).
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses reports the cumulative number of lookups that found no fresh
// entry (absent, zero-TTL, or stale).
func (c *Cache) Misses() uint64 { return c.misses.Load() }

// firstAnswerTTL returns the TTL of the packet's first answer, or 0 if it
// has none (spec §3: "min_answer_ttl ... 0 if none, which forces a miss").
func firstAnswerTTL(p dnswire.Packet) uint32 {
	if len(p.Answers) == 0 {
		return 0
	}
	return p.Answers[0].TTL
}
