// Package rewrite implements the host-to-IP rewrite table consulted
// first in the query pipeline (spec §4.5, §4.6), plus the external-source
// sync path that keeps a Kubernetes-fed subset of it current.
package rewrite

import (
	"context"
	"net"
	"sync"

	"github.com/BrettMayson/mindns-k8s/internal/dnswire"
)

// ttlSeconds is the fixed TTL applied to every rewrite record (spec §4.5).
const ttlSeconds = 500

// Rule is a single host→IP mapping, as delivered by a Source.
type Rule struct {
	Host string
	IP   net.IP
}

// Source delivers batches of external rewrite rules (e.g. a Kubernetes
// Ingress/Service watcher). Watch must call fn with the complete current
// rule set every time it changes, and should block until ctx is
// cancelled (spec.md §6's "unchanged abstract push interface").
type Source interface {
	Watch(ctx context.Context, fn func([]Rule)) error
}

// Table is a concurrent host→record map. Entries added via AddRewrite are
// permanent until explicitly removed; entries synced in via SyncExternal
// are tracked separately so a later sync can cleanly replace them without
// disturbing manually added rewrites (spec §4.5).
type Table struct {
	mu       sync.RWMutex
	records  map[string]dnswire.Record
	fromSync map[string]struct{}
}

// New returns an empty rewrite table.
func New() *Table {
	return &Table{
		records:  make(map[string]dnswire.Record),
		fromSync: make(map[string]struct{}),
	}
}

// AddRewrite inserts or overwrites the record for host, choosing A or
// AAAA by the IP's family (spec §4.5).
func (t *Table) AddRewrite(host string, ip net.IP) {
	rec := recordFor(host, ip)

	t.mu.Lock()
	t.records[host] = rec
	t.mu.Unlock()
}

// RemoveRewrite deletes the entry for host, if any.
func (t *Table) RemoveRewrite(host string) {
	t.mu.Lock()
	delete(t.records, host)
	delete(t.fromSync, host)
	t.mu.Unlock()
}

// GetRewrite returns the record for host, exact match only (spec §4.5:
// "no suffix semantics").
func (t *Table) GetRewrite(host string) (dnswire.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[host]
	return rec, ok
}

// SyncExternal atomically replaces the subset of the table previously
// populated by SyncExternal: every host attributed to the prior sync is
// removed, each new rule is inserted, and the attribution set is replaced
// — all under one lock, so no reader observes an in-between state where
// both the old and new sets are absent (spec §4.5; grounded in
// original_source/src/rewrites/mod.rs's add_k8s_rewrites).
func (t *Table) SyncExternal(rules []Rule) {
	next := make(map[string]struct{}, len(rules))

	t.mu.Lock()
	for host := range t.fromSync {
		delete(t.records, host)
	}
	for _, rule := range rules {
		t.records[rule.Host] = recordFor(rule.Host, rule.IP)
		next[rule.Host] = struct{}{}
	}
	t.fromSync = next
	t.mu.Unlock()
}

// Len reports the number of entries currently held, manual and synced.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func recordFor(host string, ip net.IP) dnswire.Record {
	if v4 := ip.To4(); v4 != nil {
		return dnswire.NewA(host, v4, ttlSeconds)
	}
	return dnswire.NewAAAA(host, ip, ttlSeconds)
}
