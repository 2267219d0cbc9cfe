// Package status holds the Entry snapshot type and the Table
// that aggregates per-worker status for the engine's status feed: one row
// per UDP listener/sender, TCP endpoint, or route, refreshed as packets and
// connection events arrive.
package status

import (
	"sort"
	"sync"
)

// Entry is one row of engine status: a single listener, sender, TCP
// endpoint, or route.
type Entry struct {
	Key         string
	Kind        string // "udp-in", "udp-out", "tcp-client", "tcp-server", "route"
	Connected   bool
	PacketsIn   uint64
	PacketsOut  uint64
	Errors      uint64
	LastSeenMs  uint64
	Description string
}

// Table is a concurrent-safe collection of Entry rows keyed by Key. Readers
// (the HTTP status endpoint, the log feed) call Snapshot to get a
// point-in-time copy without holding the table's lock during serialization.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool
}

// NewTable returns an empty status table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Upsert replaces the entry at e.Key, marking the table dirty.
func (t *Table) Upsert(e Entry) {
	t.mu.Lock()
	t.entries[e.Key] = e
	t.dirty = true
	t.mu.Unlock()
}

// Remove deletes the entry at key, if present.
func (t *Table) Remove(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.dirty = true
	t.mu.Unlock()
}

// Update applies fn to the current entry at key (or a zero-value Entry with
// Key set if none exists yet) and stores the result. Used for increment-only
// updates like "PacketsIn++" where callers don't want to race a read-modify
// write across goroutines.
func (t *Table) Update(key string, fn func(Entry) Entry) {
	t.mu.Lock()
	cur := t.entries[key]
	cur.Key = key
	t.entries[key] = fn(cur)
	t.dirty = true
	t.mu.Unlock()
}

// Snapshot returns a copy of every entry, sorted by Key, and clears the
// dirty flag. Callers that only care about whether anything changed since
// the last Snapshot should check Dirty first.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.dirty = false
	sortEntries(out)
	return out
}

// Dirty reports whether any entry has changed since the last Snapshot.
func (t *Table) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
