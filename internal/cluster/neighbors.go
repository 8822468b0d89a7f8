// Package cluster handles the distributed coordination of the fabric:
//
//   - Peer discovery over UDP multicast (who is on this LAN?)
//   - The neighbor table fed by announcements (who is alive, how loaded?)
//   - The local scheduler (execute here or forward?)
//   - Gossip of the key-value state to every neighbor
//
// There is no membership protocol and no coordinator: a neighbor exists
// exactly as long as its heartbeats keep arriving, and disappears after
// a timeout without one.
package cluster

import (
	"sync"
)

// Neighbor is one peer observed via a recent announcement.
type Neighbor struct {
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	LastSeen float64        `json:"last_seen"` // announcement ts, unix seconds
	Metrics  map[string]any `json:"metrics"`
}

// Load returns the neighbor's advertised load, or zero when the
// announcement carried none. Announcements are decoded from JSON, so
// numbers arrive as float64, but an integer-typed metric from a local
// upsert is accepted too.
func (n Neighbor) Load() float64 {
	switch v := n.Metrics["load"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Table is the neighbor table: name → latest announcement. It is
// mutated only by the discovery listener and snapshotted by everyone
// else.
type Table struct {
	mu      sync.RWMutex
	self    string
	entries map[string]Neighbor
}

// NewTable creates an empty table. self is this node's name; entries
// carrying it are rejected so the table never lists the local node.
func NewTable(self string) *Table {
	return &Table{
		self:    self,
		entries: make(map[string]Neighbor),
	}
}

// Upsert creates or refreshes the entry for n.Name. Entries named like
// the local node are dropped.
func (t *Table) Upsert(n Neighbor) {
	if n.Name == "" || n.Name == t.self {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[n.Name] = n
}

// Snapshot returns a copy of all current neighbors.
func (t *Table) Snapshot() []Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Neighbor, 0, len(t.entries))
	for _, n := range t.entries {
		out = append(out, n)
	}
	return out
}

// Purge removes every entry whose last announcement is older than
// now - timeout (both in unix seconds) and reports how many were
// dropped. A stale neighbor that reappears is simply re-upserted by
// its next heartbeat.
func (t *Table) Purge(now, timeout float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for name, n := range t.entries {
		if now-n.LastSeen > timeout {
			delete(t.entries, name)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
