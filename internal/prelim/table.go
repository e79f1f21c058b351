// Package prelim implements the preliminary answer table: the
// transaction-scoped store of tentative binding results. Entries may still
// reference unresolved placeholders, which is exactly why they must never
// be visible outside the owning evaluation context. The evaluator consults
// this table before global memoization, which is what lets in-progress
// cyclic and placeholder-bearing computations see each other's half-finished
// work.
//
// A Table is owned by exactly one evaluation context and is not
// concurrency-safe; isolation comes from ownership, not locking.
package prelim

import (
	"github.com/vk/bindgraph/internal/graph"
)

// Entry is one tentative answer, keyed by arena index.
type Entry struct {
	Index int
	Val   graph.Value
}

// Table maps node arena indices to tentative results, remembering first-
// record order for deterministic draining.
type Table struct {
	entries map[int]graph.Value
	order   []int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[int]graph.Value)}
}

// Record stores a tentative result. Re-recording overwrites the value but
// keeps the original position in the drain order.
func (t *Table) Record(idx int, v graph.Value) {
	if _, seen := t.entries[idx]; !seen {
		t.order = append(t.order, idx)
	}
	t.entries[idx] = v
}

// Lookup returns the tentative result for a node, if any.
func (t *Table) Lookup(idx int) (graph.Value, bool) {
	v, ok := t.entries[idx]
	return v, ok
}

// Drain returns all entries in first-record order and clears the table.
// Commit and discard both go through here so no tentative answer can
// survive the transaction.
func (t *Table) Drain() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, idx := range t.order {
		out = append(out, Entry{Index: idx, Val: t.entries[idx]})
	}
	t.entries = make(map[int]graph.Value)
	t.order = nil
	return out
}

// Len returns the number of tentative entries.
func (t *Table) Len() int {
	return len(t.order)
}
