package graph

import (
	"context"
	"sync/atomic"

	"github.com/vk/bindgraph/internal/nodeid"
)

// Cell states. A node moves Uncomputed -> Computing -> Computed exactly
// once; there is no way back.
const (
	StateUncomputed int32 = iota
	StateComputing
	StateComputed
)

// Node is one memoized unit of the computation graph. Identity and recipe
// are fixed at construction; the cell fields are the only mutable state and
// follow a write-once discipline.
type Node struct {
	Key   nodeid.Key
	Index int
	Spec  BindingSpec

	// refIdx resolves each declared reference to its target's arena index.
	refIdx []int
	// refSeq is the construction-order sequence number of each declared
	// reference, indexing into the graph's reference records.
	refSeq []int
	// forward is the arena index of the forwarding target, or -1.
	forward int

	state atomic.Int32
	// owner is the id of the evaluation context that claimed the cell.
	owner atomic.Int64
	res   atomic.Pointer[Result]
	done  chan struct{}
}

// TryClaim attempts the Uncomputed -> Computing transition on behalf of the
// given evaluation context. It returns true when this call won the claim.
func (n *Node) TryClaim(ctxID int64) bool {
	if n.state.CompareAndSwap(StateUncomputed, StateComputing) {
		n.owner.Store(ctxID)
		return true
	}
	return false
}

// State returns the cell state.
func (n *Node) State() int32 {
	return n.state.Load()
}

// Owner returns the id of the context that claimed the cell, or zero.
func (n *Node) Owner() int64 {
	return n.owner.Load()
}

// Publish installs a result. The first publisher wins; every later caller
// gets winner=false and the already-installed result, and must discard its
// own answer and diagnostics. The done channel is closed exactly once, by
// the winner.
func (n *Node) Publish(r *Result) (winner bool, final *Result) {
	if n.res.CompareAndSwap(nil, r) {
		n.state.Store(StateComputed)
		close(n.done)
		return true, r
	}
	return false, n.res.Load()
}

// Result returns the published result, or nil if the node has not been
// committed yet.
func (n *Node) Result() *Result {
	return n.res.Load()
}

// Wait blocks until the node is published by another context, or the
// context is canceled.
func (n *Node) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-n.done:
		return n.res.Load(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefTarget returns the arena index of the i'th declared reference.
func (n *Node) RefTarget(i int) int {
	return n.refIdx[i]
}

// RefSeq returns the construction sequence number of the i'th declared
// reference.
func (n *Node) RefSeq(i int) int {
	return n.refSeq[i]
}

// Forward returns the arena index this node transparently forwards to, or
// -1 when it is not a forwarding binding.
func (n *Node) Forward() int {
	return n.forward
}
