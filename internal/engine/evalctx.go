package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/diag"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/placeholder"
)

// evalCtx is the per-request evaluation context: the explicit object that
// carries what would otherwise be thread-local state (the in-progress
// stack and the open transaction) through the call chain.
type evalCtx struct {
	eng *Engine
	id  int64

	// stack holds the arena indices of in-progress computations; pos maps
	// each of them to its stack position for O(1) reentrance detection.
	stack []int
	pos   map[int]int

	// claimed lists every cell this context won the claim on. A fatal
	// unwind settles each still-unpublished one on the safe default so no
	// waiter is left parked on a cell that will never close.
	claimed []int

	txn *txn
}

// value returns the value of a node as seen by this context: a tentative
// (possibly placeholder-bearing) value inside an open transaction, or the
// committed concrete value otherwise.
func (c *evalCtx) value(ctx context.Context, idx int) (graph.Value, error) {
	n := c.eng.graph.Node(idx)

	// Tentative answers shadow global memoization inside a transaction;
	// this is what lets cyclic computations see each other's half-finished
	// work.
	if c.txn != nil {
		if ph, ok := c.txn.breaks[idx]; ok {
			if _, on := c.pos[idx]; on {
				return graph.Deferred(ph), nil
			}
		}
		if v, ok := c.txn.tab.Lookup(idx); ok {
			return v, nil
		}
	}

	if r := n.Result(); r != nil {
		return graph.Concrete(r.Type), nil
	}

	// Same-context reentrance is a cycle, never a block.
	if at, on := c.pos[idx]; on {
		return c.cycle(idx, at)
	}

	if n.TryClaim(c.id) {
		c.claimed = append(c.claimed, idx)
	} else {
		if r := n.Result(); r != nil {
			return graph.Concrete(r.Type), nil
		}
		if n.Owner() != c.id && len(c.stack) == 0 {
			// Top-level requests hold no in-progress work, so blocking on
			// another context is deadlock-free.
			r, err := n.Wait(ctx)
			if err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(r.Type), nil
		}
		// Either our own stale claim left behind by a cycle restart, or a
		// mid-evaluation context that must not block: compute
		// speculatively; the first publication wins.
	}

	return c.evaluate(ctx, idx)
}

// evaluate runs a node's recipe in a new frame and records or publishes the
// outcome.
func (c *evalCtx) evaluate(ctx context.Context, idx int) (graph.Value, error) {
	n := c.eng.graph.Node(idx)
	myPos := len(c.stack)
	c.stack = append(c.stack, idx)
	c.pos[idx] = myPos
	defer func() {
		c.stack = c.stack[:myPos]
		delete(c.pos, idx)
	}()

	for {
		v, diags, err := c.runRecipe(ctx, idx)
		if err != nil {
			var restart *restartError
			if errors.As(err, &restart) && restart.target == idx {
				// This node is the canonical break point. Arm its
				// recursive placeholder and run the recipe once more; the
				// reentrant request will now observe the placeholder.
				c.armBreak(idx, myPos)
				continue
			}
			// Unwinding for any other reason. A transaction opened at or
			// above this frame must be discarded on the way out, unless
			// we are merely restarting to a deeper break point.
			if restart == nil && c.txn != nil && c.txn.openFrame >= myPos {
				c.discardTxn()
			}
			return graph.Value{}, err
		}

		if c.txn == nil {
			if v.IsPlaceholder() {
				return graph.Value{}, fatalf(n.Key, "placeholder escaped its transaction")
			}
			r := &graph.Result{Type: v.Type, Pinned: v.Type, Diags: diags}
			winner, final := n.Publish(r)
			if !winner {
				c.eng.metrics.speculativeDiscards.Add(1)
			}
			return graph.Concrete(final.Type), nil
		}

		// Tentative: record in the preliminary table, discard diagnostics.
		c.txn.addParticipant(idx)
		c.txn.tab.Record(idx, v)
		c.txn.tentative[idx] = v

		if c.txn.openFrame == myPos {
			committed, err := c.commit(ctx)
			if err != nil {
				c.discardTxn()
				return graph.Value{}, err
			}
			if committed {
				final := n.Result()
				if final == nil {
					return graph.Value{}, fatalf(n.Key, "transaction committed without publishing the opening binding")
				}
				return graph.Concrete(final.Type), nil
			}
			// Commit deferred: a privileged first use further down the
			// stack still needs the raw value; the transaction now closes
			// at that frame instead.
		}
		return v, nil
	}
}

// runRecipe executes a node's computation against a fresh accessor and
// returns the value together with the diagnostics it buffered.
func (c *evalCtx) runRecipe(ctx context.Context, idx int) (graph.Value, hcl.Diagnostics, error) {
	n := c.eng.graph.Node(idx)
	if n.Spec.Compute == nil {
		return graph.Value{}, nil, fatalf(n.Key, "binding has no recipe")
	}

	col := &diag.Collector{}
	acc := &accessor{c: c, node: n, col: col}
	v, err := n.Spec.Compute(ctx, acc)
	if err != nil {
		return graph.Value{}, nil, err
	}
	if v.IsZero() {
		return graph.Value{}, nil, fatalf(n.Key, "recipe returned no value")
	}
	return v, col.Take(), nil
}

// cycle handles a reentrant request for a node already on this context's
// stack. The break point is the cycle member with the least canonical key,
// independent of which call path discovered the cycle.
func (c *evalCtx) cycle(idx, at int) (graph.Value, error) {
	g := c.eng.graph
	members := c.stack[at:]
	brk := members[0]
	for _, m := range members[1:] {
		if g.Node(m).Key.Less(g.Node(brk).Key) {
			brk = m
		}
	}
	c.eng.metrics.cycles.Add(1)
	c.eng.logger.Debug("cycle detected",
		"reentered", g.Node(idx).Key.String(),
		"break", g.Node(brk).Key.String(),
		"size", len(members))

	if brk == idx {
		return c.armBreak(idx, at), nil
	}

	// The transaction must enclose every member of the cycle, so it opens at
	// the outermost member's frame even though the break sits deeper.
	c.ensureTxn(at)
	if ph, armed := c.txn.breaks[brk]; armed {
		// The break is already armed and re-running its recipe; every other
		// member resolves to the cycle placeholder until the second pass.
		return graph.Deferred(ph), nil
	}
	return graph.Value{}, &restartError{target: brk}
}

// armBreak opens (or extends) the transaction at the break node's frame and
// mints its recursive placeholder, reusing an existing one on restart.
func (c *evalCtx) armBreak(idx, framePos int) graph.Value {
	c.ensureTxn(framePos)
	if ph, ok := c.txn.breaks[idx]; ok {
		return graph.Deferred(ph)
	}
	def := c.eng.rules.DefaultFor(placeholder.TagRecursive)
	ph := c.eng.store.Allocate(placeholder.TagRecursive, def)
	c.txn.allocated = append(c.txn.allocated, ph)
	c.txn.breaks[idx] = ph
	return graph.Deferred(ph)
}

// ensureTxn opens a transaction at the given frame, or folds a nested scope
// into the one already open.
func (c *evalCtx) ensureTxn(framePos int) {
	if c.txn == nil {
		c.txn = newTxn(framePos)
		c.eng.metrics.transactions.Add(1)
		return
	}
	c.txn.openScope(framePos)
}

// discardTxn throws away all tentative state. Used on fatal unwind and on
// panic recovery; the preliminary table must never outlive its context.
func (c *evalCtx) discardTxn() {
	if c.txn == nil {
		return
	}
	c.txn.tab.Drain()
	c.txn = nil
}

// degradeClaimed settles every cell this context claimed but never
// published on the safe default, with one error diagnostic naming the
// cause. Claims are write-once, so an abandoned one would otherwise park
// every later requester in Wait forever.
func (c *evalCtx) degradeClaimed(cause error) {
	for _, idx := range c.claimed {
		n := c.eng.graph.Node(idx)
		if n.Result() != nil {
			continue
		}
		diags := hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "evaluation aborted",
			Detail: fmt.Sprintf("binding %s degrades to the unknown type: %s",
				n.Key, cause),
			Subject: diag.SubjectRange(c.eng.filename, n.Key),
		}}
		n.Publish(&graph.Result{
			Type:   cty.DynamicPseudoType,
			Pinned: cty.DynamicPseudoType,
			Diags:  diags,
		})
	}
}

// concreteView resolves a value to a concrete type: the type itself, or
// the placeholder's current answer or default.
func (c *evalCtx) concreteView(v graph.Value) cty.Type {
	if v.IsPlaceholder() {
		return c.eng.store.View(v.Ph)
	}
	return v.Type
}

// pinnedView resolves a value the way a non-committal reader sees it: any
// placeholder replaced by its default, regardless of refinement elsewhere.
func (c *evalCtx) pinnedView(v graph.Value) cty.Type {
	if v.IsPlaceholder() {
		return c.eng.store.Default(v.Ph)
	}
	return v.Type
}
