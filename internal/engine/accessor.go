package engine

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/diag"
	"github.com/vk/bindgraph/internal/firstuse"
	"github.com/vk/bindgraph/internal/graph"
)

// accessor implements graph.Accessor for one run of one recipe. In the
// normal (tentative or plain) mode reads go through the evaluation context;
// with rs set the recipe is being recomputed at commit and reads resolve
// against settled placeholders and published results instead.
type accessor struct {
	c    *evalCtx
	node *graph.Node
	col  *diag.Collector
	rs   *recomputeState
}

func (a *accessor) Ref(ctx context.Context, i int) (graph.Value, error) {
	target := a.node.RefTarget(i)
	grant := a.c.eng.fu.Grant(a.node.RefSeq(i))

	if a.rs != nil {
		typ, err := a.rs.refValue(ctx, target, grant)
		if err != nil {
			return graph.Value{}, err
		}
		return graph.Concrete(typ), nil
	}

	v, err := a.c.value(ctx, target)
	if err != nil {
		return graph.Value{}, err
	}
	if grant == firstuse.GrantPinned {
		// Non-committal readers never observe refinement: a raw placeholder
		// collapses to its default, a committed result yields its pinned
		// view.
		if v.IsPlaceholder() {
			return graph.Concrete(a.c.pinnedView(v)), nil
		}
		if r := a.c.eng.graph.Node(target).Result(); r != nil {
			return graph.Concrete(r.Pinned), nil
		}
	}
	return v, nil
}

func (a *accessor) Allocate() graph.Value {
	spec := a.node.Spec
	def := spec.PlaceholderDefault
	if def == cty.NilType {
		def = a.c.eng.rules.DefaultFor(spec.PlaceholderTag)
	}

	if a.rs != nil {
		// Replay: the tentative run's allocations are settled by now; hand
		// back their answers in the same order.
		idx := a.node.Index
		ids := a.rs.producers[idx]
		cur := a.rs.cursor[idx]
		if cur < len(ids) {
			a.rs.cursor[idx] = cur + 1
			return graph.Concrete(a.c.eng.store.View(ids[cur]))
		}
		// An allocation the tentative run never made settles immediately.
		return graph.Concrete(def)
	}

	c := a.c
	c.ensureTxn(c.pos[a.node.Index])
	ph := c.eng.store.Allocate(spec.PlaceholderTag, def)
	c.txn.recordAllocation(a.node.Index, ph)
	return graph.Deferred(ph)
}

func (a *accessor) Unify(v graph.Value, concrete cty.Type) {
	eng := a.c.eng
	if v.IsPlaceholder() && a.rs == nil {
		if err := eng.store.Unify(v.Ph, concrete, eng.rules.UnifyCompatible); err != nil {
			a.Errorf("incompatible refinement", "%s", err)
		}
		return
	}
	have := a.c.concreteView(v)
	if !eng.rules.UnifyCompatible(have, concrete) {
		a.Errorf("type mismatch", "cannot unify %s with %s",
			have.FriendlyName(), concrete.FriendlyName())
	}
}

func (a *accessor) Resolve(v graph.Value) cty.Type {
	return a.c.concreteView(v)
}

func (a *accessor) Errorf(summary, format string, args ...any) {
	a.col.Errorf(diag.SubjectRange(a.c.eng.filename, a.node.Key), summary, format, args...)
}

func (a *accessor) Warnf(summary, format string, args ...any) {
	a.col.Warnf(diag.SubjectRange(a.c.eng.filename, a.node.Key), summary, format, args...)
}
