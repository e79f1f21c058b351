package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/diag"
	"github.com/vk/bindgraph/internal/firstuse"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/placeholder"
	"github.com/vk/bindgraph/internal/prelim"
)

// txn is the tentative evaluation scope of one context. It opens lazily at
// the first placeholder allocation or cycle break, swallows every answer
// computed while open, and commits when the outermost frame that opened it
// unwinds. Nothing in here is shared between contexts.
type txn struct {
	tab *prelim.Table

	// openFrame is the stack position the transaction commits at: the
	// minimum over every frame that opened or extended the scope. Commit
	// deferral moves it further out.
	openFrame int

	participants  []int
	isParticipant map[int]bool

	// tentative keeps each participant's raw answer past tab.Drain, for the
	// pinned view and the break seeds.
	tentative map[int]graph.Value

	// breaks maps a cycle break node to its recursive placeholder.
	breaks map[int]placeholder.ID

	// allocated lists every placeholder minted in this scope, in order.
	allocated []placeholder.ID
	// producers records which node allocated which placeholders, for replay
	// during recomputation.
	producers     map[int][]placeholder.ID
	producerOrder []int

	// drained marks refiners already pulled in by the commit drain.
	drained map[int]bool
}

func newTxn(framePos int) *txn {
	return &txn{
		tab:           prelim.NewTable(),
		openFrame:     framePos,
		isParticipant: make(map[int]bool),
		tentative:     make(map[int]graph.Value),
		breaks:        make(map[int]placeholder.ID),
		producers:     make(map[int][]placeholder.ID),
		drained:       make(map[int]bool),
	}
}

// openScope widens the transaction to enclose another opening frame.
func (t *txn) openScope(framePos int) {
	if framePos < t.openFrame {
		t.openFrame = framePos
	}
}

func (t *txn) addParticipant(idx int) {
	if !t.isParticipant[idx] {
		t.isParticipant[idx] = true
		t.participants = append(t.participants, idx)
	}
}

// recordAllocation books a freshly minted placeholder against its producer.
func (t *txn) recordAllocation(idx int, ph placeholder.ID) {
	t.allocated = append(t.allocated, ph)
	if len(t.producers[idx]) == 0 {
		t.producerOrder = append(t.producerOrder, idx)
	}
	t.producers[idx] = append(t.producers[idx], ph)
}

// commit closes the tentative scope: it drains outstanding refiners, pins
// what is still unanswered, then recomputes and publishes every participant.
// It returns committed=false when a refiner is an outer in-progress frame,
// in which case the scope has been widened to that frame and commit will be
// retried there.
func (c *evalCtx) commit(ctx context.Context) (bool, error) {
	t := c.txn
	eng := c.eng

	// Phase 1: refinement drain. Every binding privileged to refine a
	// placeholder minted in this scope must have run before the placeholder
	// is pinned, or first-use refinement would silently depend on request
	// order. The drain may mint further placeholders; the loop re-reads the
	// growing producer list.
	for i := 0; i < len(t.producerOrder); i++ {
		producer := t.producerOrder[i]
		for _, refiner := range eng.fu.Refiners(producer) {
			if t.drained[refiner] || t.isParticipant[refiner] {
				continue
			}
			if eng.graph.Node(refiner).Result() != nil {
				t.drained[refiner] = true
				continue
			}
			if pos, on := c.pos[refiner]; on {
				// The refiner is an outer frame still mid-recipe. It cannot
				// be re-entered, so the commit point moves out to it.
				t.openScope(pos)
				eng.logger.Debug("commit deferred to in-progress refiner",
					"producer", eng.graph.Node(producer).Key.String(),
					"refiner", eng.graph.Node(refiner).Key.String())
				return false, nil
			}
			t.drained[refiner] = true
			if _, err := c.value(ctx, refiner); err != nil {
				return false, err
			}
		}
	}

	// Phase 2: whatever no privileged use answered settles on its default.
	for _, ph := range t.allocated {
		eng.store.Pin(ph)
	}

	// Phase 3: break nodes seed recomputation with their resolved tentative
	// answer, so the second pass over a cycle terminates.
	seeds := make(map[int]cty.Type, len(t.breaks))
	for idx := range t.breaks {
		if v, ok := t.tentative[idx]; ok {
			seeds[idx] = c.concreteView(v)
		}
	}

	eng.metrics.observeParticipants(len(t.participants))
	t.tab.Drain()

	parts := append([]int(nil), t.participants...)
	sort.Slice(parts, func(i, j int) bool {
		return eng.graph.Node(parts[i]).Key.Less(eng.graph.Node(parts[j]).Key)
	})

	// The scope is closed from here on; recomputation reads committed
	// results and the settled placeholder store only.
	rs := &recomputeState{
		c:          c,
		seeds:      seeds,
		tentative:  t.tentative,
		producers:  t.producers,
		cursor:     make(map[int]int),
		finished:   make(map[int]cty.Type),
		inProgress: make(map[int]bool),
		poisoned:   make(map[int]bool),
	}
	c.txn = nil

	for _, idx := range parts {
		if _, err := rs.run(ctx, idx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// recomputeState drives the second pass over a committed transaction's
// participants: each recipe is re-run against settled placeholders and the
// results published, in canonical key order with recursion on demand.
type recomputeState struct {
	c         *evalCtx
	seeds     map[int]cty.Type
	tentative map[int]graph.Value
	producers map[int][]placeholder.ID
	cursor    map[int]int

	finished   map[int]cty.Type
	inProgress map[int]bool
	poisoned   map[int]bool
}

// run recomputes one participant and publishes the outcome, returning its
// final type.
func (rs *recomputeState) run(ctx context.Context, idx int) (cty.Type, error) {
	if typ, ok := rs.finished[idx]; ok {
		return typ, nil
	}
	if rs.inProgress[idx] {
		if seed, ok := rs.seeds[idx]; ok {
			return seed, nil
		}
		// A cyclic dependency with no break seed cannot be recomputed to a
		// fixed point; the member degrades to the unknown type.
		rs.poisoned[idx] = true
		return cty.DynamicPseudoType, nil
	}

	eng := rs.c.eng
	n := eng.graph.Node(idx)
	if r := n.Result(); r != nil {
		rs.finished[idx] = r.Type
		return r.Type, nil
	}

	rs.inProgress[idx] = true
	defer delete(rs.inProgress, idx)
	eng.metrics.recomputations.Add(1)

	col := &diag.Collector{}
	acc := &accessor{c: rs.c, node: n, col: col, rs: rs}
	v, err := n.Spec.Compute(ctx, acc)
	if err != nil {
		return cty.NilType, err
	}
	if v.IsZero() {
		return cty.NilType, fatalf(n.Key, "recipe returned no value on recomputation")
	}

	typ := rs.c.concreteView(v)
	diags := col.Take()
	if rs.poisoned[idx] {
		typ = cty.DynamicPseudoType
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "irreducible dependency cycle",
			Detail: fmt.Sprintf(
				"binding %s participates in a dependency cycle with no break point; its value degrades to the unknown type",
				n.Key),
			Subject: diag.SubjectRange(eng.filename, n.Key),
		})
	}

	pinned := typ
	if tv, ok := rs.tentative[idx]; ok && tv.IsPlaceholder() {
		pinned = eng.store.Default(tv.Ph)
	}

	winner, final := n.Publish(&graph.Result{Type: typ, Pinned: pinned, Diags: diags})
	if !winner {
		eng.metrics.speculativeDiscards.Add(1)
		typ = final.Type
	}
	rs.finished[idx] = typ
	return typ, nil
}

// refValue resolves a reference read made during recomputation.
func (rs *recomputeState) refValue(ctx context.Context, target int, grant firstuse.Grant) (cty.Type, error) {
	n := rs.c.eng.graph.Node(target)

	if _, part := rs.tentative[target]; part || rs.inProgress[target] {
		typ, err := rs.run(ctx, target)
		if err != nil {
			return cty.NilType, err
		}
		if grant == firstuse.GrantPinned {
			if r := n.Result(); r != nil {
				return r.Pinned, nil
			}
		}
		return typ, nil
	}

	if r := n.Result(); r != nil {
		if grant == firstuse.GrantPinned {
			return r.Pinned, nil
		}
		return r.Type, nil
	}

	// Not a participant and not committed: a fresh dependency surfaced by
	// recomputation. The transaction is closed, so this evaluates plainly.
	v, err := rs.c.value(ctx, target)
	if err != nil {
		return cty.NilType, err
	}
	return v.Type, nil
}
