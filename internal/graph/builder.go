package graph

import (
	"fmt"

	"github.com/vk/bindgraph/internal/nodeid"
)

// RefRecord is one deferred reference, recorded in construction order. The
// first-use resolver walks these once, after the whole graph is built, to
// finalize refinement privileges; nothing is decided eagerly during
// construction.
type RefRecord struct {
	// Seq is the construction-order sequence number (dense, from 0).
	Seq int
	// From is the arena index of the referring node, Slot its reference
	// slot, Target the arena index of the referenced node.
	From   int
	Slot   int
	Target int
	Usage  Usage
}

// Graph is the sealed binding graph: an arena of nodes plus the side table
// of reference records. Construction happens once per module analysis; the
// arena is append-only per node after that.
type Graph struct {
	nodes []*Node
	index map[string]int
	refs  []RefRecord
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node at the given arena index.
func (g *Graph) Node(i int) *Node {
	return g.nodes[i]
}

// NodeByKey resolves a key to its node.
func (g *Graph) NodeByKey(key nodeid.Key) (*Node, bool) {
	i, ok := g.index[key.String()]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Refs returns the reference records in construction order.
func (g *Graph) Refs() []RefRecord {
	return g.refs
}

// Handle identifies a reserved node during construction.
type Handle int

// Builder assembles a graph in two steps: Reserve registers a key before
// its recipe is known (forward references, loop phis), Bind attaches the
// recipe. Finish resolves all reference targets and seals the graph.
type Builder struct {
	g     *Graph
	bound []bool
	// pendingRefs holds declared references by key until Finish, when
	// every target must exist.
	pendingRefs []pendingRef
	finished    bool
}

type pendingRef struct {
	from  int
	slot  int
	ref   Ref
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		g: &Graph{index: make(map[string]int)},
	}
}

// Reserve registers a node key before its computation recipe is known and
// returns a handle for the later Bind call.
func (b *Builder) Reserve(key nodeid.Key) (Handle, error) {
	if b.finished {
		return 0, fmt.Errorf("graph already finished")
	}
	if _, exists := b.g.index[key.String()]; exists {
		return 0, fmt.Errorf("duplicate binding key %s", key)
	}
	idx := len(b.g.nodes)
	b.g.nodes = append(b.g.nodes, &Node{
		Key:     key,
		Index:   idx,
		forward: -1,
		done:    make(chan struct{}),
	})
	b.g.index[key.String()] = idx
	b.bound = append(b.bound, false)
	return Handle(idx), nil
}

// Bind attaches a recipe to a reserved node and records its declared
// references in construction order.
func (b *Builder) Bind(h Handle, spec BindingSpec) error {
	if b.finished {
		return fmt.Errorf("graph already finished")
	}
	idx := int(h)
	if idx < 0 || idx >= len(b.g.nodes) {
		return fmt.Errorf("invalid handle %d", idx)
	}
	if b.bound[idx] {
		return fmt.Errorf("binding %s already bound", b.g.nodes[idx].Key)
	}
	if spec.Compute == nil {
		return fmt.Errorf("binding %s has no recipe", b.g.nodes[idx].Key)
	}
	n := b.g.nodes[idx]
	n.Spec = spec
	for slot, ref := range spec.Refs {
		b.pendingRefs = append(b.pendingRefs, pendingRef{from: idx, slot: slot, ref: ref})
	}
	b.bound[idx] = true
	return nil
}

// Add is Reserve followed by Bind.
func (b *Builder) Add(key nodeid.Key, spec BindingSpec) (Handle, error) {
	h, err := b.Reserve(key)
	if err != nil {
		return 0, err
	}
	return h, b.Bind(h, spec)
}

// Finish verifies every reservation was bound and every reference target
// exists, resolves targets and forwarding chains to arena indices, and
// seals the graph.
func (b *Builder) Finish() (*Graph, error) {
	if b.finished {
		return nil, fmt.Errorf("graph already finished")
	}
	for idx, bound := range b.bound {
		if !bound {
			return nil, fmt.Errorf("binding %s was reserved but never bound", b.g.nodes[idx].Key)
		}
	}

	for _, p := range b.pendingRefs {
		target, ok := b.g.index[p.ref.Target.String()]
		if !ok {
			return nil, fmt.Errorf("binding %s references unknown binding %s",
				b.g.nodes[p.from].Key, p.ref.Target)
		}
		n := b.g.nodes[p.from]
		// Refs are appended in slot order per node, so slot == len(refIdx).
		n.refIdx = append(n.refIdx, target)
		n.refSeq = append(n.refSeq, len(b.g.refs))
		b.g.refs = append(b.g.refs, RefRecord{
			Seq:    len(b.g.refs),
			From:   p.from,
			Slot:   p.slot,
			Target: target,
			Usage:  p.ref.Usage,
		})
	}

	for _, n := range b.g.nodes {
		if n.Spec.ForwardsTo == nil {
			continue
		}
		target, ok := b.g.index[n.Spec.ForwardsTo.String()]
		if !ok {
			return nil, fmt.Errorf("binding %s forwards to unknown binding %s",
				n.Key, n.Spec.ForwardsTo)
		}
		n.forward = target
	}

	b.finished = true
	return b.g, nil
}
