// Package firstuse decides, once per module and before any evaluation,
// which reference to a placeholder-producing binding is privileged to
// refine it. Construction records every reference into a side table
// (graph.RefRecord, in construction order); Resolve walks that table
// exactly once, in that fixed order, and the resulting grants are immutable
// during evaluation. Making this a separate deterministic pass -- instead
// of deciding live while evaluating -- is what keeps refinement decisions
// independent of thread scheduling, and what makes refinement work inside
// loop bodies, where the merge point is only known after the whole body has
// been traversed.
package firstuse

import (
	"github.com/vk/bindgraph/internal/graph"
)

// Grant is the refinement privilege assigned to one reference.
type Grant int8

const (
	// GrantNone: the target never reaches a placeholder producer; the
	// reference reads plain committed values.
	GrantNone Grant = iota
	// GrantPrivileged: the first real use; reads the raw,
	// placeholder-bearing value so unification can occur through it.
	GrantPrivileged
	// GrantSecondary: a read sharing an already-granted privilege; sees
	// the raw value for consistency with the privileged read beside it.
	GrantSecondary
	// GrantPinned: reads the pinned view (placeholder defaults); no
	// refinement is possible through this reference, ever.
	GrantPinned
	// GrantTransparent: the forwarding reference of a pass-through
	// binding. It moves the raw value along without claiming anything;
	// privilege is decided at the far end of the chain.
	GrantTransparent
)

// String returns the lowercase grant name.
func (g Grant) String() string {
	switch g {
	case GrantNone:
		return "none"
	case GrantPrivileged:
		return "privileged"
	case GrantSecondary:
		return "secondary"
	case GrantPinned:
		return "pinned"
	case GrantTransparent:
		return "transparent"
	default:
		return "grant(?)"
	}
}

// Policy tunes the unresolved edge cases of privilege sharing. The source
// design leaves "secondary reads inside a privileged first use" open; it is
// a parameter here rather than a fixed rule.
type Policy struct {
	// SecondarySharesPrivilege lets any reference made by a binding that
	// already holds privilege for a producer see the raw value, including
	// its narrowing and annotation references.
	SecondarySharesPrivilege bool
}

// DefaultPolicy is the policy used by the driver and the conformance
// scenarios.
func DefaultPolicy() Policy {
	return Policy{SecondarySharesPrivilege: true}
}

// Resolution is the immutable output of the pass.
type Resolution struct {
	grants []Grant
	// refiners maps a producer's arena index to the bindings privileged to
	// refine it, in construction order.
	refiners map[int][]int
}

// Grant returns the grant for the reference with the given construction
// sequence number.
func (r *Resolution) Grant(seq int) Grant {
	return r.grants[seq]
}

// Refiners returns the bindings privileged to refine the given producer, in
// construction order. The transaction coordinator evaluates these before
// pinning so refinement happens ahead of defaults.
func (r *Resolution) Refiners(producer int) []int {
	return r.refiners[producer]
}

// Resolve runs the pass over a sealed graph.
func Resolve(g *graph.Graph, policy Policy) *Resolution {
	res := &Resolution{
		grants:   make([]Grant, len(g.Refs())),
		refiners: make(map[int][]int),
	}

	origins := make(map[int]int)
	// claimed maps a producer to the binding that took first use.
	claimed := make(map[int]int)
	// privileged tracks, per producer, every binding holding privilege.
	privileged := make(map[int]map[int]bool)

	addRefiner := func(producer, from int) {
		for _, existing := range res.refiners[producer] {
			if existing == from {
				return
			}
		}
		res.refiners[producer] = append(res.refiners[producer], from)
	}

	for _, rec := range g.Refs() {
		from := g.Node(rec.From)
		if from.Forward() != -1 {
			// A pass-through binding's own reference never claims; the
			// chain is followed from its consumers instead.
			res.grants[rec.Seq] = GrantTransparent
			continue
		}

		producer := origin(g, rec.Target, origins)
		if producer < 0 {
			res.grants[rec.Seq] = GrantNone
			continue
		}

		switch rec.Usage {
		case graph.UsageOrdinary:
			first, taken := claimed[producer]
			switch {
			case !taken:
				res.grants[rec.Seq] = GrantPrivileged
				claimed[producer] = rec.From
				if privileged[producer] == nil {
					privileged[producer] = make(map[int]bool)
				}
				privileged[producer][rec.From] = true
				addRefiner(producer, rec.From)
			case rec.From == first,
				policy.SecondarySharesPrivilege && privileged[producer][rec.From]:
				res.grants[rec.Seq] = GrantSecondary
				addRefiner(producer, rec.From)
			default:
				res.grants[rec.Seq] = GrantPinned
			}
		default: // narrowing and annotation positions never claim
			if policy.SecondarySharesPrivilege && privileged[producer][rec.From] {
				res.grants[rec.Seq] = GrantSecondary
			} else {
				res.grants[rec.Seq] = GrantPinned
			}
		}
	}

	return res
}

// origin follows forwarding chains from a node to the placeholder producer
// they ultimately reach, or -1. Results are memoized; a forwarding loop
// (which evaluation will surface as a cycle) yields -1.
func origin(g *graph.Graph, idx int, memo map[int]int) int {
	if cached, ok := memo[idx]; ok {
		return cached
	}
	seen := make(map[int]bool)
	cur := idx
	for {
		if seen[cur] {
			memo[idx] = -1
			return -1
		}
		seen[cur] = true
		n := g.Node(cur)
		if next := n.Forward(); next != -1 {
			cur = next
			continue
		}
		result := -1
		if n.Spec.ProducesPlaceholder {
			result = cur
		}
		memo[idx] = result
		return result
	}
}
