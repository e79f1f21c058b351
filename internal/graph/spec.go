package graph

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/placeholder"
)

// Usage classifies the context a reference reads its target in. The
// first-use resolver uses it to decide which reference may refine a
// placeholder.
type Usage int8

const (
	// UsageOrdinary is a real use: eligible to claim first-use privilege.
	UsageOrdinary Usage = iota
	// UsageNarrowing is a non-committal boolean or narrowing test; it never
	// claims privilege.
	UsageNarrowing
	// UsageStatic is a type-annotation position; it never claims privilege.
	UsageStatic
)

// String returns the lowercase usage name.
func (u Usage) String() string {
	switch u {
	case UsageOrdinary:
		return "ordinary"
	case UsageNarrowing:
		return "narrowing"
	case UsageStatic:
		return "static"
	default:
		return "usage(?)"
	}
}

// Ref declares one reference a binding makes to another binding.
type Ref struct {
	Target nodeid.Key
	Usage  Usage
}

// Accessor is the view a binding computation has of the rest of the graph.
// All reads and placeholder operations go through it so the engine can
// route them through preliminary answers, first-use grants and transaction
// isolation.
type Accessor interface {
	// Ref returns the value of the i'th declared reference, with the
	// reference's first-use grant applied.
	Ref(ctx context.Context, i int) (Value, error)
	// Allocate mints this binding's placeholder, opening a transaction if
	// one is not already in scope.
	Allocate() Value
	// Unify refines a placeholder-bearing value to a concrete type. On a
	// concrete value or a settled placeholder it checks compatibility and
	// records a diagnostic on mismatch.
	Unify(v Value, concrete cty.Type)
	// Resolve returns the concrete view of a value: the type itself, or
	// the placeholder's current answer or default.
	Resolve(v Value) cty.Type
	// Errorf and Warnf buffer a diagnostic against this computation.
	Errorf(summary, format string, args ...any)
	Warnf(summary, format string, args ...any)
}

// ComputeFunc is the computation recipe for one binding: a pure function of
// other bindings' results, reached only through the accessor.
type ComputeFunc func(ctx context.Context, acc Accessor) (Value, error)

// BindingSpec describes one binding: its declared references, its recipe,
// and the static metadata the first-use resolver needs.
type BindingSpec struct {
	// Refs are the references the recipe may read, in recipe order.
	Refs []Ref
	// Compute is the recipe.
	Compute ComputeFunc
	// ProducesPlaceholder marks bindings whose recipe allocates a
	// placeholder (empty collection literals, untyped parameters, ...).
	ProducesPlaceholder bool
	// PlaceholderTag selects the placeholder tag when ProducesPlaceholder
	// is set.
	PlaceholderTag placeholder.Tag
	// PlaceholderDefault overrides the tag's default value when non-nil.
	PlaceholderDefault cty.Type
	// ForwardsTo marks a transparent forwarding binding (a plain reference
	// or loop phi). First-use resolution follows these chains to the
	// placeholder-producing origin, and such a binding's own reference
	// never claims privilege.
	ForwardsTo *nodeid.Key
}

// Result is the committed, globally visible answer of a binding. Type never
// contains an unresolved placeholder. Pinned is the view non-committal
// readers get: any position that was placeholder-bearing during evaluation
// replaced by the placeholder's default.
type Result struct {
	Type   cty.Type
	Pinned cty.Type
	Diags  hcl.Diagnostics
}
