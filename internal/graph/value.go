// Package graph holds the binding graph itself: an arena of write-once
// memoization cells, the builder that constructs it, and the recipe surface
// that binding computations are written against. The evaluation policy
// (worker pool, transactions, cycle handling) lives in internal/engine; this
// package only guarantees the per-cell contract: one result, one diagnostic
// set, published exactly once.
package graph

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/placeholder"
)

// Value is the result of one binding computation. It is either a concrete
// type or a handle to a still-unresolved placeholder; never both. Values
// carrying placeholders exist only inside a transaction, never in a
// published Result.
type Value struct {
	Type cty.Type
	Ph   placeholder.ID
}

// Concrete wraps a resolved type as a Value.
func Concrete(t cty.Type) Value {
	return Value{Type: t}
}

// Deferred wraps a placeholder handle as a Value.
func Deferred(id placeholder.ID) Value {
	return Value{Ph: id}
}

// IsPlaceholder reports whether the value is an unresolved placeholder
// handle rather than a concrete type.
func (v Value) IsPlaceholder() bool {
	return v.Ph != 0
}

// IsZero reports whether the value carries neither a type nor a handle.
func (v Value) IsZero() bool {
	return v.Ph == 0 && v.Type == cty.NilType
}
