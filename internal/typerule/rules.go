// Package typerule supplies the type-rule callbacks the evaluator is
// parameterized over: placeholder defaults, the compatibility predicate used
// when a settled placeholder is unified again, and the join used by merge
// bindings. The evaluator itself never inspects types; it only moves them.
package typerule

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/bindgraph/internal/placeholder"
)

// Rules is the collaborator surface supplied by the type-rule layer.
type Rules interface {
	// DefaultFor returns the value a placeholder with the given tag falls
	// back to when it is never refined.
	DefaultFor(tag placeholder.Tag) cty.Type
	// UnifyCompatible reports whether a later unification against b is
	// acceptable for a placeholder that already settled on a.
	UnifyCompatible(a, b cty.Type) bool
	// Join merges two branch types into the type of their merge point.
	Join(a, b cty.Type) cty.Type
}

// Standard implements Rules on top of cty's conversion machinery.
type Standard struct{}

// DefaultFor implements Rules.
func (Standard) DefaultFor(tag placeholder.Tag) cty.Type {
	switch tag {
	case placeholder.TagContained:
		return cty.List(cty.DynamicPseudoType)
	default:
		// Recursive breaks, quantified generics and untyped parameters all
		// fall back to the universal unknown type.
		return cty.DynamicPseudoType
	}
}

// UnifyCompatible implements Rules. Two types are compatible when they are
// equal or when a conversion exists in either direction, unknowns included.
func (Standard) UnifyCompatible(a, b cty.Type) bool {
	if a.Equals(b) {
		return true
	}
	if convert.GetConversionUnsafe(a, b) != nil {
		return true
	}
	return convert.GetConversionUnsafe(b, a) != nil
}

// Join implements Rules. When cty cannot unify the two types the merge
// degrades to the universal unknown type rather than failing.
func (Standard) Join(a, b cty.Type) cty.Type {
	if a.Equals(b) {
		return a
	}
	unified, _ := convert.UnifyUnsafe([]cty.Type{a, b})
	if unified == cty.NilType {
		return cty.DynamicPseudoType
	}
	return unified
}
