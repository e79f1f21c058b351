// Package nodeid defines the stable identity of a binding in the
// computation graph. A key combines the binding kind, the symbol it is
// about, and the source position it was created from, so that two analyses
// of the same module always mint identical keys.
package nodeid

import (
	"fmt"
)

// Key is the structured representation of a unique binding identifier.
type Key struct {
	// Kind is a lowercase tag describing what the binding computes,
	// e.g. "assign", "expr", "use", "phi".
	Kind string
	// Name is the symbol or expression label the binding is attached to.
	Name string
	// Line and Col are the 1-based source position the binding was
	// derived from.
	Line int
	Col  int
}

// String serializes the Key into its canonical form, `kind.name@line:col`.
func (k Key) String() string {
	return fmt.Sprintf("%s.%s@%d:%d", k.Kind, k.Name, k.Line, k.Col)
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k.Kind == "" && k.Name == "" && k.Line == 0 && k.Col == 0
}

// Equal checks for equality between two keys.
func (k Key) Equal(other Key) bool {
	return k == other
}

// Less defines the canonical total order over keys: source position first,
// then kind, then name. Cycle resolution uses this order to pick a break
// point that does not depend on which call path discovered the cycle.
func (k Key) Less(other Key) bool {
	if k.Line != other.Line {
		return k.Line < other.Line
	}
	if k.Col != other.Col {
		return k.Col < other.Col
	}
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.Name < other.Name
}
