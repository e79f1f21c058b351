package typerule

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ParseType resolves a type name used in module descriptions into a cty
// type. Supported forms: the primitives `number`, `string`, `bool`, the
// universal `dynamic`, and the constructors `list(...)`, `set(...)`,
// `map(...)` applied recursively.
func ParseType(name string) (cty.Type, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "number":
		return cty.Number, nil
	case "string":
		return cty.String, nil
	case "bool":
		return cty.Bool, nil
	case "dynamic":
		return cty.DynamicPseudoType, nil
	}

	open := strings.IndexByte(name, '(')
	if open > 0 && strings.HasSuffix(name, ")") {
		elem, err := ParseType(name[open+1 : len(name)-1])
		if err != nil {
			return cty.NilType, err
		}
		switch name[:open] {
		case "list":
			return cty.List(elem), nil
		case "set":
			return cty.Set(elem), nil
		case "map":
			return cty.Map(elem), nil
		}
	}

	return cty.NilType, fmt.Errorf("unknown type name %q", name)
}
