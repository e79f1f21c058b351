package modhcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/placeholder"
	"github.com/vk/bindgraph/internal/typerule"
)

var bindingSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "kind", Required: true},
		{Name: "type"},
		{Name: "of"},
		{Name: "elem"},
		{Name: "key"},
		{Name: "returns"},
	},
}

// compileBinding turns one binding block into a BindingSpec. The kind switch
// is exhaustive over the supported binding kinds.
func (l *Loader) compileBinding(block *hcl.Block, known map[string]bool) (graph.BindingSpec, hcl.Diagnostics) {
	content, diags := block.Body.Content(bindingSchema)
	if diags.HasErrors() {
		return graph.BindingSpec{}, diags
	}
	attrs := content.Attributes

	kind, d := stringValue(attrs["kind"])
	if d.HasErrors() {
		return graph.BindingSpec{}, diags.Extend(d)
	}

	cb := &compiler{loader: l, block: block, attrs: attrs, known: known}
	var spec graph.BindingSpec

	switch kind {
	case "literal":
		t := cb.typeAttr("type", true, cty.NilType)
		spec.Compute = literal(t)

	case "empty_list":
		spec.ProducesPlaceholder = true
		spec.PlaceholderTag = placeholder.TagContained
		spec.Compute = allocate

	case "empty_map":
		spec.ProducesPlaceholder = true
		spec.PlaceholderTag = placeholder.TagContained
		spec.PlaceholderDefault = cty.Map(cty.DynamicPseudoType)
		spec.Compute = allocate

	case "param":
		if _, typed := attrs["type"]; typed {
			t := cb.typeAttr("type", true, cty.NilType)
			spec.Compute = literal(t)
		} else {
			spec.ProducesPlaceholder = true
			spec.PlaceholderTag = placeholder.TagParameter
			spec.Compute = allocate
		}

	case "ref":
		target := cb.oneTarget()
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.Compute = passRef

	case "forward":
		target := cb.oneTarget()
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.ForwardsTo = &target
		spec.Compute = passRef

	case "annotation":
		target := cb.oneTarget()
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageStatic}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			v, err := acc.Ref(ctx, 0)
			if err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(acc.Resolve(v)), nil
		}

	case "truthy":
		target := cb.oneTarget()
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageNarrowing}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			if _, err := acc.Ref(ctx, 0); err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(cty.Bool), nil
		}

	case "append":
		target := cb.oneTarget()
		elem := cb.typeAttr("elem", true, cty.NilType)
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			lst, err := acc.Ref(ctx, 0)
			if err != nil {
				return graph.Value{}, err
			}
			acc.Unify(lst, cty.List(elem))
			return graph.Concrete(acc.Resolve(lst)), nil
		}

	case "insert":
		target := cb.oneTarget()
		keyType := cb.typeAttr("key", false, cty.String)
		elem := cb.typeAttr("elem", true, cty.NilType)
		if !keyType.Equals(cty.String) && !keyType.Equals(cty.DynamicPseudoType) {
			cb.errorf("key", "Invalid map key type", "map keys must be strings, not %s", keyType.FriendlyName())
		}
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			m, err := acc.Ref(ctx, 0)
			if err != nil {
				return graph.Value{}, err
			}
			acc.Unify(m, cty.Map(elem))
			return graph.Concrete(acc.Resolve(m)), nil
		}

	case "join":
		targets := cb.targets(2)
		rules := l.rules
		if len(targets) == 2 {
			spec.Refs = []graph.Ref{
				{Target: targets[0], Usage: graph.UsageOrdinary},
				{Target: targets[1], Usage: graph.UsageOrdinary},
			}
		}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			a, err := acc.Ref(ctx, 0)
			if err != nil {
				return graph.Value{}, err
			}
			b, err := acc.Ref(ctx, 1)
			if err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(rules.Join(acc.Resolve(a), acc.Resolve(b))), nil
		}

	case "wrap_list":
		target := cb.oneTarget()
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			v, err := acc.Ref(ctx, 0)
			if err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(cty.List(acc.Resolve(v))), nil
		}

	case "call":
		target := cb.oneTarget()
		ret := cb.typeAttr("returns", false, cty.DynamicPseudoType)
		spec.Refs = []graph.Ref{{Target: target, Usage: graph.UsageOrdinary}}
		spec.Compute = func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
			if _, err := acc.Ref(ctx, 0); err != nil {
				return graph.Value{}, err
			}
			return graph.Concrete(ret), nil
		}

	default:
		cb.diags = cb.diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unknown binding kind",
			Detail:   fmt.Sprintf("there is no binding kind %q", kind),
			Subject:  attrs["kind"].Expr.Range().Ptr(),
		})
	}

	return spec, diags.Extend(cb.diags)
}

func literal(t cty.Type) graph.ComputeFunc {
	return func(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
		return graph.Concrete(t), nil
	}
}

func allocate(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
	return acc.Allocate(), nil
}

func passRef(ctx context.Context, acc graph.Accessor) (graph.Value, error) {
	return acc.Ref(ctx, 0)
}

// compiler accumulates attribute lookups and their diagnostics for one
// binding block.
type compiler struct {
	loader *Loader
	block  *hcl.Block
	attrs  hcl.Attributes
	known  map[string]bool
	diags  hcl.Diagnostics
}

func (cb *compiler) errorf(attr, summary, format string, args ...any) {
	subject := &cb.block.DefRange
	if a, ok := cb.attrs[attr]; ok {
		subject = a.Expr.Range().Ptr()
	}
	cb.diags = cb.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  subject,
	})
}

// typeAttr resolves a type-name attribute. When the attribute is absent and
// not required, fallback is returned without diagnostics.
func (cb *compiler) typeAttr(name string, required bool, fallback cty.Type) cty.Type {
	attr, ok := cb.attrs[name]
	if !ok {
		if required {
			cb.errorf(name, "Missing attribute", "binding kind requires a %q attribute", name)
			return cty.DynamicPseudoType
		}
		return fallback
	}
	s, d := stringValue(attr)
	if d.HasErrors() {
		cb.diags = cb.diags.Extend(d)
		return cty.DynamicPseudoType
	}
	t, err := typerule.ParseType(s)
	if err != nil {
		cb.errorf(name, "Unknown type name", "%s", err)
		return cty.DynamicPseudoType
	}
	return t
}

// oneTarget resolves the "of" attribute to a single binding key.
func (cb *compiler) oneTarget() nodeid.Key {
	ts := cb.targets(1)
	if len(ts) != 1 {
		return nodeid.Key{}
	}
	return ts[0]
}

// targets resolves the "of" attribute to exactly want binding keys. A plain
// string is a one-element list.
func (cb *compiler) targets(want int) []nodeid.Key {
	attr, ok := cb.attrs["of"]
	if !ok {
		cb.errorf("of", "Missing attribute", "binding kind requires an %q attribute", "of")
		return nil
	}
	v, d := attr.Expr.Value(nil)
	if d.HasErrors() {
		cb.diags = cb.diags.Extend(d)
		return nil
	}

	var raw []string
	switch {
	case v.Type() == cty.String:
		raw = []string{v.AsString()}
	case v.Type().IsTupleType():
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if ev.Type() != cty.String {
				cb.errorf("of", "Invalid reference", "reference lists must contain binding ids")
				return nil
			}
			raw = append(raw, ev.AsString())
		}
	default:
		cb.errorf("of", "Invalid reference", "%q must be a binding id or a list of binding ids", "of")
		return nil
	}

	if len(raw) != want {
		cb.errorf("of", "Wrong reference count", "binding kind takes %d reference(s), got %d", want, len(raw))
		return nil
	}

	keys := make([]nodeid.Key, 0, len(raw))
	for _, s := range raw {
		key, err := nodeid.Parse(s)
		if err != nil {
			cb.errorf("of", "Invalid reference", "%s", err)
			return nil
		}
		if !cb.known[key.String()] {
			cb.errorf("of", "Unknown binding", "reference to undeclared binding %s", key)
			return nil
		}
		keys = append(keys, key)
	}
	return keys
}

func stringValue(attr *hcl.Attribute) (string, hcl.Diagnostics) {
	v, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	if v.Type() != cty.String {
		return "", hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid attribute value",
			Detail:   fmt.Sprintf("%q must be a string", attr.Name),
			Subject:  attr.Expr.Range().Ptr(),
		}}
	}
	return v.AsString(), nil
}
