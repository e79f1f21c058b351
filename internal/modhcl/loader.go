// Package modhcl loads module descriptions written in HCL and compiles them
// into a sealed binding graph. A module is a flat list of binding blocks:
//
//	binding "assign.x@1:1" {
//	  kind = "empty_list"
//	}
//	binding "expr.app@2:1" {
//	  kind = "append"
//	  of   = "assign.x@1:1"
//	  elem = "number"
//	}
//
// The binding-kind set is closed; every kind a module may use is compiled
// here, and an unknown kind is a load error, not an extension point.
// Malformed input is reported as hcl.Diagnostics with real source ranges.
package modhcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/bindgraph/internal/ctxlog"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/typerule"
)

// Module is a loaded, sealed module description.
type Module struct {
	Graph *graph.Graph
	// Keys lists the binding keys in declaration order.
	Keys     []nodeid.Key
	Filename string
}

// Loader compiles HCL module descriptions against a type-rule set. The
// parser is retained so callers can render diagnostics with source excerpts.
type Loader struct {
	rules  typerule.Rules
	parser *hclparse.Parser
}

// NewLoader creates a module loader.
func NewLoader(rules typerule.Rules) *Loader {
	return &Loader{rules: rules, parser: hclparse.NewParser()}
}

// Sources returns every file this loader has parsed, keyed by filename, for
// use with hcl.NewDiagnosticTextWriter.
func (l *Loader) Sources() map[string]*hcl.File {
	return l.parser.Files()
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "binding", LabelNames: []string{"id"}},
	},
}

// LoadFile loads a module description from disk.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Module, hcl.Diagnostics) {
	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	return l.compile(ctx, path, file.Body)
}

// LoadSource loads a module description from an in-memory buffer. The
// filename is used in diagnostic ranges only.
func (l *Loader) LoadSource(ctx context.Context, filename string, src []byte) (*Module, hcl.Diagnostics) {
	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return l.compile(ctx, filename, file.Body)
}

func (l *Loader) compile(ctx context.Context, filename string, body hcl.Body) (*Module, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx)

	content, diags := body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	b := graph.NewBuilder()
	known := make(map[string]bool)

	// Pass 1: reserve every binding so references may point forward.
	type reserved struct {
		key   nodeid.Key
		h     graph.Handle
		block *hcl.Block
	}
	var items []reserved
	var keys []nodeid.Key
	for _, block := range content.Blocks {
		key, err := nodeid.Parse(block.Labels[0])
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid binding id",
				Detail:   err.Error(),
				Subject:  &block.LabelRanges[0],
			})
			continue
		}
		h, err := b.Reserve(key)
		if err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate binding",
				Detail:   err.Error(),
				Subject:  &block.LabelRanges[0],
			})
			continue
		}
		known[key.String()] = true
		items = append(items, reserved{key: key, h: h, block: block})
		keys = append(keys, key)
	}
	if diags.HasErrors() {
		return nil, diags
	}

	// Pass 2: compile each block's kind into a recipe and bind it.
	for _, it := range items {
		spec, d := l.compileBinding(it.block, known)
		diags = diags.Extend(d)
		if d.HasErrors() {
			continue
		}
		if err := b.Bind(it.h, spec); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid binding",
				Detail:   err.Error(),
				Subject:  &it.block.DefRange,
			})
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	g, err := b.Finish()
	if err != nil {
		// Targets were checked per attribute, so this is construction-layer
		// breakage rather than a user mistake.
		return nil, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Module construction failed",
			Detail:   fmt.Sprintf("could not seal binding graph: %s", err),
		})
	}

	logger.Debug("module loaded", "file", filename, "bindings", len(keys), "references", len(g.Refs()))
	return &Module{Graph: g, Keys: keys, Filename: filename}, diags
}
