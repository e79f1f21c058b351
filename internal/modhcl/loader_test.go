package modhcl

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/ctxlog"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/placeholder"
	"github.com/vk/bindgraph/internal/typerule"
)

func testCtx() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func load(t *testing.T, src string) *Module {
	t.Helper()
	mod, diags := NewLoader(typerule.Standard{}).LoadSource(testCtx(), "test.bg.hcl", []byte(src))
	require.False(t, diags.HasErrors(), "unexpected diagnostics: %s", diags)
	require.NotNil(t, mod)
	return mod
}

func loadErr(t *testing.T, src string) hcl.Diagnostics {
	t.Helper()
	mod, diags := NewLoader(typerule.Standard{}).LoadSource(testCtx(), "test.bg.hcl", []byte(src))
	require.True(t, diags.HasErrors())
	require.Nil(t, mod)
	return diags
}

func TestLoadFullKindSet(t *testing.T) {
	mod := load(t, `
binding "lit.n@1:1" {
  kind = "literal"
  type = "number"
}
binding "assign.x@2:1" {
  kind = "empty_list"
}
binding "assign.m@3:1" {
  kind = "empty_map"
}
binding "param.p@4:1" {
  kind = "param"
}
binding "param.q@5:1" {
  kind = "param"
  type = "string"
}
binding "use.r@6:1" {
  kind = "ref"
  of   = "assign.x@2:1"
}
binding "phi.f@7:1" {
  kind = "forward"
  of   = "assign.x@2:1"
}
binding "ann.a@8:1" {
  kind = "annotation"
  of   = "phi.f@7:1"
}
binding "test.t@9:1" {
  kind = "truthy"
  of   = "assign.x@2:1"
}
binding "expr.app@10:1" {
  kind = "append"
  of   = "phi.f@7:1"
  elem = "number"
}
binding "expr.ins@11:1" {
  kind = "insert"
  of   = "assign.m@3:1"
  elem = "string"
}
binding "merge.j@12:1" {
  kind = "join"
  of   = ["lit.n@1:1", "param.q@5:1"]
}
binding "expr.w@13:1" {
  kind = "wrap_list"
  of   = "lit.n@1:1"
}
binding "expr.c@14:1" {
  kind = "call"
  of   = "param.p@4:1"
  returns = "list(string)"
}
`)

	require.Len(t, mod.Keys, 14)
	assert.Equal(t, "lit.n@1:1", mod.Keys[0].String())
	assert.Equal(t, 14, mod.Graph.Len())

	x, ok := mod.Graph.NodeByKey(nodeid.MustParse("assign.x@2:1"))
	require.True(t, ok)
	assert.True(t, x.Spec.ProducesPlaceholder)
	assert.Equal(t, placeholder.TagContained, x.Spec.PlaceholderTag)

	m, _ := mod.Graph.NodeByKey(nodeid.MustParse("assign.m@3:1"))
	assert.True(t, cty.Map(cty.DynamicPseudoType).Equals(m.Spec.PlaceholderDefault))

	p, _ := mod.Graph.NodeByKey(nodeid.MustParse("param.p@4:1"))
	assert.True(t, p.Spec.ProducesPlaceholder)
	assert.Equal(t, placeholder.TagParameter, p.Spec.PlaceholderTag)

	q, _ := mod.Graph.NodeByKey(nodeid.MustParse("param.q@5:1"))
	assert.False(t, q.Spec.ProducesPlaceholder, "a typed param is concrete")

	phi, _ := mod.Graph.NodeByKey(nodeid.MustParse("phi.f@7:1"))
	assert.Equal(t, x.Index, phi.Forward())

	ann, _ := mod.Graph.NodeByKey(nodeid.MustParse("ann.a@8:1"))
	assert.Equal(t, graph.UsageStatic, mod.Graph.Refs()[ann.RefSeq(0)].Usage)

	tst, _ := mod.Graph.NodeByKey(nodeid.MustParse("test.t@9:1"))
	assert.Equal(t, graph.UsageNarrowing, mod.Graph.Refs()[tst.RefSeq(0)].Usage)

	j, _ := mod.Graph.NodeByKey(nodeid.MustParse("merge.j@12:1"))
	assert.Len(t, j.Spec.Refs, 2)
}

func TestLoadDiagnostics(t *testing.T) {
	cases := map[string]struct {
		src     string
		summary string
	}{
		"bad label": {
			src:     "binding \"not a key\" {\n  kind = \"literal\"\n  type = \"number\"\n}\n",
			summary: "Invalid binding id",
		},
		"duplicate": {
			src: `
binding "lit.n@1:1" {
  kind = "literal"
  type = "number"
}
binding "lit.n@1:1" {
  kind = "literal"
  type = "number"
}
`,
			summary: "Duplicate binding",
		},
		"unknown kind": {
			src:     "binding \"lit.n@1:1\" {\n  kind = \"frobnicate\"\n}\n",
			summary: "Unknown binding kind",
		},
		"missing type": {
			src:     "binding \"lit.n@1:1\" {\n  kind = \"literal\"\n}\n",
			summary: "Missing attribute",
		},
		"unknown type name": {
			src:     "binding \"lit.n@1:1\" {\n  kind = \"literal\"\n  type = \"quux\"\n}\n",
			summary: "Unknown type name",
		},
		"undeclared target": {
			src:     "binding \"use.r@1:1\" {\n  kind = \"ref\"\n  of = \"assign.x@9:9\"\n}\n",
			summary: "Unknown binding",
		},
		"wrong join arity": {
			src: `
binding "lit.n@1:1" {
  kind = "literal"
  type = "number"
}
binding "merge.j@2:1" {
  kind = "join"
  of   = ["lit.n@1:1"]
}
`,
			summary: "Wrong reference count",
		},
		"bad map key type": {
			src: `
binding "assign.m@1:1" {
  kind = "empty_map"
}
binding "expr.ins@2:1" {
  kind = "insert"
  of   = "assign.m@1:1"
  key  = "number"
  elem = "string"
}
`,
			summary: "Invalid map key type",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			diags := loadErr(t, tc.src)
			found := false
			for _, d := range diags {
				if d.Summary == tc.summary {
					found = true
					require.NotNil(t, d.Subject, "diagnostic %q carries no source range", d.Summary)
				}
			}
			assert.True(t, found, "missing diagnostic %q in %s", tc.summary, diags)
		})
	}
}

func TestLoadDiagnosticRangesPointAtSource(t *testing.T) {
	diags := loadErr(t, "binding \"lit.n@1:1\" {\n  kind = \"frobnicate\"\n}\n")
	require.NotEmpty(t, diags)
	d := diags[0]
	require.NotNil(t, d.Subject)
	assert.Equal(t, "test.bg.hcl", d.Subject.Filename)
	assert.Equal(t, 2, d.Subject.Start.Line)
}
