package refinement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/testutil"
)

// The canonical first-use module: an empty list, a narrowing test that must
// not claim refinement, the privileged append, and a later use that only
// ever sees the pinned view.
const firstUseModule = `
binding "assign.x@1:1" {
  kind = "empty_list"
}
binding "test.t@2:1" {
  kind = "truthy"
  of   = "assign.x@1:1"
}
binding "expr.app@3:1" {
  kind = "append"
  of   = "assign.x@1:1"
  elem = "number"
}
binding "use.y@4:1" {
  kind = "ref"
  of   = "assign.x@1:1"
}
`

func TestEmptyListRefinedByFirstUse(t *testing.T) {
	hr := testutil.EvalModule(t, firstUseModule, 1)

	hr.AssertType(t, "assign.x@1:1", cty.List(cty.Number))
	hr.AssertType(t, "test.t@2:1", cty.Bool)
	hr.AssertType(t, "expr.app@3:1", cty.List(cty.Number))
	hr.AssertType(t, "use.y@4:1", cty.List(cty.DynamicPseudoType))

	assert.True(t, cty.List(cty.DynamicPseudoType).Equals(hr.PinnedOf(t, "assign.x@1:1")))
	assert.False(t, hr.Diags.HasErrors(), "unexpected diagnostics: %s", hr.Diags)
	assert.EqualValues(t, 1, hr.Metrics.Transactions)
}

func TestEmptyMapRefinedByInsert(t *testing.T) {
	hr := testutil.EvalModule(t, `
binding "assign.m@1:1" {
  kind = "empty_map"
}
binding "expr.ins@2:1" {
  kind = "insert"
  of   = "assign.m@1:1"
  elem = "string"
}
binding "use.u@3:1" {
  kind = "ref"
  of   = "assign.m@1:1"
}
`, 1)

	hr.AssertType(t, "assign.m@1:1", cty.Map(cty.String))
	hr.AssertType(t, "expr.ins@2:1", cty.Map(cty.String))
	hr.AssertType(t, "use.u@3:1", cty.Map(cty.DynamicPseudoType))
	assert.False(t, hr.Diags.HasErrors())
}

func TestAnnotationNeverClaimsRefinement(t *testing.T) {
	// The annotation appears before the append in source order; it still
	// must not take the first use away from the append, and it must report
	// the pinned view.
	hr := testutil.EvalModule(t, `
binding "assign.x@1:1" {
  kind = "empty_list"
}
binding "ann.a@2:1" {
  kind = "annotation"
  of   = "assign.x@1:1"
}
binding "expr.app@3:1" {
  kind = "append"
  of   = "assign.x@1:1"
  elem = "bool"
}
`, 1)

	hr.AssertType(t, "assign.x@1:1", cty.List(cty.Bool))
	hr.AssertType(t, "ann.a@2:1", cty.List(cty.DynamicPseudoType))
	hr.AssertType(t, "expr.app@3:1", cty.List(cty.Bool))
	assert.False(t, hr.Diags.HasErrors())
}

func TestForwardingChainCarriesPrivilege(t *testing.T) {
	// Refinement reaches the producer through a pass-through binding: the
	// append reads the phi, not the list itself.
	hr := testutil.EvalModule(t, `
binding "assign.x@1:1" {
  kind = "empty_list"
}
binding "phi.x@2:1" {
  kind = "forward"
  of   = "assign.x@1:1"
}
binding "expr.app@3:1" {
  kind = "append"
  of   = "phi.x@2:1"
  elem = "string"
}
`, 1)

	hr.AssertType(t, "assign.x@1:1", cty.List(cty.String))
	hr.AssertType(t, "expr.app@3:1", cty.List(cty.String))
	assert.False(t, hr.Diags.HasErrors())
}

func TestUnreferencedEmptyListPinsToDefault(t *testing.T) {
	// An empty list nothing ever reads: no refiner exists, so the
	// placeholder pins to its default at commit.
	hr := testutil.EvalModule(t, `
binding "assign.x@1:1" {
  kind = "empty_list"
}
`, 1)

	hr.AssertType(t, "assign.x@1:1", cty.List(cty.DynamicPseudoType))
	assert.True(t, cty.List(cty.DynamicPseudoType).Equals(hr.PinnedOf(t, "assign.x@1:1")))
	assert.False(t, hr.Diags.HasErrors())
	assert.EqualValues(t, 1, hr.Metrics.Transactions)
}

func TestUntypedParamPinsToDynamic(t *testing.T) {
	hr := testutil.EvalModule(t, `
binding "param.p@1:1" {
  kind = "param"
}
binding "expr.c@2:1" {
  kind = "call"
  of   = "param.p@1:1"
  returns = "number"
}
`, 1)

	hr.AssertType(t, "param.p@1:1", cty.DynamicPseudoType)
	hr.AssertType(t, "expr.c@2:1", cty.Number)
	assert.False(t, hr.Diags.HasErrors())
}
