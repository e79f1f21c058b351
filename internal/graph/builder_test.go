package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/nodeid"
)

func nopCompute(ctx context.Context, acc Accessor) (Value, error) {
	return Concrete(cty.Number), nil
}

func TestBuilderReserveAndBind(t *testing.T) {
	b := NewBuilder()

	x := nodeid.MustParse("assign.x@1:1")
	y := nodeid.MustParse("use.y@2:1")

	// Reserve y first so its reference to x is a forward reference.
	hy, err := b.Reserve(y)
	require.NoError(t, err)
	hx, err := b.Reserve(x)
	require.NoError(t, err)

	require.NoError(t, b.Bind(hx, BindingSpec{Compute: nopCompute}))
	require.NoError(t, b.Bind(hy, BindingSpec{
		Refs:    []Ref{{Target: x, Usage: UsageOrdinary}},
		Compute: nopCompute,
	}))

	g, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, 2, g.Len())
	nx, ok := g.NodeByKey(x)
	require.True(t, ok)
	ny, ok := g.NodeByKey(y)
	require.True(t, ok)
	assert.Equal(t, nx.Index, ny.RefTarget(0))
	assert.Equal(t, -1, nx.Forward())

	refs := g.Refs()
	require.Len(t, refs, 1)
	assert.Equal(t, 0, refs[0].Seq)
	assert.Equal(t, ny.Index, refs[0].From)
	assert.Equal(t, nx.Index, refs[0].Target)
	assert.Equal(t, UsageOrdinary, refs[0].Usage)
}

func TestBuilderErrors(t *testing.T) {
	x := nodeid.MustParse("assign.x@1:1")

	t.Run("duplicate key", func(t *testing.T) {
		b := NewBuilder()
		_, err := b.Reserve(x)
		require.NoError(t, err)
		_, err = b.Reserve(x)
		assert.Error(t, err)
	})

	t.Run("unbound reservation", func(t *testing.T) {
		b := NewBuilder()
		_, err := b.Reserve(x)
		require.NoError(t, err)
		_, err = b.Finish()
		assert.Error(t, err)
	})

	t.Run("missing reference target", func(t *testing.T) {
		b := NewBuilder()
		_, err := b.Add(x, BindingSpec{
			Refs:    []Ref{{Target: nodeid.MustParse("use.gone@9:9")}},
			Compute: nopCompute,
		})
		require.NoError(t, err)
		_, err = b.Finish()
		assert.Error(t, err)
	})

	t.Run("missing recipe", func(t *testing.T) {
		b := NewBuilder()
		h, err := b.Reserve(x)
		require.NoError(t, err)
		assert.Error(t, b.Bind(h, BindingSpec{}))
	})

	t.Run("missing forward target", func(t *testing.T) {
		b := NewBuilder()
		gone := nodeid.MustParse("assign.gone@9:9")
		_, err := b.Add(x, BindingSpec{Compute: nopCompute, ForwardsTo: &gone})
		require.NoError(t, err)
		_, err = b.Finish()
		assert.Error(t, err)
	})

	t.Run("double bind", func(t *testing.T) {
		b := NewBuilder()
		h, err := b.Reserve(x)
		require.NoError(t, err)
		require.NoError(t, b.Bind(h, BindingSpec{Compute: nopCompute}))
		assert.Error(t, b.Bind(h, BindingSpec{Compute: nopCompute}))
	})
}

func TestCellContract(t *testing.T) {
	b := NewBuilder()
	x := nodeid.MustParse("assign.x@1:1")
	h, err := b.Add(x, BindingSpec{Compute: nopCompute})
	require.NoError(t, err)
	g, err := b.Finish()
	require.NoError(t, err)

	n := g.Node(int(h))
	assert.Equal(t, StateUncomputed, n.State())
	assert.Nil(t, n.Result())

	require.True(t, n.TryClaim(7))
	assert.False(t, n.TryClaim(8), "second claim loses")
	assert.Equal(t, StateComputing, n.State())
	assert.Equal(t, int64(7), n.Owner())

	first := &Result{Type: cty.Number, Pinned: cty.Number}
	winner, final := n.Publish(first)
	assert.True(t, winner)
	assert.Same(t, first, final)

	// A losing speculative publication is discarded in favor of the winner.
	second := &Result{Type: cty.String, Pinned: cty.String}
	winner, final = n.Publish(second)
	assert.False(t, winner)
	assert.Same(t, first, final)

	assert.Equal(t, StateComputed, n.State())
	got, err := n.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, got)
}
