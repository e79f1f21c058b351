// Package testutil provides the shared harness for end-to-end tests: it
// loads an inline HCL module description, evaluates every binding with a
// worker pool, and hands back the results, diagnostics, metrics and captured
// log output.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/bindgraph/internal/ctxlog"
	"github.com/vk/bindgraph/internal/engine"
	"github.com/vk/bindgraph/internal/firstuse"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/modhcl"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/typerule"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of one harness run.
type HarnessResult struct {
	Module    *modhcl.Module
	Engine    *engine.Engine
	Results   map[string]*graph.Result
	Diags     hcl.Diagnostics
	Metrics   engine.MetricsSnapshot
	LogOutput string
}

// EvalModule loads src as a module description and evaluates every binding
// with the given worker count. Load failures and evaluation errors fail the
// test; semantic diagnostics are collected in the result.
func EvalModule(t *testing.T, src string, workers int) *HarnessResult {
	t.Helper()

	logBuf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	loader := modhcl.NewLoader(typerule.Standard{})
	mod, diags := loader.LoadSource(ctx, "harness.bg.hcl", []byte(src))
	require.False(t, diags.HasErrors(), "module failed to load: %s", diags)

	eng := engine.New(mod.Graph, typerule.Standard{},
		firstuse.Resolve(mod.Graph, firstuse.DefaultPolicy()),
		engine.Options{Logger: logger, Filename: mod.Filename})

	results, err := eng.RequestAll(ctx, mod.Keys, workers)
	require.NoError(t, err)

	var all hcl.Diagnostics
	for _, key := range mod.Keys {
		all = all.Extend(results[key.String()].Diags)
	}

	return &HarnessResult{
		Module:    mod,
		Engine:    eng,
		Results:   results,
		Diags:     all,
		Metrics:   eng.Metrics(),
		LogOutput: logBuf.String(),
	}
}

// TypeOf returns the committed type of a binding.
func (hr *HarnessResult) TypeOf(t *testing.T, key string) cty.Type {
	t.Helper()
	r, ok := hr.Results[nodeid.MustParse(key).String()]
	require.True(t, ok, "binding %s was not evaluated", key)
	return r.Type
}

// PinnedOf returns the pinned view of a binding.
func (hr *HarnessResult) PinnedOf(t *testing.T, key string) cty.Type {
	t.Helper()
	r, ok := hr.Results[nodeid.MustParse(key).String()]
	require.True(t, ok, "binding %s was not evaluated", key)
	return r.Pinned
}

// AssertType checks a binding's committed type.
func (hr *HarnessResult) AssertType(t *testing.T, key string, want cty.Type) {
	t.Helper()
	got := hr.TypeOf(t, key)
	require.True(t, want.Equals(got), "binding %s: want %s, got %s", key, want.FriendlyName(), got.FriendlyName())
}
