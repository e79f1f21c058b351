package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/bindgraph/internal/testutil"
)

func writeModule(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "module.bg.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

const sampleModule = `
binding "assign.x@1:1" {
  kind = "empty_list"
}
binding "expr.app@2:1" {
  kind = "append"
  of   = "assign.x@1:1"
  elem = "number"
}
binding "use.y@3:1" {
  kind = "ref"
  of   = "assign.x@1:1"
}
`

func TestRunPrintsResults(t *testing.T) {
	path := writeModule(t, sampleModule)
	cfg, err := NewConfig(Config{ModulePath: path, Workers: 2, LogLevel: "debug"})
	require.NoError(t, err)

	var out, logs testutil.SafeBuffer
	a := NewApp(&out, &logs, cfg)
	require.NoError(t, a.Run(context.Background()))

	assert.Contains(t, out.String(), "assign.x@1:1 => list of number")
	assert.Contains(t, out.String(), "use.y@3:1 => list of dynamic")
	assert.Contains(t, logs.String(), "run finished")
	assert.Contains(t, logs.String(), "run_id")
}

func TestRunRequestFilter(t *testing.T) {
	path := writeModule(t, sampleModule)
	cfg, err := NewConfig(Config{ModulePath: path, Workers: 1, Requests: []string{"use.y@3:1"}})
	require.NoError(t, err)

	var out, logs testutil.SafeBuffer
	require.NoError(t, NewApp(&out, &logs, cfg).Run(context.Background()))

	assert.Contains(t, out.String(), "use.y@3:1 =>")
	assert.NotContains(t, out.String(), "expr.app@2:1 =>")
}

func TestRunUnknownRequest(t *testing.T) {
	path := writeModule(t, sampleModule)
	cfg, err := NewConfig(Config{ModulePath: path, Requests: []string{"use.missing@9:9"}})
	require.NoError(t, err)

	var out, logs testutil.SafeBuffer
	err = NewApp(&out, &logs, cfg).Run(context.Background())
	assert.ErrorContains(t, err, "unknown binding")
}

func TestRunReportsLoadDiagnostics(t *testing.T) {
	path := writeModule(t, "binding \"not a key\" {\n  kind = \"empty_list\"\n}\n")
	cfg, err := NewConfig(Config{ModulePath: path})
	require.NoError(t, err)

	var out, logs testutil.SafeBuffer
	err = NewApp(&out, &logs, cfg).Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load")
	assert.True(t, strings.Contains(out.String(), "Invalid binding id"), "diagnostics were not rendered: %s", out.String())
}

func TestNewConfigValidation(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.Error(t, err)

	cfg, err := NewConfig(Config{ModulePath: "m.hcl"})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers, "worker count defaults to one")
}
