package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"module.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "module.hcl", cfg.ModulePath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Requests)
}

func TestParseFlags(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{
		"-workers", "8",
		"-log-level", "debug",
		"-log-format", "json",
		"-request", "assign.x@1:1",
		"-request", "use.y@3:1",
		"module.hcl",
	}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"assign.x@1:1", "use.y@3:1"}, []string(cfg.Requests))
}

func TestParseNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "MODULE_PATH")
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := map[string][]string{
		"bad log format":  {"-log-format", "xml", "module.hcl"},
		"bad log level":   {"-log-level", "loud", "module.hcl"},
		"extra arguments": {"a.hcl", "b.hcl"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			_, _, err := Parse(args, &out)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}
