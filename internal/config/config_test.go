package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:9001", cfg.RuntimeAPI)
	assert.Equal(t, "2018-06-01", cfg.APIVersion)
	assert.Equal(t, "index.handler", cfg.Handler)
	assert.Equal(t, "handler", cfg.EntryPoint())
	assert.Equal(t, "quickjs", cfg.Sandbox.Engine)
	assert.Equal(t, 128, cfg.Sandbox.MemoryLimitMB)
	assert.Zero(t, cfg.Sandbox.Timeout)
	assert.True(t, cfg.Fetch.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, int64(10<<20), cfg.Fetch.MaxResponseBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.ExportTraceID)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "localhost:9001")
	t.Setenv("_HANDLER", "app.main")
	t.Setenv("SANDBOX_ENGINE", "goja")
	t.Setenv("SANDBOX_TIMEOUT", "3s")
	t.Setenv("FETCH_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EXPORT_TRACE_ID", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.EntryPoint())
	assert.Equal(t, "goja", cfg.Sandbox.Engine)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout)
	assert.False(t, cfg.Fetch.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.ExportTraceID)
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("SANDBOX_MEMORY_LIMIT_MB", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RuntimeAPI: "127.0.0.1:9001",
			Handler:    "index.handler",
			Sandbox:    SandboxConfig{MemoryLimitMB: 128},
			Fetch:      FetchConfig{Timeout: time.Second, MaxResponseBytes: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing api", func(c *Config) { c.RuntimeAPI = "" }, "AWS_LAMBDA_RUNTIME_API is required"},
		{"handler without dot", func(c *Config) { c.Handler = "index" }, "<file>.<function>"},
		{"handler with empty entry", func(c *Config) { c.Handler = "index." }, "<file>.<function>"},
		{"negative memory", func(c *Config) { c.Sandbox.MemoryLimitMB = -1 }, "SANDBOX_MEMORY_LIMIT_MB"},
		{"negative timeout", func(c *Config) { c.Sandbox.Timeout = -time.Second }, "SANDBOX_TIMEOUT"},
		{"zero fetch limit", func(c *Config) { c.Fetch.MaxResponseBytes = 0 }, "FETCH_MAX_RESPONSE_BYTES"},
	}
	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScriptPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.mjs"), []byte("export function handler() {}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.v2.ts"), []byte(""), 0o644))

	cfg := &Config{Handler: "index.handler", TaskRoot: root}
	path, err := cfg.ScriptPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.mjs"), path)

	cfg.Handler = "src/app.v2.run"
	path, err = cfg.ScriptPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "app.v2.ts"), path)
	assert.Equal(t, "run", cfg.EntryPoint())

	cfg.Handler = "missing.handler"
	_, err = cfg.ScriptPath()
	assert.Error(t, err)

	cfg.Script = "custom.js"
	path, err = cfg.ScriptPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "custom.js"), path)
}
