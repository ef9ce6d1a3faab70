// Package config loads the host configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration. Names follow the platform's own
// variables where one exists.
type Config struct {
	RuntimeAPI string `envconfig:"AWS_LAMBDA_RUNTIME_API"`
	// APIVersion is the path segment between the API address and /runtime.
	APIVersion string `envconfig:"RUNTIME_API_VERSION" default:"2018-06-01"`

	// Handler is "<file stem>.<entry point>", e.g. index.handler.
	Handler  string `envconfig:"_HANDLER" default:"index.handler"`
	TaskRoot string `envconfig:"LAMBDA_TASK_ROOT" default:"."`
	Script   string `envconfig:"HANDLER_SCRIPT"`

	// ExportTraceID sets _X_AMZN_TRACE_ID to each invocation's trace header.
	ExportTraceID bool `envconfig:"EXPORT_TRACE_ID" default:"true"`

	Sandbox SandboxConfig
	Fetch   FetchConfig
	Logging LogConfig
}

// SandboxConfig holds engine settings.
type SandboxConfig struct {
	Engine        string        `envconfig:"SANDBOX_ENGINE" default:"quickjs"`
	MemoryLimitMB int           `envconfig:"SANDBOX_MEMORY_LIMIT_MB" default:"128"`
	Timeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"0s"`
}

// FetchConfig holds settings for the script fetch() capability.
type FetchConfig struct {
	Enabled          bool          `envconfig:"FETCH_ENABLED" default:"true"`
	Timeout          time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	MaxResponseBytes int64         `envconfig:"FETCH_MAX_RESPONSE_BYTES" default:"10485760"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// scriptExtensions are tried in order when the script path is derived from
// the handler name.
var scriptExtensions = []string{".js", ".mjs", ".cjs", ".ts", ".mts"}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values Load cannot check on its own.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RuntimeAPI) == "" {
		errs = append(errs, errors.New("AWS_LAMBDA_RUNTIME_API is required"))
	}
	if _, _, err := splitHandler(c.Handler); err != nil {
		errs = append(errs, err)
	}
	if c.Sandbox.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("SANDBOX_MEMORY_LIMIT_MB must not be negative, got %d", c.Sandbox.MemoryLimitMB))
	}
	if c.Sandbox.Timeout < 0 {
		errs = append(errs, fmt.Errorf("SANDBOX_TIMEOUT must not be negative, got %s", c.Sandbox.Timeout))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.Fetch.Timeout))
	}
	if c.Fetch.MaxResponseBytes <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_RESPONSE_BYTES must be positive, got %d", c.Fetch.MaxResponseBytes))
	}
	return errors.Join(errs...)
}

// EntryPoint returns the name of the global function to call.
func (c *Config) EntryPoint() string {
	_, entry, _ := splitHandler(c.Handler)
	return entry
}

// ScriptPath resolves the handler script. HANDLER_SCRIPT wins; otherwise the
// file stem of _HANDLER is looked up under LAMBDA_TASK_ROOT with each known
// extension.
func (c *Config) ScriptPath() (string, error) {
	if c.Script != "" {
		if filepath.IsAbs(c.Script) {
			return c.Script, nil
		}
		return filepath.Join(c.TaskRoot, c.Script), nil
	}
	stem, _, err := splitHandler(c.Handler)
	if err != nil {
		return "", err
	}
	base := filepath.Join(c.TaskRoot, stem)
	for _, ext := range scriptExtensions {
		if st, err := os.Stat(base + ext); err == nil && !st.IsDir() {
			return base + ext, nil
		}
	}
	return "", fmt.Errorf("no script for handler %q under %s (tried %s)",
		c.Handler, c.TaskRoot, strings.Join(scriptExtensions, ", "))
}

// splitHandler splits "<stem>.<entry>" at the last dot so that stems may
// contain dots and path separators.
func splitHandler(handler string) (stem, entry string, err error) {
	i := strings.LastIndex(handler, ".")
	if i <= 0 || i == len(handler)-1 {
		return "", "", fmt.Errorf("handler %q must have the form <file>.<function>", handler)
	}
	return handler[:i], handler[i+1:], nil
}
