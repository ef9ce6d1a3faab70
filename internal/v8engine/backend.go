//go:build v8

// Package v8engine runs sandbox sessions on V8 through github.com/tommie/v8go.
// It requires cgo and is only linked into binaries built with -tags v8.
package v8engine

import "github.com/cryguy/lambdajs/internal/core"

// Name is the SANDBOX_ENGINE value selecting this backend.
const Name = "v8"

func init() {
	core.RegisterBackend(backend{})
}

type backend struct{}

func (backend) Name() string { return Name }

// Init is a no-op: v8go initializes the V8 platform on first isolate
// creation and keeps it for the life of the process.
func (backend) Init() error { return nil }

func (backend) NewRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return newRuntime(cfg), nil
}
