// Package gojaengine runs sandbox sessions on github.com/dop251/goja, an
// ECMAScript engine written in pure Go. It needs neither cgo nor the
// reflection-based job pump of the QuickJS backend.
package gojaengine

import "github.com/cryguy/lambdajs/internal/core"

// Name is the SANDBOX_ENGINE value selecting this backend.
const Name = "goja"

func init() {
	core.RegisterBackend(backend{})
}

type backend struct{}

func (backend) Name() string { return Name }

func (backend) Init() error { return nil }

func (backend) NewRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return newRuntime(cfg), nil
}
