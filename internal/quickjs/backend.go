package quickjs

import "github.com/cryguy/lambdajs/internal/core"

// Name is the SANDBOX_ENGINE value selecting this backend.
const Name = "quickjs"

func init() {
	core.RegisterBackend(backend{})
}

type backend struct{}

func (backend) Name() string { return Name }

// Init verifies that a VM, job pump included, can be created with the
// linked modernc.org/quickjs version. Without the pump promises never settle.
func (backend) Init() error {
	rt, err := newRuntime(core.EngineConfig{})
	if err != nil {
		return err
	}
	return rt.Close()
}

func (backend) NewRuntime(cfg core.EngineConfig) (core.JSRuntime, error) {
	return newRuntime(cfg)
}
