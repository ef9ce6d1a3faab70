package core

import (
	"fmt"
	"sort"
	"sync"
)

// Backend creates isolated JS runtimes for one engine. Implementations live
// in internal/quickjs, internal/gojaengine and internal/v8engine.
type Backend interface {
	// Name is the value accepted by SANDBOX_ENGINE.
	Name() string

	// Init performs the engine's process-wide setup. Platform calls it
	// exactly once.
	Init() error

	// NewRuntime creates a fresh isolate with its own heap and globals.
	NewRuntime(cfg EngineConfig) (JSRuntime, error)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// RegisterBackend makes a backend selectable by name. It is called from the
// init functions of the engine packages that the binary links in.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[b.Name()] = b
}

// Backends returns the names of the registered backends in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Platform is the process-wide, initialized-once handle on an engine. It is
// bound to the lifetime of the process and has no teardown: isolates are
// released individually by JSRuntime.Close.
type Platform struct {
	backend Backend
	once    sync.Once
	initErr error
}

var (
	platformsMu sync.Mutex
	platforms   = map[string]*Platform{}
)

// OpenPlatform returns the singleton Platform for the named backend,
// initializing the engine on first use.
func OpenPlatform(name string) (*Platform, error) {
	backendsMu.RLock()
	b, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown JS engine %q (available: %v)", name, Backends())
	}

	platformsMu.Lock()
	p, ok := platforms[name]
	if !ok {
		p = &Platform{backend: b}
		platforms[name] = p
	}
	platformsMu.Unlock()

	p.once.Do(func() {
		if err := b.Init(); err != nil {
			p.initErr = fmt.Errorf("initializing %s engine: %w", name, err)
		}
	})
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p, nil
}

// Name returns the backend name.
func (p *Platform) Name() string { return p.backend.Name() }

// NewRuntime creates a fresh isolate on this platform.
func (p *Platform) NewRuntime(cfg EngineConfig) (JSRuntime, error) {
	return p.backend.NewRuntime(cfg)
}
