package core

import "time"

// EngineConfig holds per-isolate resource settings.
type EngineConfig struct {
	MemoryLimitMB    int           // per-isolate heap limit, 0 = engine default
	ExecutionTimeout time.Duration // watchdog for one session, 0 = disabled
}
