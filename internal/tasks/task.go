// Package tasks holds the host capabilities installed into every sandbox
// session before the handler script runs.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/cryguy/lambdajs/internal/core"
	"github.com/cryguy/lambdajs/internal/eventloop"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Task is one named capability. Setup registers Go functions and evaluates
// any JS glue in a fresh runtime.
type Task struct {
	Name  string
	Setup func(rt core.JSRuntime, env *Env) error
}

// FetchConfig controls the fetch task.
type FetchConfig struct {
	Enabled          bool
	Timeout          time.Duration
	MaxResponseBytes int64

	// Client is shared across sessions so connections are reused. A nil
	// client makes the fetch task build its own.
	Client *resty.Client
}

// Env is the per-session state handed to every task.
type Env struct {
	// Context is cancelled when the session is torn down. Goroutines
	// started by tasks must stop when it is done.
	Context context.Context
	Loop    *eventloop.EventLoop
	Logger  *zap.Logger
	Fetch   FetchConfig
}

// Defaults returns the built-in tasks in installation order.
func Defaults() []Task {
	return []Task{
		Console(),
		ClientError(),
		Timers(),
		Encoding(),
		Crypto(),
		Fetch(),
	}
}

// Install runs the setup of every task in order and stops at the first
// failure.
func Install(rt core.JSRuntime, env *Env, list []Task) error {
	for _, t := range list {
		if t.Setup == nil {
			continue
		}
		if err := t.Setup(rt, env); err != nil {
			return fmt.Errorf("installing task %q: %w", t.Name, err)
		}
	}
	return nil
}
