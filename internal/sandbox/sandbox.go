// Package sandbox runs the handler script. Every invocation gets a fresh
// isolate: the script is evaluated, the payload is bridged in, the entry
// point is called and awaited, the result is bridged out and the isolate
// is destroyed. Nothing survives from one invocation to the next.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryguy/lambdajs/internal/bridge"
	"github.com/cryguy/lambdajs/internal/core"
	"github.com/cryguy/lambdajs/internal/lambda"
	"github.com/cryguy/lambdajs/internal/tasks"
	"go.uber.org/zap"
)

// errTimedOut is the watchdog cause recorded when a session is interrupted.
var errTimedOut = errors.New("sandbox execution timed out")

// Sandbox implements lambda.Handler by running a JS entry point.
type Sandbox struct {
	platform   *core.Platform
	script     *Script
	entryPoint string

	engineCfg core.EngineConfig
	tasks     []tasks.Task
	fetch     tasks.FetchConfig
	log       *zap.Logger
}

var _ lambda.Handler[any, any] = (*Sandbox)(nil)

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger for session lifecycle and script console output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sandbox) { s.log = l }
}

// WithTasks adds host tasks, installed after the built-in ones.
func WithTasks(extra ...tasks.Task) Option {
	return func(s *Sandbox) { s.tasks = append(s.tasks, extra...) }
}

// WithFetch configures the fetch capability. Fetch is disabled unless this
// option enables it.
func WithFetch(cfg tasks.FetchConfig) Option {
	return func(s *Sandbox) { s.fetch = cfg }
}

// WithMemoryLimit sets the per-isolate heap limit where the engine has one.
func WithMemoryLimit(mb int) Option {
	return func(s *Sandbox) { s.engineCfg.MemoryLimitMB = mb }
}

// WithTimeout arms a watchdog that interrupts a session running longer than
// d. Zero disables it; the invocation deadline still applies.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.engineCfg.ExecutionTimeout = d }
}

// New returns a sandbox running entryPoint from script on the named engine.
func New(engine string, script *Script, entryPoint string, opts ...Option) (*Sandbox, error) {
	if script == nil {
		return nil, lambda.NewConfigurationError("no handler script", nil)
	}
	if entryPoint == "" {
		return nil, lambda.NewConfigurationError("no entry point name", nil)
	}
	platform, err := core.OpenPlatform(engine)
	if err != nil {
		return nil, lambda.NewConfigurationError("opening JS engine", err)
	}

	s := &Sandbox{
		platform:   platform,
		script:     script,
		entryPoint: entryPoint,
		tasks:      tasks.Defaults(),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetch.Enabled && s.fetch.Client == nil {
		s.fetch.Client = tasks.NewFetchClient(s.fetch)
	}
	return s, nil
}

// Engine returns the name of the engine sessions run on.
func (s *Sandbox) Engine() string { return s.platform.Name() }

// Validate runs the script's top level in a throwaway session and checks
// that the entry point is a function. Every failure is a ConfigurationError.
func (s *Sandbox) Validate(ctx context.Context) error {
	sess, err := s.newSession(ctx, s.log)
	if err != nil {
		return lambda.NewConfigurationError("creating sandbox session", err)
	}
	defer sess.close()

	if err := s.runScript(sess); err != nil {
		return lambda.NewConfigurationError("evaluating handler script", err)
	}
	return s.checkEntryPoint(sess)
}

// Handle runs one invocation in a fresh session.
func (s *Sandbox) Handle(ctx context.Context, payload any) (result any, err error) {
	info, _ := lambda.InfoFromContext(ctx)
	log := s.log
	if info.RequestID != "" {
		log = log.With(zap.String("request_id", info.RequestID))
	}

	sess, err := s.newSession(ctx, log)
	if err != nil {
		return nil, &lambda.ServerError{Message: fmt.Sprintf("creating sandbox session: %v", err)}
	}
	defer sess.close()

	wd := s.armWatchdog(ctx, sess)
	defer func() {
		p := recover()
		wd.stop()
		if p != nil {
			result, err = nil, &lambda.ServerError{Message: fmt.Sprintf("sandbox panic: %v", p)}
		}
		result, err = wd.settle(result, err)
	}()

	return s.dispatch(sess, wd, info, payload)
}

// watchdog bounds one session by the earlier of the configured timeout and
// the invocation deadline. An unarmed watchdog has a zero deadline and a nil
// fired channel.
type watchdog struct {
	deadline time.Time
	reason   error
	fired    chan struct{}
	timer    *time.Timer
}

// armWatchdog starts the session's watchdog. When it fires it interrupts
// running script and closes fired, which also ends an event loop drain.
func (s *Sandbox) armWatchdog(ctx context.Context, sess *session) *watchdog {
	limit := s.engineCfg.ExecutionTimeout
	wd := &watchdog{reason: fmt.Errorf("%w after %s", errTimedOut, limit)}
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); limit <= 0 || until < limit {
			limit = max(until, 0)
			wd.reason = fmt.Errorf("%w: invocation deadline exceeded", errTimedOut)
		}
	} else if limit <= 0 {
		return wd
	}

	wd.deadline = time.Now().Add(limit)
	wd.fired = make(chan struct{})
	wd.timer = time.AfterFunc(limit, func() {
		sess.rt.Interrupt()
		close(wd.fired)
	})
	return wd
}

// stop disarms the watchdog, waiting out a callback already running so the
// isolate is never interrupted while it is being closed.
func (wd *watchdog) stop() {
	if wd.timer != nil && !wd.timer.Stop() {
		<-wd.fired
	}
}

// done is closed once the watchdog has fired.
func (wd *watchdog) done() <-chan struct{} { return wd.fired }

// expired reports whether the watchdog fired or its deadline has passed.
func (wd *watchdog) expired() bool {
	if wd.fired == nil {
		return false
	}
	select {
	case <-wd.fired:
		return true
	default:
		return !time.Now().Before(wd.deadline)
	}
}

// settle attributes a failed dispatch to the timeout once the watchdog has
// expired. A result produced before that stands.
func (wd *watchdog) settle(result any, err error) (any, error) {
	if err != nil && wd.expired() {
		return nil, wd.timeoutError()
	}
	return result, err
}

func (wd *watchdog) timeoutError() *lambda.ServerError {
	return &lambda.ServerError{Message: wd.reason.Error()}
}

func (s *Sandbox) dispatch(sess *session, wd *watchdog, info lambda.Info, payload any) (any, error) {
	rt := sess.rt

	if err := s.runScript(sess); err != nil {
		return nil, &lambda.ServerError{Message: fmt.Sprintf("evaluating handler script: %v", err)}
	}

	if bridge.HasUnsafeInteger(payload) {
		sess.log.Debug("payload has integers beyond 2^53-1; they lose precision in the sandbox")
	}
	if err := bridge.ToJS(rt, "__bridge_input", payload); err != nil {
		return nil, &lambda.ServerError{Message: err.Error()}
	}

	if err := s.checkEntryPoint(sess); err != nil {
		return nil, err
	}

	if _, err := rt.EvalString(fmt.Sprintf("globalThis.__call_entry(%s, %s)",
		bridge.Quote(s.entryPoint), invocationContextJS(info))); err != nil {
		return nil, &lambda.ServerError{Message: fmt.Sprintf("calling %s: %v", s.entryPoint, err)}
	}

	// Work queued by the call runs before the outcome is read, whether or
	// not the entry point returned a promise.
	rt.RunMicrotasks()
	sess.loop.DrainUntil(rt, wd.deadline, wd.done())
	if wd.expired() {
		return nil, wd.timeoutError()
	}
	rt.RunMicrotasks()
	state, err := rt.EvalString("globalThis.__call_state")
	if err != nil {
		return nil, &lambda.ServerError{Message: fmt.Sprintf("reading call state: %v", err)}
	}

	switch state {
	case stateFulfilled:
		out, err := bridge.FromJS(rt, "globalThis.__call_result")
		if err != nil {
			return nil, &lambda.ServerError{Message: err.Error()}
		}
		return out, nil
	case stateRejected:
		text, err := rt.EvalString("globalThis.__call_error")
		if err != nil {
			return nil, &lambda.ServerError{Message: fmt.Sprintf("reading exception: %v", err)}
		}
		t, err := decodeThrown(text)
		if err != nil {
			return nil, &lambda.ServerError{Message: err.Error()}
		}
		if t.Stack != "" {
			sess.log.Debug("handler threw", zap.String("name", t.Name), zap.String("stack", t.Stack))
		}
		return nil, t.toHandlerError()
	case statePending:
		return nil, &lambda.ServerError{Message: "handler promise never settled"}
	default:
		return nil, &lambda.ServerError{Message: fmt.Sprintf("unexpected call state %q", state)}
	}
}

func (s *Sandbox) runScript(sess *session) error {
	return sess.rt.RunScript(s.script.Name, s.script.Source)
}

// checkEntryPoint resolves the entry point in the session's global scope.
func (s *Sandbox) checkEntryPoint(sess *session) error {
	kind, err := sess.rt.EvalString(fmt.Sprintf("typeof globalThis[%s]", bridge.Quote(s.entryPoint)))
	if err != nil {
		return lambda.NewConfigurationError("resolving entry point "+s.entryPoint, err)
	}
	switch kind {
	case "function":
		return nil
	case "undefined":
		return lambda.NewConfigurationError(fmt.Sprintf("entry point %q not found", s.entryPoint), nil)
	default:
		return lambda.NewConfigurationError(fmt.Sprintf("entry point %q is not callable (%s)", s.entryPoint, kind), nil)
	}
}
