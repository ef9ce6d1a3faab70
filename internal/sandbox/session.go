package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cryguy/lambdajs/internal/bridge"
	"github.com/cryguy/lambdajs/internal/core"
	"github.com/cryguy/lambdajs/internal/eventloop"
	"github.com/cryguy/lambdajs/internal/tasks"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// session is one isolate with the host tasks installed. It lives for a
// single dispatch and is never reused.
type session struct {
	id      string
	rt      core.JSRuntime
	loop    *eventloop.EventLoop
	log     *zap.Logger
	cancel  context.CancelFunc
	created time.Time
}

// newSession creates a fresh isolate and installs the host tasks, the bridge
// and the call helpers. The handler script is not run yet.
func (s *Sandbox) newSession(ctx context.Context, log *zap.Logger) (*session, error) {
	rt, err := s.platform.NewRuntime(s.engineCfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s isolate: %w", s.platform.Name(), err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:      uuid.NewString(),
		rt:      rt,
		loop:    eventloop.New(),
		cancel:  cancel,
		created: time.Now(),
	}
	sess.log = log.With(zap.String("session_id", sess.id))

	env := &tasks.Env{
		Context: sctx,
		Loop:    sess.loop,
		Logger:  sess.log,
		Fetch:   s.fetch,
	}
	if err := tasks.Install(rt, env, s.tasks); err != nil {
		sess.close()
		return nil, err
	}
	if err := bridge.Install(rt); err != nil {
		sess.close()
		return nil, err
	}
	if err := rt.Eval(callPreludeJS); err != nil {
		sess.close()
		return nil, fmt.Errorf("installing call helpers: %w", err)
	}

	sess.log.Debug("sandbox session created", zap.String("engine", s.platform.Name()))
	return sess, nil
}

// close tears the session down: pending host I/O is cancelled, timers are
// dropped and the isolate is released.
func (ss *session) close() {
	ss.cancel()
	ss.loop.Reset()
	if err := ss.rt.Close(); err != nil {
		ss.log.Warn("closing isolate", zap.Error(err))
	}
	ss.log.Debug("sandbox session closed", zap.Duration("lifetime", time.Since(ss.created)))
}
