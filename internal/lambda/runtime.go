package lambda

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-xray-sdk-go/header"
	"go.uber.org/zap"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	exportTraceID bool
	setenv        func(key, value string) error
}

// WithLogger sets the logger used for per-invocation log lines.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTraceEnv controls whether the trace id of each invocation is exported
// as _X_AMZN_TRACE_ID. Enabled by default.
func WithTraceEnv(enabled bool) Option {
	return func(o *options) { o.exportTraceID = enabled }
}

// Runtime is the invocation loop: fetch one invocation, dispatch it to the
// handler, report the outcome, repeat. There is never more than one
// invocation in flight.
type Runtime[In, Out any] struct {
	client  *Client
	handler Handler[In, Out]
	log     *zap.Logger
	opts    options
}

// NewRuntime returns a loop serving handler through client.
func NewRuntime[In, Out any](client *Client, handler Handler[In, Out], opts ...Option) *Runtime[In, Out] {
	o := options{logger: zap.NewNop(), exportTraceID: true, setenv: os.Setenv}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runtime[In, Out]{client: client, handler: handler, log: o.logger, opts: o}
}

// Run serves invocations until a ProtocolError or ConfigurationError occurs,
// which is returned, or until ctx is cancelled, which returns nil. An
// invocation already dispatched when ctx is cancelled is still handled and
// reported.
func (r *Runtime[In, Out]) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
	}
}

// Step runs exactly one fetch, dispatch and report cycle.
func (r *Runtime[In, Out]) Step(ctx context.Context) error {
	inv, err := Next[In](ctx, r.client)
	if err != nil {
		return err
	}

	log := r.log.With(zap.String("request_id", inv.RequestID))
	if inv.TraceID != "" {
		log = log.With(traceFields(inv.TraceID)...)
		if r.opts.exportTraceID {
			if err := r.opts.setenv(EnvTraceID, inv.TraceID); err != nil {
				log.Warn("exporting trace id", zap.String("env", EnvTraceID), zap.Error(err))
			}
		}
	}

	// The report must go out even if ctx is cancelled during dispatch.
	dispatchCtx := context.WithoutCancel(ctx)
	hctx := WithInfo(dispatchCtx, inv.Info)
	if !inv.Deadline.IsZero() {
		var cancel context.CancelFunc
		hctx, cancel = context.WithDeadline(hctx, inv.Deadline)
		defer cancel()
	}

	start := time.Now()
	out, herr := r.dispatch(hctx, inv.Payload)
	elapsed := time.Since(start)

	if herr != nil {
		var cfgErr *ConfigurationError
		if errors.As(herr, &cfgErr) {
			log.Error("invocation aborted by configuration error",
				zap.Duration("duration", elapsed), zap.Error(herr))
			return herr
		}

		reported := Classify(herr)
		log.Info("invocation failed",
			zap.String("outcome", reported.ErrorType()),
			zap.Duration("duration", elapsed),
			zap.Error(herr))
		return r.client.ReportError(dispatchCtx, inv.RequestID, reported)
	}

	log.Info("invocation succeeded",
		zap.String("outcome", "success"),
		zap.Duration("duration", elapsed))
	return r.client.ReportSuccess(dispatchCtx, inv.RequestID, out)
}

// dispatch calls the handler, turning a panic into a ServerError so that
// the invocation still gets its report.
func (r *Runtime[In, Out]) dispatch(ctx context.Context, payload In) (out Out, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ServerError{Message: fmt.Sprintf("handler panic: %v", p)}
		}
	}()
	return r.handler.Handle(ctx, payload)
}

// traceFields breaks the X-Ray trace header into log fields.
func traceFields(traceID string) []zap.Field {
	h := header.FromString(traceID)
	if h.TraceID == "" {
		return []zap.Field{zap.String("trace_id", traceID)}
	}
	return []zap.Field{
		zap.String("trace_id", h.TraceID),
		zap.String("trace_parent", h.ParentID),
		zap.Bool("trace_sampled", h.SamplingDecision == header.Sampled),
	}
}
