package lambda

import (
	"context"
	"time"
)

// Handler processes one invocation payload. It is called once per fetched
// invocation, never concurrently.
type Handler[In, Out any] interface {
	Handle(ctx context.Context, payload In) (Out, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[In, Out any] func(ctx context.Context, payload In) (Out, error)

func (f HandlerFunc[In, Out]) Handle(ctx context.Context, payload In) (Out, error) {
	return f(ctx, payload)
}

// Info is the platform metadata of the invocation being handled.
type Info struct {
	RequestID   string
	Deadline    time.Time
	TraceID     string
	FunctionARN string
}

type infoKey struct{}

// WithInfo returns a context carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the invocation metadata stored by the runtime.
func InfoFromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}
