package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type doubleIn struct {
	X int `json:"x"`
}

func doubler() Handler[doubleIn, int] {
	return HandlerFunc[doubleIn, int](func(_ context.Context, in doubleIn) (int, error) {
		return in.X * 2, nil
	})
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url)
	require.NoError(t, err)
	return c
}

func TestRuntime_SuccessScenario(t *testing.T) {
	api, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{"x":1}`})

	err := NewRuntime(newTestClient(t, srv.URL), doubler()).Run(context.Background())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr, "loop ends when the queue is drained")
	events, reports := api.snapshot()
	assert.Equal(t, []string{"next", "response:r1", "next"}, events)
	require.Len(t, reports, 1)
	assert.Equal(t, "2", reports[0].body)
	assert.Empty(t, reports[0].errorType)
}

func TestRuntime_FIFOOneReportPerInvocation(t *testing.T) {
	var invs []fakeInvocation
	for i := 1; i <= 3; i++ {
		invs = append(invs, fakeInvocation{requestID: "r" + strconv.Itoa(i), payload: fmt.Sprintf(`{"x":%d}`, i)})
	}
	api, srv := newFakeAPI(t, invs...)

	_ = NewRuntime(newTestClient(t, srv.URL), doubler()).Run(context.Background())

	events, reports := api.snapshot()
	assert.Equal(t, []string{
		"next", "response:r1",
		"next", "response:r2",
		"next", "response:r3",
		"next",
	}, events)
	bodies := make([]string, len(reports))
	for i, r := range reports {
		bodies[i] = r.body
	}
	assert.Equal(t, []string{"2", "4", "6"}, bodies)
}

func TestRuntime_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		body      string
		errorType string
	}{
		{"client error", &ClientError{Message: "bad field"}, `"ClientError"`, "ClientError"},
		{"wrapped client error", fmt.Errorf("validating: %w", &ClientError{}), `"ClientError"`, "ClientError"},
		{"server error", &ServerError{Message: "db down"}, `{"ServerError":"db down"}`, "ServerError"},
		{"plain error", errors.New("bad input"), `{"ServerError":"bad input"}`, "ServerError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{}`})
			h := HandlerFunc[map[string]any, any](func(context.Context, map[string]any) (any, error) {
				return nil, tt.err
			})

			_ = NewRuntime(newTestClient(t, srv.URL), h).Run(context.Background())

			events, reports := api.snapshot()
			assert.Equal(t, []string{"next", "error:r1", "next"}, events, "the loop continues after a reported error")
			require.Len(t, reports, 1)
			assert.JSONEq(t, tt.body, reports[0].body)
			assert.Equal(t, tt.errorType, reports[0].errorType)
		})
	}
}

func TestRuntime_ConfigurationErrorAbortsWithoutReport(t *testing.T) {
	api, srv := newFakeAPI(t,
		fakeInvocation{requestID: "r1", payload: `{}`},
		fakeInvocation{requestID: "r2", payload: `{}`},
	)
	cfgErr := NewConfigurationError("entry point not found", nil)
	h := HandlerFunc[any, any](func(context.Context, any) (any, error) { return nil, cfgErr })

	err := NewRuntime(newTestClient(t, srv.URL), h).Run(context.Background())

	assert.ErrorIs(t, err, cfgErr)
	events, reports := api.snapshot()
	assert.Equal(t, []string{"next"}, events)
	assert.Empty(t, reports)
}

func TestRuntime_PanicIsServerError(t *testing.T) {
	api, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{}`})
	h := HandlerFunc[any, any](func(context.Context, any) (any, error) { panic("kaboom") })

	_ = NewRuntime(newTestClient(t, srv.URL), h).Run(context.Background())

	_, reports := api.snapshot()
	require.Len(t, reports, 1)
	assert.JSONEq(t, `{"ServerError":"handler panic: kaboom"}`, reports[0].body)
}

func TestRuntime_MissingRequestIDIsFatal(t *testing.T) {
	api, srv := newFakeAPI(t, fakeInvocation{payload: `{"x":1}`})
	called := false
	h := HandlerFunc[doubleIn, int](func(context.Context, doubleIn) (int, error) {
		called = true
		return 0, nil
	})

	err := NewRuntime(newTestClient(t, srv.URL), h).Run(context.Background())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), HeaderRequestID)
	assert.False(t, called)
	events, _ := api.snapshot()
	assert.Equal(t, []string{"next"}, events)
}

func TestRuntime_UndecodablePayloadIsFatal(t *testing.T) {
	_, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{"x":"not a number"}`})

	err := NewRuntime(newTestClient(t, srv.URL), doubler()).Run(context.Background())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "next invocation", perr.Op)
}

func TestRuntime_ReportRejectedIsFatal(t *testing.T) {
	api, srv := newFakeAPI(t,
		fakeInvocation{requestID: "r1", payload: `{"x":1}`},
		fakeInvocation{requestID: "r2", payload: `{"x":2}`},
	)
	api.reportStatus = http.StatusBadRequest

	err := NewRuntime(newTestClient(t, srv.URL), doubler()).Run(context.Background())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "report success", perr.Op)
	events, _ := api.snapshot()
	assert.Equal(t, []string{"next", "response:r1"}, events)
}

func TestRuntime_CancelledContextStopsCleanly(t *testing.T) {
	api, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{"x":1}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRuntime(newTestClient(t, srv.URL), doubler()).Run(ctx)

	assert.NoError(t, err)
	events, _ := api.snapshot()
	assert.Empty(t, events)
}

func TestRuntime_CancelDuringDispatchStillReports(t *testing.T) {
	api, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{"x":5}`})
	ctx, cancel := context.WithCancel(context.Background())
	h := HandlerFunc[doubleIn, int](func(hctx context.Context, in doubleIn) (int, error) {
		cancel()
		assert.NoError(t, hctx.Err())
		return in.X * 2, nil
	})

	err := NewRuntime(newTestClient(t, srv.URL), h).Run(ctx)

	assert.NoError(t, err)
	events, reports := api.snapshot()
	assert.Equal(t, []string{"next", "response:r1"}, events)
	require.Len(t, reports, 1)
	assert.Equal(t, "10", reports[0].body)
}

func TestRuntime_InvocationInfo(t *testing.T) {
	deadline := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	_, srv := newFakeAPI(t, fakeInvocation{
		requestID: "r1",
		payload:   `null`,
		headers: map[string]string{
			HeaderDeadlineMs:  strconv.FormatInt(deadline.UnixMilli(), 10),
			HeaderTraceID:     "Root=1-abc",
			HeaderFunctionARN: "arn:aws:lambda:us-east-1:123:function:f",
		},
	})
	t.Setenv(EnvTraceID, "")

	var got Info
	var gotDeadline time.Time
	h := HandlerFunc[any, any](func(ctx context.Context, _ any) (any, error) {
		got, _ = InfoFromContext(ctx)
		gotDeadline, _ = ctx.Deadline()
		return nil, nil
	})
	_ = NewRuntime(newTestClient(t, srv.URL), h).Run(context.Background())

	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "Root=1-abc", got.TraceID)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123:function:f", got.FunctionARN)
	assert.True(t, deadline.Equal(got.Deadline))
	assert.True(t, deadline.Equal(gotDeadline))
	assert.Equal(t, "Root=1-abc", os.Getenv(EnvTraceID))
}

func TestNext_DecodesNumbersAsJSONNumber(t *testing.T) {
	_, srv := newFakeAPI(t, fakeInvocation{requestID: "r1", payload: `{"big": 9007199254740993}`})

	inv, err := Next[map[string]any](context.Background(), newTestClient(t, srv.URL))

	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), inv.Payload["big"])
}

func TestClient_ReportInitError(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.ReportInitError(context.Background(), NewConfigurationError("entry point not found", nil)))

	require.Len(t, api.initErrors, 1)
	assert.JSONEq(t, `{"ServerError":"configuration: entry point not found"}`, api.initErrors[0])
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("127.0.0.1:9001")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9001/2018-06-01", c.Base())

	c, err = NewClient("https://api.example.com/", WithAPIVersion(""))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.Base())

	_, err = NewClient("  ")
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestClientFromEnv_Missing(t *testing.T) {
	t.Setenv(EnvRuntimeAPI, "")
	os.Unsetenv(EnvRuntimeAPI)

	_, err := ClientFromEnv()
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), EnvRuntimeAPI)
}

func TestClassify(t *testing.T) {
	ce := &ClientError{Message: "x"}
	assert.Same(t, ce, Classify(fmt.Errorf("wrap: %w", ce)))

	se := Classify(errors.New("boom"))
	assert.Equal(t, &ServerError{Message: "boom"}, se)
	assert.NotEmpty(t, se.Error())
}

func TestTraceFields(t *testing.T) {
	fields := traceFields("Root=1-5759e988-bd862e3fe1be46a994272793;Parent=53995c3f42cd8ad8;Sampled=1")
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	assert.Equal(t, map[string]any{
		"trace_id":      "1-5759e988-bd862e3fe1be46a994272793",
		"trace_parent":  "53995c3f42cd8ad8",
		"trace_sampled": true,
	}, enc.Fields)

	raw := traceFields("not-a-trace-header")
	require.Len(t, raw, 1)
	assert.Equal(t, "not-a-trace-header", raw[0].String)
}

func TestRuntime_TraceEnvDisabled(t *testing.T) {
	_, srv := newFakeAPI(t, fakeInvocation{
		requestID: "r1",
		payload:   `null`,
		headers:   map[string]string{HeaderTraceID: "Root=1-def"},
	})
	t.Setenv(EnvTraceID, "unchanged")

	h := HandlerFunc[any, any](func(context.Context, any) (any, error) { return nil, nil })
	_ = NewRuntime(newTestClient(t, srv.URL), h, WithTraceEnv(false)).Run(context.Background())

	assert.Equal(t, "unchanged", os.Getenv(EnvTraceID))
}

func TestRuntime_TraceEnvFailureIsLogged(t *testing.T) {
	_, srv := newFakeAPI(t, fakeInvocation{
		requestID: "r1",
		payload:   `null`,
		headers:   map[string]string{HeaderTraceID: "Root=1-def"},
	})
	obsCore, logs := observer.New(zapcore.WarnLevel)
	failSetenv := func(o *options) {
		o.setenv = func(string, string) error { return errors.New("setenv: invalid argument") }
	}

	h := HandlerFunc[any, any](func(context.Context, any) (any, error) { return "ok", nil })
	_ = NewRuntime(newTestClient(t, srv.URL), h, WithLogger(zap.New(obsCore)), failSetenv).Run(context.Background())

	entries := logs.FilterMessage("exporting trace id").All()
	require.Len(t, entries, 1)
	assert.Equal(t, EnvTraceID, entries[0].ContextMap()["env"])
	assert.Equal(t, "r1", entries[0].ContextMap()["request_id"])
}
