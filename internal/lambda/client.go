package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Runtime API headers and environment.
const (
	EnvRuntimeAPI = "AWS_LAMBDA_RUNTIME_API"
	EnvTraceID    = "_X_AMZN_TRACE_ID"

	HeaderRequestID         = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs        = "Lambda-Runtime-Deadline-Ms"
	HeaderTraceID           = "Lambda-Runtime-Trace-Id"
	HeaderFunctionARN       = "Lambda-Runtime-Invoked-Function-Arn"
	HeaderFunctionErrorType = "Lambda-Runtime-Function-Error-Type"
)

// Invocation is one unit of work fetched from the runtime API.
type Invocation[T any] struct {
	Info
	Payload T
}

// DefaultAPIVersion is the path segment the platform serves the runtime
// API under.
const DefaultAPIVersion = "2018-06-01"

// Client talks to the runtime API. Each call is exactly one HTTP round
// trip: nothing is retried or cached.
type Client struct {
	base string
	http *resty.Client
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	version string
}

// WithAPIVersion sets the version path segment placed between the address
// and /runtime. An empty version addresses /runtime directly.
func WithAPIVersion(version string) ClientOption {
	return func(o *clientOptions) { o.version = strings.Trim(version, "/") }
}

// NewClient returns a client for the API at base. The platform provides a
// bare host:port, so a missing scheme defaults to http.
func NewClient(base string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{version: DefaultAPIVersion}
	for _, opt := range opts {
		opt(&o)
	}

	base = strings.TrimSpace(base)
	if base == "" {
		return nil, NewConfigurationError(EnvRuntimeAPI+" is empty", nil)
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, NewConfigurationError("invalid runtime API address "+strconv.Quote(base), err)
	}

	// No client timeout: the next-invocation call long-polls until work
	// arrives. Cancellation comes from the caller's context.
	httpClient := resty.New().
		SetRetryCount(0).
		SetHeader("User-Agent", "lambdajs-runtime/1.0")

	root := strings.TrimRight(u.String(), "/")
	if o.version != "" {
		root += "/" + o.version
	}
	return &Client{base: root, http: httpClient}, nil
}

// ClientFromEnv builds a client from AWS_LAMBDA_RUNTIME_API.
func ClientFromEnv(opts ...ClientOption) (*Client, error) {
	base, ok := os.LookupEnv(EnvRuntimeAPI)
	if !ok {
		return nil, NewConfigurationError("environment variable "+EnvRuntimeAPI+" is not set", nil)
	}
	return NewClient(base, opts...)
}

// Base returns the resolved API root, including the API version.
func (c *Client) Base() string { return c.base }

// Next blocks until the platform hands out the next invocation and decodes
// its payload as T. Numbers decoded into interface values are json.Number.
func Next[T any](ctx context.Context, c *Client) (Invocation[T], error) {
	const op = "next invocation"
	var inv Invocation[T]

	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.base + "/runtime/invocation/next")
	if err != nil {
		return inv, &ProtocolError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		return inv, protocolErrorf(op, "unexpected status %s", resp.Status())
	}

	inv.RequestID = resp.Header().Get(HeaderRequestID)
	if inv.RequestID == "" {
		return inv, protocolErrorf(op, "missing %s header", HeaderRequestID)
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(&inv.Payload); err != nil {
		return inv, protocolErrorf(op, "decoding payload for %s: %w", inv.RequestID, err)
	}

	if ms, err := strconv.ParseInt(resp.Header().Get(HeaderDeadlineMs), 10, 64); err == nil && ms > 0 {
		inv.Deadline = time.UnixMilli(ms)
	}
	inv.TraceID = resp.Header().Get(HeaderTraceID)
	inv.FunctionARN = resp.Header().Get(HeaderFunctionARN)
	return inv, nil
}

// ReportSuccess posts the JSON encoding of result as the invocation
// response.
func (c *Client) ReportSuccess(ctx context.Context, requestID string, result any) error {
	const op = "report success"
	body, err := json.Marshal(result)
	if err != nil {
		return protocolErrorf(op, "encoding result for %s: %w", requestID, err)
	}
	return c.post(ctx, op, c.invocationURL(requestID, "response"), body, "")
}

// ReportError posts herr as the invocation error.
func (c *Client) ReportError(ctx context.Context, requestID string, herr HandlerError) error {
	const op = "report error"
	if herr == nil {
		return protocolErrorf(op, "nil handler error for %s", requestID)
	}
	body, err := json.Marshal(herr)
	if err != nil {
		return protocolErrorf(op, "encoding error for %s: %w", requestID, err)
	}
	return c.post(ctx, op, c.invocationURL(requestID, "error"), body, herr.ErrorType())
}

// ReportInitError tells the platform that initialization failed. Callers
// exit non-zero regardless of the outcome.
func (c *Client) ReportInitError(ctx context.Context, initErr error) error {
	const op = "report init error"
	if initErr == nil {
		return protocolErrorf(op, "nil error")
	}
	body, err := json.Marshal(&ServerError{Message: initErr.Error()})
	if err != nil {
		return protocolErrorf(op, "encoding error: %w", err)
	}
	return c.post(ctx, op, c.base+"/runtime/init/error", body, "Runtime.InitError")
}

func (c *Client) invocationURL(requestID, kind string) string {
	return fmt.Sprintf("%s/runtime/invocation/%s/%s", c.base, url.PathEscape(requestID), kind)
}

func (c *Client) post(ctx context.Context, op, target string, body []byte, errorType string) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if errorType != "" {
		req.SetHeader(HeaderFunctionErrorType, errorType)
	}
	resp, err := req.Post(target)
	if err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		return protocolErrorf(op, "unexpected status %s", resp.Status())
	}
	return nil
}
