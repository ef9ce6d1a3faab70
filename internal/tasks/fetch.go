package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cryguy/lambdajs/internal/core"
	"github.com/cryguy/lambdajs/internal/eventloop"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout     = 30 * time.Second
	defaultMaxResponseBytes = 10 * 1024 * 1024
	maxRedirects            = 20
)

// fetchJS defines the global fetch() function and resolve/reject handlers.
// Responses carry text bodies only.
const fetchJS = `
(function() {
globalThis.__fetchPromises = {};

function collectHeaders(src, out) {
	if (!src) return;
	if (Array.isArray(src)) {
		for (var i = 0; i < src.length; i++) out[String(src[i][0]).toLowerCase()] = String(src[i][1]);
	} else if (typeof src.forEach === 'function') {
		src.forEach(function(v, k) { out[String(k).toLowerCase()] = String(v); });
	} else if (typeof src === 'object') {
		for (var k in src) {
			if (Object.prototype.hasOwnProperty.call(src, k)) out[k.toLowerCase()] = String(src[k]);
		}
	}
}

function makeHeaders(map) {
	return {
		get: function(name) {
			var v = map[String(name).toLowerCase()];
			return v === undefined ? null : v;
		},
		has: function(name) {
			return Object.prototype.hasOwnProperty.call(map, String(name).toLowerCase());
		},
		forEach: function(cb, thisArg) {
			for (var k in map) {
				if (Object.prototype.hasOwnProperty.call(map, k)) cb.call(thisArg, map[k], k, this);
			}
		},
		entries: function() {
			return Object.keys(map).map(function(k) { return [k, map[k]]; });
		},
		toJSON: function() { return map; }
	};
}

globalThis.fetch = function(input, init) {
	init = init || {};
	var url = '', method = 'GET', headers = {}, body = '';
	if (typeof input === 'string') {
		url = input;
	} else if (input && typeof input === 'object' && input.url !== undefined) {
		url = String(input.url);
		if (input.method) method = String(input.method);
		collectHeaders(input.headers, headers);
	} else if (input != null) {
		url = String(input);
	}
	if (init.method !== undefined) method = String(init.method);
	collectHeaders(init.headers, headers);
	if (init.body != null) body = String(init.body);

	var argsJSON = JSON.stringify({
		url: url, method: method.toUpperCase(), headers: headers, body: body
	});
	return new Promise(function(resolve, reject) {
		try {
			var fetchID = __fetchStart(argsJSON);
			globalThis.__fetchPromises[fetchID] = { resolve: resolve, reject: reject };
		} catch (e) { reject(e); }
	});
};

globalThis.__fetchResolve = function(fetchID, status, statusText, headersJSON, body, finalURL) {
	var p = globalThis.__fetchPromises[fetchID];
	delete globalThis.__fetchPromises[fetchID];
	if (!p) return;
	try {
		var used = false;
		var consume = function() {
			if (used) return Promise.reject(new TypeError('body has already been consumed'));
			used = true;
			return Promise.resolve(body);
		};
		p.resolve({
			ok: status >= 200 && status < 300,
			status: status,
			statusText: statusText,
			headers: makeHeaders(JSON.parse(headersJSON)),
			url: finalURL,
			get bodyUsed() { return used; },
			text: function() { return consume(); },
			json: function() { return consume().then(function(t) { return JSON.parse(t); }); }
		});
	} catch (e) { p.reject(e); }
};

globalThis.__fetchReject = function(fetchID, errMsg) {
	var p = globalThis.__fetchPromises[fetchID];
	delete globalThis.__fetchPromises[fetchID];
	if (p) p.reject(new TypeError(errMsg));
};
})();
`

// fetchArgs is the request description passed from JS to __fetchStart.
type fetchArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// forbiddenFetchHeaders are managed by the transport and cannot be set.
var forbiddenFetchHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"upgrade":           true,
	"te":                true,
	"trailer":           true,
}

var errFetchDisabled = errors.New("fetch is disabled in this sandbox")

// Fetch installs a Promise-returning fetch(). Requests run on their own
// goroutine and are resolved on the JS thread by the session event loop.
func Fetch() Task {
	return Task{Name: "fetch", Setup: setupFetch}
}

// NewFetchClient builds the resty client used by fetch.
func NewFetchClient(cfg FetchConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetHeader("User-Agent", "lambdajs-fetch/1.0")
}

func setupFetch(rt core.JSRuntime, env *Env) error {
	cfg := env.Fetch
	client := cfg.Client
	if client == nil {
		client = NewFetchClient(cfg)
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	log := env.Logger

	if err := rt.RegisterFunc("__fetchStart", func(argsJSON string) (string, error) {
		if !cfg.Enabled {
			return "", errFetchDisabled
		}
		var args fetchArgs
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("fetch: parsing arguments: %w", err)
		}
		if args.URL == "" {
			return "", errors.New("fetch requires a URL")
		}
		if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
			return "", fmt.Errorf("fetch: unsupported URL %q", args.URL)
		}
		if args.Method == "" {
			args.Method = http.MethodGet
		}

		req := client.R().
			SetContext(env.Context).
			SetDoNotParseResponse(true)
		for k, v := range args.Headers {
			if forbiddenFetchHeaders[k] {
				continue
			}
			req.SetHeader(k, v)
		}
		if _, ok := args.Headers["accept-encoding"]; !ok {
			req.SetHeader("Accept-Encoding", acceptEncoding)
		}
		if args.Body != "" {
			req.SetBody(args.Body)
		}

		fetchID := uuid.NewString()
		resultCh := make(chan eventloop.FetchResult, 1)
		go func() {
			start := time.Now()
			result := doFetch(req, args, maxBytes)
			log.Debug("fetch completed",
				zap.String("method", args.Method),
				zap.String("url", args.URL),
				zap.Int("status", result.Status),
				zap.Duration("duration", time.Since(start)),
				zap.Error(result.Err))
			resultCh <- result
		}()

		env.Loop.AddPendingFetch(&eventloop.PendingFetch{ResultCh: resultCh, FetchID: fetchID})
		return fetchID, nil
	}); err != nil {
		return err
	}

	return rt.Eval(fetchJS)
}

// doFetch performs the request and reads, decodes and bounds the body.
func doFetch(req *resty.Request, args fetchArgs, maxBytes int64) eventloop.FetchResult {
	resp, err := req.Execute(args.Method, args.URL)
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: %w", err)}
	}
	raw := resp.RawBody()
	defer func() { _ = raw.Close() }()

	decoded, closeDecoder, err := decodeBody(raw, resp.Header().Get("Content-Encoding"))
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: %w", err)}
	}
	defer closeDecoder()

	body, err := io.ReadAll(io.LimitReader(decoded, maxBytes+1))
	if err != nil {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: reading body: %w", err)}
	}
	if int64(len(body)) > maxBytes {
		return eventloop.FetchResult{Err: fmt.Errorf("fetch: response body exceeds %d bytes", maxBytes)}
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, vals := range resp.Header() {
		headers[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	if resp.Header().Get("Content-Encoding") != "" {
		// The body handed to JS is already decoded.
		delete(headers, "content-encoding")
		delete(headers, "content-length")
	}
	headersJSON, _ := json.Marshal(headers)

	finalURL := args.URL
	if rr := resp.RawResponse; rr != nil && rr.Request != nil && rr.Request.URL != nil {
		finalURL = rr.Request.URL.String()
	}

	return eventloop.FetchResult{
		Status:      resp.StatusCode(),
		StatusText:  http.StatusText(resp.StatusCode()),
		HeadersJSON: string(headersJSON),
		Body:        string(body),
		FinalURL:    finalURL,
	}
}
