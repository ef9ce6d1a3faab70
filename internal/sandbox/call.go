package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/lambdajs/internal/bridge"
	"github.com/cryguy/lambdajs/internal/lambda"
)

// Call states recorded in globalThis.__call_state.
const (
	statePending   = "pending"
	stateFulfilled = "fulfilled"
	stateRejected  = "rejected"
)

// clientErrorName is the name a thrown value or rejection reason must carry
// to be reported as a client fault.
const clientErrorName = "ClientError"

// callPreludeJS defines __bridge_describe, which reduces any thrown value to
// {client, name, message, stack}, and __call_entry, which invokes the entry
// point and records its outcome in __call_state, __call_result and
// __call_error.
const callPreludeJS = `
(function() {
	globalThis.__bridge_describe = function(e) {
		var d = { client: false, name: '', message: '', stack: '' };
		try {
			if (e !== null && typeof e === 'object') {
				d.name = typeof e.name === 'string' ? e.name : '';
				d.message = typeof e.message === 'string' ? e.message : '';
				d.stack = typeof e.stack === 'string' ? e.stack : '';
				if (!d.message) {
					try { d.message = JSON.stringify(e); } catch (_) {}
					if (!d.message || d.message === '{}') d.message = String(e);
				}
			} else if (typeof e === 'string') {
				d.message = e;
			} else if (typeof e === 'symbol') {
				d.message = e.toString();
			} else {
				d.message = String(e);
			}
		} catch (_) {}
		d.client = d.name === 'ClientError';
		if (!d.message) d.message = d.name || 'uncaught exception';
		return JSON.stringify(d);
	};

	function settle(state, value) {
		if (state === 'fulfilled') globalThis.__call_result = value;
		else globalThis.__call_error = globalThis.__bridge_describe(value);
		globalThis.__call_state = state;
	}

	globalThis.__call_entry = function(name, context) {
		globalThis.__call_state = 'pending';
		globalThis.__call_result = undefined;
		globalThis.__call_error = null;

		var ret;
		try {
			ret = globalThis[name].call(undefined, globalThis.__bridge_input, context);
		} catch (e) {
			settle('rejected', e);
			return globalThis.__call_state;
		}

		var then = null;
		try {
			if (ret !== null && (typeof ret === 'object' || typeof ret === 'function')) then = ret.then;
		} catch (e) {
			settle('rejected', e);
			return globalThis.__call_state;
		}
		if (typeof then !== 'function') {
			settle('fulfilled', ret);
			return globalThis.__call_state;
		}

		try {
			then.call(ret,
				function(v) { if (globalThis.__call_state === 'pending') settle('fulfilled', v); },
				function(e) { if (globalThis.__call_state === 'pending') settle('rejected', e); });
		} catch (e) {
			settle('rejected', e);
		}
		return globalThis.__call_state;
	};
})();
`

// thrown is the Go form of __bridge_describe's output.
type thrown struct {
	Client  bool   `json:"client"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// toHandlerError converts a thrown value or rejection reason at the sandbox
// boundary.
func (t thrown) toHandlerError() lambda.HandlerError {
	if t.Client {
		return &lambda.ClientError{Message: t.Message}
	}
	msg := t.Message
	if t.Name != "" && t.Name != "Error" {
		msg = t.Name + ": " + msg
	}
	return &lambda.ServerError{Message: msg}
}

func decodeThrown(text string) (thrown, error) {
	var t thrown
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return t, fmt.Errorf("decoding exception: %w", err)
	}
	return t, nil
}

// invocationContextJS builds the second argument of the entry point.
func invocationContextJS(info lambda.Info) string {
	deadline := int64(0)
	if !info.Deadline.IsZero() {
		deadline = info.Deadline.UnixMilli()
	}
	return fmt.Sprintf(`(function(deadline) {
		return {
			awsRequestId: %s,
			invokedFunctionArn: %s,
			traceId: %s,
			deadlineMs: deadline,
			getRemainingTimeInMillis: function() { return deadline ? Math.max(0, deadline - Date.now()) : 0; }
		};
	})(%d)`, bridge.Quote(info.RequestID), bridge.Quote(info.FunctionARN), bridge.Quote(info.TraceID), deadline)
}
