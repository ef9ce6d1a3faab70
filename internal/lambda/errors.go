package lambda

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolError is a failure talking to the runtime API: transport errors,
// non-2xx statuses, a missing request id or a body that does not decode.
// It is fatal to the invocation loop.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("runtime api %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Err: fmt.Errorf(format, args...)}
}

// ConfigurationError means the host cannot serve any invocation: missing
// environment, an unloadable script or a missing entry point. It is fatal
// and is never reported as an invocation error.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError returns a ConfigurationError with msg and an
// optional cause.
func NewConfigurationError(msg string, cause error) *ConfigurationError {
	return &ConfigurationError{Msg: msg, Err: cause}
}

// HandlerError is an error the handler reports back to the platform for a
// single invocation. It is either a *ClientError or a *ServerError.
type HandlerError interface {
	error
	json.Marshaler

	// ErrorType is the value of the Lambda-Runtime-Function-Error-Type
	// header sent with the report.
	ErrorType() string
}

// ClientError marks an invocation that failed because of its input. The
// message is only logged; the wire body is the bare string "ClientError".
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	if e.Message == "" {
		return "client error"
	}
	return "client error: " + e.Message
}

func (e *ClientError) ErrorType() string { return "ClientError" }

func (e *ClientError) MarshalJSON() ([]byte, error) {
	return []byte(`"ClientError"`), nil
}

// ServerError marks an invocation that failed inside the host or the
// handler script.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server error: " + e.Message }

func (e *ServerError) ErrorType() string { return "ServerError" }

func (e *ServerError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"ServerError": e.Message})
}

// Classify maps a handler failure to the error reported to the platform.
// Client and server errors anywhere in the chain are kept; anything else
// becomes a ServerError carrying err's message.
func Classify(err error) HandlerError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se
	}
	return &ServerError{Message: err.Error()}
}
