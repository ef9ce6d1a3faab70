package tasks

import "github.com/cryguy/lambdajs/internal/core"

// clientErrorJS defines the ClientError class. A thrown value or rejection
// reason whose name is "ClientError" is reported as a client fault.
const clientErrorJS = `
(function() {
	class ClientError extends Error {
		constructor(message) {
			super(message);
			this.name = 'ClientError';
		}
	}
	globalThis.ClientError = ClientError;
})();
`

// ClientError installs the ClientError class scripts throw to signal bad input.
func ClientError() Task {
	return Task{
		Name: "clienterror",
		Setup: func(rt core.JSRuntime, _ *Env) error {
			return rt.Eval(clientErrorJS)
		},
	}
}
