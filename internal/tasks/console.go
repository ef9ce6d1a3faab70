package tasks

import (
	"github.com/cryguy/lambdajs/internal/core"
	"go.uber.org/zap"
)

const consoleJS = `
(function() {
	function format(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) {
			var head = arg.name + ': ' + arg.message;
			var stack = arg.stack || '';
			return stack.indexOf(head) === 0 ? stack : head + (stack ? '\n' + stack : '');
		}
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return String(arg); }
		}
		return String(arg);
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug', 'trace'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) parts.push(format(arguments[j]));
				__console(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	globalThis.console = con;
})();
`

// Console forwards console.* output from scripts to the session logger.
func Console() Task {
	return Task{Name: "console", Setup: setupConsole}
}

func setupConsole(rt core.JSRuntime, env *Env) error {
	log := env.Logger.With(zap.String("source", "script"))
	if err := rt.RegisterFunc("__console", func(level, message string) {
		switch level {
		case "error":
			log.Error(message)
		case "warn":
			log.Warn(message)
		case "debug", "trace":
			log.Debug(message)
		default:
			log.Info(message)
		}
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}
