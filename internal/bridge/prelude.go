package bridge

import (
	"fmt"

	"github.com/cryguy/lambdajs/internal/core"
)

// preludeJS defines globalThis.__bridge_out, the walker that serializes a
// sandbox value for Decode. It keeps an ancestor stack rather than a seen
// set so that shared (acyclic) references are copied, not flagged.
const preludeJS = `
(function() {
	function kindOfNumber(n) {
		if (n !== n) return "nan";
		if (n === Infinity) return "infinity";
		if (n === -Infinity) return "-infinity";
		return null;
	}

	globalThis.__bridge_out = function(root) {
		var unrep = [];
		var ancestors = [];

		function mark(path, kind) {
			unrep.push(path.concat([kind]));
			return null;
		}

		function walk(v, path) {
			switch (typeof v) {
			case "undefined":
				return undefined;
			case "boolean":
			case "string":
				return v;
			case "number":
				var k = kindOfNumber(v);
				return k ? mark(path, k) : v;
			case "bigint":
				return mark(path, "bigint");
			case "symbol":
				return mark(path, "symbol");
			case "function":
				return mark(path, "function");
			}
			if (v === null) return null;
			if (ancestors.indexOf(v) !== -1) return mark(path, "cycle");

			ancestors.push(v);
			var out;
			try {
				if (typeof v.toJSON === "function") {
					out = walk(v.toJSON(), path);
				} else if (Array.isArray(v)) {
					out = [];
					for (var i = 0; i < v.length; i++) {
						var e = walk(v[i], path.concat([i]));
						out.push(e === undefined ? null : e);
					}
				} else {
					out = {};
					var keys = Object.keys(v);
					for (var j = 0; j < keys.length; j++) {
						var f = walk(v[keys[j]], path.concat([keys[j]]));
						if (f !== undefined) out[keys[j]] = f;
					}
				}
			} finally {
				ancestors.pop();
			}
			return out;
		}

		var tree = walk(root, []);
		return JSON.stringify({ v: tree === undefined ? null : tree, u: unrep });
	};
})();
`

// Install defines the bridge helpers in a fresh isolate. It must run before
// FromJS is used.
func Install(rt core.JSRuntime) error {
	if err := rt.Eval(preludeJS); err != nil {
		return fmt.Errorf("bridge: installing prelude: %w", err)
	}
	return nil
}
