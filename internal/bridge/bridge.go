// Package bridge converts values between the host data model and a JS
// isolate. The host model is the JSON data model as decoded by encoding/json
// with UseNumber: nil, bool, json.Number, string, []any and map[string]any.
//
// Values cross the boundary as JSON text, so every transfer is a deep copy
// and no isolate object is ever referenced from Go.
package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/cryguy/lambdajs/internal/core"
)

// MaxSafeInteger is the largest integer a JS number represents exactly.
// Larger integers lose precision once they enter the isolate.
const MaxSafeInteger = 1<<53 - 1

// Kinds of sandbox values that have no host representation.
const (
	KindFunction    = "function"
	KindSymbol      = "symbol"
	KindBigInt      = "bigint"
	KindNaN         = "nan"
	KindInfinity    = "infinity"
	KindNegInfinity = "-infinity"
	KindCycle       = "cycle"
)

// Unrepresentable marks a position in a value produced by the sandbox that
// held something with no host equivalent. It serializes as JSON null.
type Unrepresentable struct {
	Kind string
}

func (u Unrepresentable) String() string { return "<unrepresentable " + u.Kind + ">" }

// MarshalJSON encodes the marker as null.
func (Unrepresentable) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Normalize converts an arbitrary JSON-serializable Go value into the host
// model. Values already in the model come back structurally equal.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding host value: %w", err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("bridge: decoding value: %w", err)
	}
	return out, nil
}

// ToJS materializes v inside the isolate as globalThis[global]. The value
// is parsed from a JSON string literal, so the isolate gets its own copy.
func ToJS(rt core.JSRuntime, global string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: encoding host value: %w", err)
	}
	js := fmt.Sprintf("globalThis[%s] = JSON.parse(%s);", Quote(global), Quote(string(data)))
	if err := rt.Eval(js); err != nil {
		return fmt.Errorf("bridge: materializing value: %w", err)
	}
	return nil
}

// FromJS evaluates expr inside the isolate and converts its value to the
// host model. Nodes with no host equivalent become Unrepresentable.
func FromJS(rt core.JSRuntime, expr string) (any, error) {
	envelope, err := rt.EvalString("globalThis.__bridge_out(" + expr + ")")
	if err != nil {
		return nil, fmt.Errorf("bridge: reading value: %w", err)
	}
	return Decode(envelope)
}

// envelope is the walker output: the plain tree plus the paths of the nodes
// nulled out because they had no JSON form. Each entry in U is the path
// segments followed by the kind.
type envelope struct {
	V json.RawMessage `json:"v"`
	U [][]any         `json:"u"`
}

// Decode turns walker output into a host value.
func Decode(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("bridge: decoding envelope: %w", err)
	}
	if len(env.V) == 0 {
		return nil, errors.New("bridge: envelope has no value")
	}
	root, err := decodeJSON(env.V)
	if err != nil {
		return nil, err
	}
	for _, entry := range env.U {
		if len(entry) == 0 {
			continue
		}
		kind, _ := entry[len(entry)-1].(string)
		root = setPath(root, entry[:len(entry)-1], Unrepresentable{Kind: kind})
	}
	return root, nil
}

// setPath replaces the node at path with marker. Segments are object keys
// (string) or array indexes (json.Number). Paths that do not resolve are
// ignored.
func setPath(root any, path []any, marker any) any {
	if len(path) == 0 {
		return marker
	}
	switch node := root.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return root
		}
		if len(path) == 1 {
			node[key] = marker
		} else if child, ok := node[key]; ok {
			node[key] = setPath(child, path[1:], marker)
		}
	case []any:
		idx, ok := index(path[0])
		if !ok || idx >= len(node) {
			return root
		}
		node[idx] = setPath(node[idx], path[1:], marker)
	}
	return root
}

func index(seg any) (int, bool) {
	n, ok := seg.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n.String())
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// HasUnsafeInteger reports whether v contains an integer whose magnitude
// exceeds MaxSafeInteger and would therefore be rounded by the isolate.
func HasUnsafeInteger(v any) bool {
	switch x := v.(type) {
	case json.Number:
		// Non-integer literals are floats already and lose nothing new.
		n, ok := new(big.Int).SetString(x.String(), 10)
		return ok && n.CmpAbs(big.NewInt(MaxSafeInteger)) > 0
	case int:
		return x > MaxSafeInteger || x < -MaxSafeInteger
	case int64:
		return x > MaxSafeInteger || x < -MaxSafeInteger
	case uint64:
		return x > MaxSafeInteger
	case []any:
		for _, e := range x {
			if HasUnsafeInteger(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range x {
			if HasUnsafeInteger(e) {
				return true
			}
		}
	}
	return false
}

// Quote renders s as a JS string literal. encoding/json escapes U+2028 and
// U+2029, which makes its output valid JS source.
func Quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
