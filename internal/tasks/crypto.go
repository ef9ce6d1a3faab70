package tasks

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/cryguy/lambdajs/internal/core"
	"github.com/google/uuid"
)

// maxRandomBytes matches the Web Crypto quota for getRandomValues.
const maxRandomBytes = 65536

// cryptoJS installs a minimal crypto global. Bytes cross the boundary as
// hex strings.
const cryptoJS = `
(function() {
	function fromHex(hex, target) {
		for (var i = 0; i < target.length; i++) target[i] = parseInt(hex.substr(i * 2, 2), 16);
		return target;
	}
	function toHex(data) {
		var bytes;
		if (typeof data === 'string') bytes = new TextEncoder().encode(data);
		else if (data instanceof ArrayBuffer) bytes = new Uint8Array(data);
		else if (data && ArrayBuffer.isView(data)) bytes = new Uint8Array(data.buffer, data.byteOffset, data.byteLength);
		else throw new TypeError('digest: data must be a string or BufferSource');
		var out = [];
		for (var i = 0; i < bytes.length; i++) out.push((bytes[i] < 16 ? '0' : '') + bytes[i].toString(16));
		return out.join('');
	}

	var crypto = {
		getRandomValues: function(arr) {
			if (!arr || !ArrayBuffer.isView(arr) || arr instanceof Float32Array || arr instanceof Float64Array) {
				throw new TypeError('getRandomValues requires an integer TypedArray');
			}
			var view = new Uint8Array(arr.buffer, arr.byteOffset, arr.byteLength);
			fromHex(__cryptoRandomHex(view.length), view);
			return arr;
		},
		randomUUID: function() { return __cryptoRandomUUID(); },
		subtle: {
			digest: function(algorithm, data) {
				return new Promise(function(resolve) {
					var name = typeof algorithm === 'string' ? algorithm : algorithm && algorithm.name;
					var hex = __cryptoDigest(String(name), toHex(data));
					resolve(fromHex(hex, new Uint8Array(hex.length / 2)).buffer);
				});
			}
		}
	};
	globalThis.crypto = crypto;
})();
`

// Crypto installs crypto.getRandomValues, crypto.randomUUID and
// crypto.subtle.digest.
func Crypto() Task {
	return Task{Name: "crypto", Setup: setupCrypto}
}

func setupCrypto(rt core.JSRuntime, _ *Env) error {
	if err := rt.RegisterFunc("__cryptoRandomHex", func(n int) (string, error) {
		if n < 0 || n > maxRandomBytes {
			return "", fmt.Errorf("getRandomValues: byte length must be 0-%d", maxRandomBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		return hex.EncodeToString(buf), nil
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__cryptoRandomUUID", uuid.NewString); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__cryptoDigest", digestHex); err != nil {
		return err
	}
	return rt.Eval(cryptoJS)
}

func digestHex(algorithm, dataHex string) (string, error) {
	var h hash.Hash
	switch strings.ToUpper(algorithm) {
	case "SHA-1":
		h = sha1.New()
	case "SHA-256":
		h = sha256.New()
	case "SHA-384":
		h = sha512.New384()
	case "SHA-512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("digest: unsupported algorithm %q", algorithm)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
