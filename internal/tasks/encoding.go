package tasks

import "github.com/cryguy/lambdajs/internal/core"

// encodingJS provides atob/btoa and UTF-8 TextEncoder/TextDecoder. Binary
// strings never cross into Go, so NUL bytes survive on every engine.
const encodingJS = `
(function() {
	var alphabet = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var lookup = {};
	for (var i = 0; i < alphabet.length; i++) lookup[alphabet.charAt(i)] = i;

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires 1 argument');
		var s = String(data), out = [];
		for (var i = 0; i < s.length; i++) {
			if (s.charCodeAt(i) > 255) throw new TypeError('btoa: character outside of the Latin1 range');
		}
		for (var j = 0; j < s.length; j += 3) {
			var a = s.charCodeAt(j);
			var b = j + 1 < s.length ? s.charCodeAt(j + 1) : 0;
			var c = j + 2 < s.length ? s.charCodeAt(j + 2) : 0;
			out.push(alphabet.charAt(a >> 2), alphabet.charAt(((a & 3) << 4) | (b >> 4)),
				j + 1 < s.length ? alphabet.charAt(((b & 15) << 2) | (c >> 6)) : '=',
				j + 2 < s.length ? alphabet.charAt(c & 63) : '=');
		}
		return out.join('');
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires 1 argument');
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1) throw new TypeError('atob: invalid base64 string');
		var out = [], bits = 0, acc = 0;
		for (var i = 0; i < s.length; i++) {
			var v = lookup[s.charAt(i)];
			if (v === undefined) throw new TypeError('atob: invalid base64 string');
			acc = (acc << 6) | v;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out.push(String.fromCharCode((acc >> bits) & 255));
			}
		}
		return out.join('');
	};

	function TextEncoder() {}
	TextEncoder.prototype.encoding = 'utf-8';
	TextEncoder.prototype.encode = function(input) {
		var s = input === undefined ? '' : String(input), bytes = [];
		for (var i = 0; i < s.length; i++) {
			var cp = s.codePointAt(i);
			if (cp > 0xffff) i++;
			else if (cp >= 0xd800 && cp <= 0xdfff) cp = 0xfffd;
			if (cp < 0x80) bytes.push(cp);
			else if (cp < 0x800) bytes.push(0xc0 | (cp >> 6), 0x80 | (cp & 63));
			else if (cp < 0x10000) bytes.push(0xe0 | (cp >> 12), 0x80 | ((cp >> 6) & 63), 0x80 | (cp & 63));
			else bytes.push(0xf0 | (cp >> 18), 0x80 | ((cp >> 12) & 63), 0x80 | ((cp >> 6) & 63), 0x80 | (cp & 63));
		}
		return new Uint8Array(bytes);
	};

	function TextDecoder(label) {
		var enc = label === undefined ? 'utf-8' : String(label).toLowerCase();
		if (enc !== 'utf-8' && enc !== 'utf8') throw new RangeError('TextDecoder: unsupported encoding ' + label);
	}
	TextDecoder.prototype.encoding = 'utf-8';
	TextDecoder.prototype.decode = function(input) {
		if (input === undefined) return '';
		var b = input instanceof ArrayBuffer ? new Uint8Array(input)
			: new Uint8Array(input.buffer, input.byteOffset || 0, input.byteLength);
		var out = [], i = 0;
		while (i < b.length) {
			var c = b[i], cp = 0xfffd, n = 1;
			if (c < 0x80) cp = c;
			else if (c >= 0xc2 && c < 0xe0 && i + 1 < b.length && (b[i+1] & 0xc0) === 0x80) {
				cp = ((c & 31) << 6) | (b[i+1] & 63); n = 2;
			} else if (c >= 0xe0 && c < 0xf0 && i + 2 < b.length && (b[i+1] & 0xc0) === 0x80 && (b[i+2] & 0xc0) === 0x80) {
				cp = ((c & 15) << 12) | ((b[i+1] & 63) << 6) | (b[i+2] & 63); n = 3;
				if (cp < 0x800 || (cp >= 0xd800 && cp <= 0xdfff)) cp = 0xfffd;
			} else if (c >= 0xf0 && c < 0xf5 && i + 3 < b.length && (b[i+1] & 0xc0) === 0x80 && (b[i+2] & 0xc0) === 0x80 && (b[i+3] & 0xc0) === 0x80) {
				cp = ((c & 7) << 18) | ((b[i+1] & 63) << 12) | ((b[i+2] & 63) << 6) | (b[i+3] & 63); n = 4;
				if (cp < 0x10000 || cp > 0x10ffff) cp = 0xfffd;
			}
			out.push(String.fromCodePoint(cp));
			i += n;
		}
		return out.join('');
	};

	globalThis.TextEncoder = TextEncoder;
	globalThis.TextDecoder = TextDecoder;
})();
`

// Encoding installs atob, btoa, TextEncoder and TextDecoder.
func Encoding() Task {
	return Task{Name: "encoding", Setup: func(rt core.JSRuntime, _ *Env) error {
		return rt.Eval(encodingJS)
	}}
}
