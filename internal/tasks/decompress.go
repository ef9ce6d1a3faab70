package tasks

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent when the script sets no Accept-Encoding of its own.
// Setting it explicitly turns off net/http's transparent gzip handling, so
// every encoding listed here must be handled by decodeBody.
const acceptEncoding = "gzip, br, zstd"

// decodeBody wraps r with a decoder for the Content-Encoding value. The
// returned closer releases decoder state and must be called.
func decodeBody(r io.Reader, contentEncoding string) (io.Reader, func(), error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return r, func() {}, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "br":
		return brotli.NewReader(r), func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content-encoding %q", contentEncoding)
	}
}
