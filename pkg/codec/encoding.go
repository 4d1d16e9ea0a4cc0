package codec

import (
	"bytes"
	"compress/flate"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// Decoder decodes a Content-Encoding-wrapped body.
type Decoder func(content []byte) ([]byte, error)

// Decoders is the Content-Encoding decode registry. Unknown encodings are
// looked up by the caller and, if absent here, must pass through unchanged.
var Decoders = map[string]Decoder{
	"gzip":    decodeGzip,
	"deflate": decodeDeflate,
	"br":      decodeBrotli,
}

// Decode looks up encoding in Decoders and applies it; an unregistered
// encoding is returned unchanged, matching spec.md §4.3's pass-through rule.
func Decode(content []byte, encoding string) ([]byte, error) {
	dec, ok := Decoders[strings.ToLower(strings.TrimSpace(encoding))]
	if !ok {
		return content, nil
	}
	return dec(content)
}

func decodeGzip(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return content, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, errors.NewProtocolError("invalid gzip body", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewProtocolError("gzip decompression failed", err)
	}
	return out, nil
}

// decodeDeflate tries a zlib-wrapped stream first (RFC 1950), falling back
// to raw DEFLATE (RFC 1951, window bits -15) on a zlib header error, since
// many servers mislabel one as the other.
func decodeDeflate(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return content, nil
	}
	if r, err := zlib.NewReader(bytes.NewReader(content)); err == nil {
		defer r.Close()
		if out, err := io.ReadAll(r); err == nil {
			return out, nil
		}
	}

	r := flate.NewReader(bytes.NewReader(content))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewProtocolError("deflate decompression failed", err)
	}
	return out, nil
}

func decodeBrotli(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return content, nil
	}
	r := brotli.NewReader(bytes.NewReader(content))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewProtocolError("brotli decompression failed", err)
	}
	return out, nil
}
