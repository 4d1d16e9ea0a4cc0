// Package codec implements the body transforms spec.md §4.3 requires:
// chunked transfer-encoding de-framing and Content-Encoding decoding.
package codec

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// Dechunk iteratively reads a chunked-encoded body: a hex length line
// terminated by CRLF, followed by that many bytes and a trailing CRLF,
// repeated until a zero-length chunk ends the body. Trailer headers (if
// any) are discarded, matching original_source/proxy/http/util.py's
// chunked_conv.
func Dechunk(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	rest := raw

	for {
		idx := bytes.Index(rest, []byte("\r\n"))
		if idx < 0 {
			return nil, errors.NewProtocolError("chunked body missing chunk-size line", nil)
		}
		sizeLine := string(rest[:idx])
		if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, errors.NewProtocolError("invalid chunk size", err)
		}
		rest = rest[idx+2:]

		if size == 0 {
			break
		}
		if int64(len(rest)) < size+2 {
			return nil, errors.NewProtocolError("chunk body shorter than declared size", nil)
		}
		out.Write(rest[:size])
		rest = rest[size+2:] // skip chunk data + trailing CRLF
	}

	return out.Bytes(), nil
}
