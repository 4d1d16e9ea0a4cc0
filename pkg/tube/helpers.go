package tube

import (
	"strconv"
	"strings"

	"github.com/tryunoo/mitmproxy/pkg/message"
)

// splitStartLineHeaders splits a raw header block (start-line CRLF
// Name: value CRLF* CRLF) into the parsed Headers and the raw start
// line, for use by readBody's framing rules.
func splitStartLineHeaders(headerBlock []byte) (*message.Headers, string) {
	text := string(headerBlock)
	idx := strings.Index(text, "\r\n")
	if idx < 0 {
		return message.ParseHeaders(""), ""
	}
	startLine := text[:idx]
	rest := text[idx+2:]
	return message.ParseHeaders(rest), startLine
}

// headNoBody reports whether the request this response answers was a
// HEAD request, which per spec.md §4.1 always has a zero-length
// response body regardless of what the response's own headers claim.
func headNoBody(lastMethod string) bool {
	return lastMethod == "HEAD"
}

// statusHasNoBody reports whether a response status-line's code is one
// of the zero-body exceptions: 1xx, 204, 304.
func statusHasNoBody(statusLine string) bool {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return false
	}
	if code >= 100 && code < 200 {
		return true
	}
	return code == 204 || code == 304
}

func parseContentLength(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}
