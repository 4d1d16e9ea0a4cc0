package message

import (
	"bytes"
	"strings"
)

// ResponseMessage is a parsed (or programmatically built) HTTP response.
// The status line tolerates a missing reason phrase (2-token status line),
// matching both spec.md §4.2 and real-world server behavior.
type ResponseMessage struct {
	HTTPVersion  string
	StatusCode   string
	ReasonPhrase string
	Headers      *Headers
	Body         []byte
}

// ParseResponseMessage splits raw at the first CRLF (status-line) and the
// first CRLFCRLF (header/body boundary).
func ParseResponseMessage(raw []byte) (*ResponseMessage, error) {
	lineEnd := bytes.Index(raw, []byte("\r\n"))
	if lineEnd < 0 {
		return nil, ErrBadStatusLine
	}
	statusLine := string(raw[:lineEnd])
	rest := raw[lineEnd+2:]

	tokens := strings.SplitN(statusLine, " ", 3)
	if len(tokens) < 2 {
		return nil, ErrBadStatusLine
	}
	version, status := tokens[0], tokens[1]
	reason := ""
	if len(tokens) == 3 {
		reason = tokens[2]
	}

	var headerBlock, body []byte
	if idx := bytes.Index(rest, []byte("\r\n\r\n")); idx >= 0 {
		headerBlock = rest[:idx]
		body = rest[idx+4:]
	} else {
		headerBlock = bytes.TrimSuffix(rest, []byte("\r\n"))
	}

	return &ResponseMessage{
		HTTPVersion:  version,
		StatusCode:   status,
		ReasonPhrase: reason,
		Headers:      ParseHeaders(string(headerBlock)),
		Body:         body,
	}, nil
}

// StatusLine returns "VERSION status [reason]".
func (m *ResponseMessage) StatusLine() string {
	if m.ReasonPhrase == "" {
		return m.HTTPVersion + " " + m.StatusCode
	}
	return m.HTTPVersion + " " + m.StatusCode + " " + m.ReasonPhrase
}

// Serialize renders the message back to wire bytes.
func (m *ResponseMessage) Serialize() []byte {
	var b bytes.Buffer
	b.WriteString(m.StatusLine())
	b.WriteString("\r\n")
	b.WriteString(m.Headers.String())
	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}
