package message

import (
	"bytes"
	"errors"
	"strings"
)

// HTTPMethods is the set of methods this proxy accepts from clients.
var HTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"CONNECT": true, "OPTIONS": true, "TRACE": true, "PATCH": true,
}

// HTTPVersions is the set of request/status-line versions this proxy accepts.
var HTTPVersions = map[string]bool{
	"HTTP/1.0": true, "HTTP/1.1": true, "HTTP/2": true, "HTTP/3": true,
}

// Sentinel parse errors, matching spec.md §7's BadRequestLine/BadMethod/
// BadVersion taxonomy rows (ErrBadStatusLine is the response-side
// counterpart of ErrBadRequestLine). Header parsing has no error value:
// ParseHeaders skips lines without a colon. All of them are silent-close
// conditions at the connection handler boundary.
var (
	ErrBadRequestLine = errors.New("not a valid HTTP/1.1 request line")
	ErrBadStatusLine  = errors.New("not a valid HTTP/1.1 status line")
	ErrBadMethod      = errors.New("not an HTTP method")
	ErrBadVersion     = errors.New("not an HTTP version")
)

// RequestMessage is a parsed (or programmatically built) HTTP request.
type RequestMessage struct {
	Method        string
	RequestTarget string
	HTTPVersion   string
	Headers       *Headers
	Body          []byte
}

// ParseRequestMessage splits raw at the first CRLF (request-line) and the
// first CRLFCRLF (header/body boundary), validating method and version.
func ParseRequestMessage(raw []byte) (*RequestMessage, error) {
	lineEnd := bytes.Index(raw, []byte("\r\n"))
	if lineEnd < 0 {
		return nil, ErrBadRequestLine
	}
	requestLine := string(raw[:lineEnd])
	rest := raw[lineEnd+2:]

	tokens := strings.Split(requestLine, " ")
	if len(tokens) != 3 {
		return nil, ErrBadRequestLine
	}
	method, target, version := tokens[0], tokens[1], tokens[2]

	if !HTTPMethods[method] {
		return nil, ErrBadMethod
	}
	if !HTTPVersions[version] {
		return nil, ErrBadVersion
	}

	var headerBlock, body []byte
	if idx := bytes.Index(rest, []byte("\r\n\r\n")); idx >= 0 {
		headerBlock = rest[:idx]
		body = rest[idx+4:]
	} else {
		headerBlock = bytes.TrimSuffix(rest, []byte("\r\n"))
	}

	return &RequestMessage{
		Method:        method,
		RequestTarget: target,
		HTTPVersion:   version,
		Headers:       ParseHeaders(string(headerBlock)),
		Body:          body,
	}, nil
}

// NewRequestMessage builds a RequestMessage from explicit fields, validating
// method and version the same way ParseRequestMessage does.
func NewRequestMessage(method, target, version string, headers *Headers, body []byte) (*RequestMessage, error) {
	if !HTTPMethods[method] {
		return nil, ErrBadMethod
	}
	if !HTTPVersions[version] {
		return nil, ErrBadVersion
	}
	if headers == nil {
		headers = NewHeaders()
	}
	return &RequestMessage{Method: method, RequestTarget: target, HTTPVersion: version, Headers: headers, Body: body}, nil
}

// RequestLine returns "METHOD target VERSION".
func (m *RequestMessage) RequestLine() string {
	return m.Method + " " + m.RequestTarget + " " + m.HTTPVersion
}

// Serialize renders the message back to wire bytes.
func (m *RequestMessage) Serialize() []byte {
	var b bytes.Buffer
	b.WriteString(m.RequestLine())
	b.WriteString("\r\n")
	b.WriteString(m.Headers.String())
	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}

// Clone returns a deep copy, used so callback mutation of a PreparedRequest
// never aliases the connection handler's own working copy.
func (m *RequestMessage) Clone() *RequestMessage {
	return &RequestMessage{
		Method:        m.Method,
		RequestTarget: m.RequestTarget,
		HTTPVersion:   m.HTTPVersion,
		Headers:       m.Headers.Clone(),
		Body:          append([]byte(nil), m.Body...),
	}
}
