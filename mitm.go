// Package mitmproxy is an intercepting HTTP/HTTPS proxy: it relays and
// rewrites plain HTTP, and performs TLS man-in-the-middle on HTTPS by
// minting per-host leaf certificates on demand from a trusted local CA,
// exposing every request and response to user-supplied callbacks before
// it leaves or re-enters the wire.
package mitmproxy

import "github.com/tryunoo/mitmproxy/pkg/message"

// OnRequest is invoked once per forwarded request, after the handler has
// built the PreparedRequest and before it is sent to the origin. It may
// mutate prepared.Message's headers or body in place; those mutations are
// what actually gets sent.
type OnRequest func(prepared *message.PreparedRequest)

// OnResponse is invoked once per received response, after body
// normalization (§4.3 transforms) and before the response is written back
// to the client. It may mutate response.Message in place.
type OnResponse func(response *message.Response)

// Callbacks bundles the two user hooks a connection handler invokes.
// Either field may be nil, meaning "no hook installed".
type Callbacks struct {
	OnRequest  OnRequest
	OnResponse OnResponse
}

// FireRequest invokes OnRequest if one is installed; a nil hook is a no-op.
func (c Callbacks) FireRequest(prepared *message.PreparedRequest) {
	if c.OnRequest != nil {
		c.OnRequest(prepared)
	}
}

// FireResponse invokes OnResponse if one is installed; a nil hook is a no-op.
func (c Callbacks) FireResponse(response *message.Response) {
	if c.OnResponse != nil {
		c.OnResponse(response)
	}
}
