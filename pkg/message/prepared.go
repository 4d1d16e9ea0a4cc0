package message

import (
	"time"

	"github.com/tryunoo/mitmproxy/pkg/timing"
)

// PreparedRequest binds a RequestMessage to a destination triple
// (host, port, tls) plus the moment it was (or will be) sent. It never
// points back to its Response; Response holds the non-owning reference
// instead, avoiding the reference cycle the original prototype had.
type PreparedRequest struct {
	Message     *RequestMessage
	Host        string
	Port        int
	TLS         bool
	RequestTime time.Time
	// Body classifies Message.Body by media type (declared or sniffed) and
	// exposes structured JSON/form/multipart parsing to OnRequest hooks.
	Body *RequestBody
}

// NewPreparedRequest binds msg to the given destination.
func NewPreparedRequest(host string, port int, tls bool, msg *RequestMessage) *PreparedRequest {
	return &PreparedRequest{Message: msg, Host: host, Port: port, TLS: tls}
}

// Response is the result of sending a PreparedRequest. It holds a
// non-owning reference back to the request it answers so round-trip time
// can be computed without the request needing to know about responses.
type Response struct {
	Request      *PreparedRequest
	ResponseTime time.Time
	Message      *ResponseMessage
	Metrics      timing.Metrics
}

// RoundTripTime returns ResponseTime - Request.RequestTime, or 0 if either
// timestamp is zero.
func (r *Response) RoundTripTime() time.Duration {
	if r.Request == nil || r.Request.RequestTime.IsZero() || r.ResponseTime.IsZero() {
		return 0
	}
	return r.ResponseTime.Sub(r.Request.RequestTime)
}
