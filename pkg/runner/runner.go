// Package runner sends one request to an origin server over a fresh Tube
// and reads back its response, applying the body-codec transforms. It
// never retries and never keeps a connection alive past one round trip,
// grounded on the request/response plumbing of the teacher's
// pkg/client/client.go (readResponse/readBody/readChunkedBody/
// readFixedBody), narrowed to a single fixed contract.
package runner

import (
	"context"
	"strconv"
	"time"

	"github.com/tryunoo/mitmproxy/pkg/codec"
	"github.com/tryunoo/mitmproxy/pkg/message"
	"github.com/tryunoo/mitmproxy/pkg/timing"
	"github.com/tryunoo/mitmproxy/pkg/transport"
	"github.com/tryunoo/mitmproxy/pkg/tube"
)

// Run sends msg to host:port (optionally through an upstream proxy) and
// returns the parsed, decoded Response. A timeout or any I/O failure
// while waiting for the origin to answer returns (nil, nil): spec.md
// §4.4 step 6 treats "no response" as a normal outcome, not an error.
func Run(ctx context.Context, host string, port int, useTLS bool, msg *message.RequestMessage, proxyCfg *transport.ProxyConfig) (*message.Response, error) {
	prepareRequest(host, msg)

	timer := timing.NewTimer()
	tb, err := tube.Open(ctx, host, port, useTLS, proxyCfg, timer)
	if err != nil {
		return nil, nil
	}
	defer tb.Close()

	prepared := message.NewPreparedRequest(host, port, useTLS, msg)

	prepared.RequestTime = time.Now()
	if err := tb.Send(msg.Serialize()); err != nil {
		return nil, nil
	}

	raw, err := tb.RecvMessage(tube.RoleClient, msg.Method)
	if err != nil || len(raw) == 0 {
		return nil, nil
	}

	respMsg, err := message.ParseResponseMessage(raw)
	if err != nil {
		return nil, nil
	}

	applyBodyTransforms(respMsg)

	resp := &message.Response{
		Request:      prepared,
		ResponseTime: time.Now(),
		Message:      respMsg,
		Metrics:      timer.GetMetrics(),
	}
	return resp, nil
}

// prepareRequest applies spec.md §4.4 steps 1-3 in place.
func prepareRequest(host string, msg *message.RequestMessage) {
	if msg.HTTPVersion == "HTTP/2" {
		msg.HTTPVersion = "HTTP/1.1"
	}
	if !msg.Headers.Has("Host") {
		msg.Headers.Set("Host", host)
	}
	if msg.Headers.Has("Content-Length") {
		msg.Headers.Set("Content-Length", strconv.Itoa(len(msg.Body)))
	}
}

// applyBodyTransforms runs spec.md §4.3's chunked de-frame and
// content-encoding decode, then fixes up the framing headers to match
// the now-plain body.
func applyBodyTransforms(resp *message.ResponseMessage) {
	body := resp.Body
	if resp.Headers.Get("Transfer-Encoding") == "chunked" {
		if dechunked, err := codec.Dechunk(body); err == nil {
			body = dechunked
		}
	}

	if enc := resp.Headers.Get("Content-Encoding"); enc != "" {
		if decoded, err := codec.Decode(body, enc); err == nil {
			body = decoded
		}
	}

	resp.Body = body
	resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Headers.Del("Transfer-Encoding")
	resp.Headers.Del("Content-Encoding")
}
