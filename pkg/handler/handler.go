// Package handler drives one accepted connection through the proxy's
// state machine: AwaitRequest -> ClassifyMethod -> {PlainRelay,
// TunnelSetup -> TunnelRelay} -> Done. Grounded on
// original_source/proxy/main.py's TCPHandler.process_http/
// process_https/handle, translated from that file's implicit if/else
// branching into an explicit Go state machine per the "replace dynamic
// dispatch... keep the contract" redesign note.
package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	mitmproxy "github.com/tryunoo/mitmproxy"
	"github.com/tryunoo/mitmproxy/pkg/certforge"
	"github.com/tryunoo/mitmproxy/pkg/message"
	"github.com/tryunoo/mitmproxy/pkg/runner"
	"github.com/tryunoo/mitmproxy/pkg/transport"
	"github.com/tryunoo/mitmproxy/pkg/tube"
)

// state names the handler's explicit state machine states.
type state int

const (
	stateAwaitRequest state = iota
	stateClassifyMethod
	statePlainRelay
	stateTunnelSetup
	stateTunnelRelay
	stateDone
)

// AuthConfig configures the Basic proxy-authentication extension
// (SPEC_FULL.md §10), activating the inactive 407/403 block left
// commented out in original_source/webproxy.py's handle().
type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// Handler drives a single accepted connection to completion. A Handler
// is reused across many connections; all per-connection state lives in
// the session it constructs for Handle.
type Handler struct {
	CA        *certforge.CA
	Forger    *certforge.Forger
	Callbacks mitmproxy.Callbacks
	Auth      AuthConfig
	Proxy     *transport.ProxyConfig
	Logger    *slog.Logger
}

// session holds the mutable state threaded through one connection's walk
// through the state machine.
type session struct {
	clientTube *tube.Tube
	request    *message.RequestMessage
	host       string
	port       int
	useTLS     bool
}

// Handle runs conn through the state machine to completion, closing it on
// every exit path. Unexpected panics inside callbacks are recovered at
// this boundary, logged, and treated as a transition to Done: they must
// never crash the caller's accept loop.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	sess := &session{clientTube: tube.NewFromConn(conn)}
	defer sess.clientTube.Close()

	defer func() {
		if r := recover(); r != nil {
			h.logger().Error("handler panic recovered", "panic", r)
		}
	}()

	st := stateAwaitRequest
	for st != stateDone {
		st = h.step(ctx, sess, st)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) step(ctx context.Context, sess *session, st state) state {
	switch st {
	case stateAwaitRequest:
		return h.awaitRequest(sess)
	case stateClassifyMethod:
		return h.classifyMethod(sess)
	case statePlainRelay:
		return h.plainRelay(ctx, sess)
	case stateTunnelSetup:
		return h.tunnelSetup(ctx, sess)
	case stateTunnelRelay:
		return h.tunnelRelay(ctx, sess)
	default:
		return stateDone
	}
}

func (h *Handler) awaitRequest(sess *session) state {
	raw, err := sess.clientTube.RecvMessage(tube.RoleServer, "")
	if err != nil {
		return stateDone
	}
	req, err := message.ParseRequestMessage(raw)
	if err != nil {
		return stateDone
	}

	if h.Auth.Enabled && !sess.useTLS {
		if !h.authorized(req) {
			h.sendProxyAuthRequired(sess)
			return stateDone
		}
	}

	sess.request = req
	return stateClassifyMethod
}

func (h *Handler) authorized(req *message.RequestMessage) bool {
	hdr := req.Headers.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(hdr, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(hdr[len(prefix):])
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return false
	}
	return parts[0] == h.Auth.Username && parts[1] == h.Auth.Password
}

func (h *Handler) sendProxyAuthRequired(sess *session) {
	resp := "HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic realm=\"mitmproxy\"\r\nContent-Length: 0\r\n\r\n"
	sess.clientTube.Send([]byte(resp))
}

func (h *Handler) classifyMethod(sess *session) state {
	if sess.request.Method == "CONNECT" {
		return stateTunnelSetup
	}
	return statePlainRelay
}

func (h *Handler) plainRelay(ctx context.Context, sess *session) state {
	host, port, err := parseHostHeader(sess.request.Headers.Get("Host"), 80)
	if err != nil {
		return stateDone
	}
	sess.host, sess.port, sess.useTLS = host, port, false

	prepared := message.NewPreparedRequest(host, port, false, sess.request)
	prepared.Body = message.NewRequestBody(sess.request.Body, sess.request.Headers)
	h.Callbacks.FireRequest(prepared)

	resp, err := runner.Run(ctx, host, port, false, prepared.Message, h.Proxy)
	if err != nil || resp == nil {
		return stateDone
	}

	h.Callbacks.FireResponse(resp)

	if err := sess.clientTube.Send(resp.Message.Serialize()); err != nil {
		return stateDone
	}
	return stateDone
}

func (h *Handler) tunnelSetup(ctx context.Context, sess *session) state {
	host, port, err := parseHostHeader(sess.request.Headers.Get("Host"), 443)
	if err != nil {
		host, port, err = parseHostHeader(sess.request.RequestTarget, 443)
		if err != nil {
			return stateDone
		}
	}
	sess.host, sess.port, sess.useTLS = host, port, true

	if err := sess.clientTube.Send([]byte("HTTP/1.0 200 Connection established\r\n\r\n")); err != nil {
		return stateDone
	}

	entry, err := h.Forger.Forge(host, port)
	if err != nil {
		return stateDone
	}

	if err := sess.clientTube.UpgradeServer(ctx, append(entry.LeafCertPEM, h.CA.CertPEM...), h.CA.KeyPEM); err != nil {
		return stateDone
	}

	return stateTunnelRelay
}

func (h *Handler) tunnelRelay(ctx context.Context, sess *session) state {
	raw, err := sess.clientTube.RecvMessage(tube.RoleServer, "")
	if err != nil {
		return stateDone
	}
	req, err := message.ParseRequestMessage(raw)
	if err != nil {
		return stateDone
	}

	prepared := message.NewPreparedRequest(sess.host, sess.port, true, req)
	prepared.Body = message.NewRequestBody(req.Body, req.Headers)
	h.Callbacks.FireRequest(prepared)

	resp, err := runner.Run(ctx, sess.host, sess.port, true, prepared.Message, h.Proxy)
	if err != nil || resp == nil {
		return stateDone
	}

	h.Callbacks.FireResponse(resp)

	sess.clientTube.Send(resp.Message.Serialize())
	return stateDone
}

// parseHostHeader splits a "host", "host:port", or bracketed IPv6
// authority into (host, port), defaulting port when absent.
func parseHostHeader(value string, defaultPort int) (string, int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	host, portStr, err := net.SplitHostPort(value)
	if err != nil {
		return value, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in authority: %s", value)
	}
	return host, port, nil
}
