// Package tube wraps a single TCP (optionally TLS) connection with the
// HTTP/1.1 framing rules a proxy needs to both relay and intercept
// traffic: open/send/receive a full message, or upgrade the accepted
// socket to TLS server side using a dynamically forged certificate.
package tube

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tryunoo/mitmproxy/pkg/buffer"
	"github.com/tryunoo/mitmproxy/pkg/constants"
	"github.com/tryunoo/mitmproxy/pkg/errors"
	"github.com/tryunoo/mitmproxy/pkg/message"
	"github.com/tryunoo/mitmproxy/pkg/timing"
	"github.com/tryunoo/mitmproxy/pkg/transport"
)

// DefaultReceiveTimeout is the idle read timeout applied to every Tube
// unless overridden, matching spec.md §4.1's literal 20s default.
const DefaultReceiveTimeout = 20 * time.Second

// Role names the side of the HTTP exchange this Tube plays when
// recv_message reads: RoleClient reads a server's response, RoleServer
// reads a client's request. The HEAD/1xx/204/304 zero-body exception
// applies only to RoleClient.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Tube is the wire-level abstraction for one accepted or dialed
// connection: raw byte I/O plus HTTP/1.1 message framing.
type Tube struct {
	conn    net.Conn
	timeout time.Duration
}

// Open dials host:port (optionally through an upstream proxy) and,
// if tls is set, performs a client TLS handshake with verification
// disabled for the origin leg — the proxy re-signs whatever the origin
// presents, so trust is rooted at the proxy's own CA, never the origin's.
func Open(ctx context.Context, host string, port int, useTLS bool, proxyCfg *transport.ProxyConfig, timer *timing.Timer) (*Tube, error) {
	dialer := transport.NewDialer()
	conn, err := dialer.Dial(ctx, transport.Config{
		Host:        host,
		Port:        port,
		TLS:         useTLS,
		InsecureTLS: true,
		ConnTimeout: 10 * time.Second,
		Proxy:       proxyCfg,
	}, timer)
	if err != nil {
		return nil, err
	}
	return &Tube{conn: conn, timeout: DefaultReceiveTimeout}, nil
}

// NewFromConn wraps an already-established connection (e.g. one handed to
// the server's accept loop) as a Tube.
func NewFromConn(conn net.Conn) *Tube {
	return &Tube{conn: conn, timeout: DefaultReceiveTimeout}
}

// Close releases the underlying connection. Any pending Send/Recv aborts
// with an IoError once Close runs concurrently with it.
func (t *Tube) Close() error {
	return t.conn.Close()
}

// Send writes all of b, looping past short writes.
func (t *Tube) Send(b []byte) error {
	total := 0
	for total < len(b) {
		t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Write(b[total:])
		if err != nil {
			return errors.NewIOError("tube send", err)
		}
		total += n
	}
	return nil
}

// RecvMessage reads one full HTTP message (header block + framed body)
// per spec.md §4.1: the header block up to the first blank line, then the
// body per the role-aware framing rules in readBody. lastMethod is the
// method of the request this message answers (only meaningful when
// role == RoleClient, i.e. reading a response): spec.md §4.1 rule (a)
// forces a zero-length body for responses to HEAD, which can only be
// known from the request side, not from the response's own status line.
// Pass "" when reading a request (role == RoleServer).
func (t *Tube) RecvMessage(role Role, lastMethod string) ([]byte, error) {
	headerBlock, firstBodyChunk, err := t.readHeaderBlock()
	if err != nil {
		return nil, err
	}

	headers, statusOrRequestLine := splitStartLineHeaders(headerBlock)
	body, err := t.readBody(role, lastMethod, headers, statusOrRequestLine, firstBodyChunk)
	if err != nil {
		return nil, err
	}

	return append(headerBlock, body...), nil
}

// readHeaderBlock reads until the header terminator \r\n\r\n, returning
// the header block (including the blank-line terminator) and any body
// bytes that were buffered past it in the same read.
func (t *Tube) readHeaderBlock() (headerBlock []byte, spillover []byte, err error) {
	const terminator = "\r\n\r\n"
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, rerr := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := indexOf(buf, terminator); idx >= 0 {
				end := idx + len(terminator)
				return buf[:end], buf[end:], nil
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil, nil, errors.NewIOError("tube recv: connection closed before headers complete", rerr)
			}
			return nil, nil, errors.NewIOError("tube recv", rerr)
		}
	}
}

// readBody determines body length per spec.md §4.1 (a)-(d) and reads it.
func (t *Tube) readBody(role Role, lastMethod string, headers *message.Headers, startLine string, spillover []byte) ([]byte, error) {
	if role == RoleClient && (headNoBody(lastMethod) || statusHasNoBody(startLine)) {
		return nil, nil
	}

	if te := headers.Get("Transfer-Encoding"); te == "chunked" {
		return t.readChunkedBody(spillover)
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, errors.NewProtocolError("invalid Content-Length", err)
		}
		return t.readFixedBody(n, spillover)
	}

	return t.readUntilClose(spillover)
}

func (t *Tube) readChunkedBody(spillover []byte) ([]byte, error) {
	buf := append([]byte{}, spillover...)
	for {
		if idx := indexOf(buf, "0\r\n\r\n"); idx >= 0 {
			return buf[:idx+len("0\r\n\r\n")], nil
		}
		chunk := make([]byte, 4096)
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return nil, errors.NewIOError("tube recv chunked body", err)
		}
	}
}

// readFixedBody reads exactly n bytes, spilling to a temp file via
// pkg/buffer once the body exceeds constants.DefaultBodyMemLimit so a
// large Content-Length response can't pin it all in memory at once.
func (t *Tube) readFixedBody(n int, spillover []byte) ([]byte, error) {
	buf := buffer.New(constants.DefaultBodyMemLimit)
	defer buf.Close()

	if len(spillover) > 0 {
		buf.Write(spillover)
	}
	for buf.Size() < int64(n) {
		chunk := make([]byte, 4096)
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		read, err := t.conn.Read(chunk)
		if read > 0 {
			buf.Write(chunk[:read])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.NewIOError("tube recv fixed body", err)
		}
	}
	return readAllTrunc(buf, n)
}

// readUntilClose reads until the peer closes the connection or the idle
// timeout fires, spilling large bodies to disk the same way
// readFixedBody does.
func (t *Tube) readUntilClose(spillover []byte) ([]byte, error) {
	buf := buffer.New(constants.DefaultBodyMemLimit)
	defer buf.Close()

	if len(spillover) > 0 {
		buf.Write(spillover)
	}
	for {
		chunk := make([]byte, 4096)
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				return readAllTrunc(buf, -1)
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return readAllTrunc(buf, -1)
			}
			return nil, errors.NewIOError("tube recv until close", err)
		}
	}
}

// readAllTrunc materializes buf's full contents (draining disk-spilled
// data if any), truncating to n bytes when n >= 0.
func readAllTrunc(buf *buffer.Buffer, n int) ([]byte, error) {
	r, err := buf.Reader()
	if err != nil {
		return nil, errors.NewIOError("reading spooled body", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewIOError("reading spooled body", err)
	}
	if n >= 0 && len(data) > n {
		data = data[:n]
	}
	return data, nil
}

// UpgradeServer wraps the Tube's connection as a TLS server using the
// supplied certificate chain and private key, matching spec.md §4.1's
// upgrade_server(ctx).
func (t *Tube) UpgradeServer(ctx context.Context, chain []byte, key []byte) error {
	cert, err := tls.X509KeyPair(chain, key)
	if err != nil {
		return errors.NewTLSError("", 0, fmt.Errorf("loading forged chain: %w", err))
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsConn := tls.Server(t.conn, tlsCfg)

	hsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return errors.NewTLSError("", 0, err)
	}
	t.conn = tlsConn
	return nil
}

func indexOf(haystack []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == needle {
			return i
		}
	}
	return -1
}
