package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	netproxy "golang.org/x/net/proxy"

	"github.com/tryunoo/mitmproxy/pkg/errors"
)

// ParseProxyURL parses a proxy URL of the form
// scheme://[user:pass@]host:port into a ProxyConfig, applying the
// conventional default port per scheme when one is not given.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	if proxyURL == "" {
		return nil, fmt.Errorf("proxy URL cannot be empty")
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	case "":
		return nil, fmt.Errorf("proxy URL must include scheme (http://, https://, socks4://, or socks5://)")
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("proxy URL must include host")
	}

	var port int
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid proxy port: %s", portStr)
		}
	} else {
		switch u.Scheme {
		case "http":
			port = 8080
		case "https":
			port = 443
		case "socks4", "socks5":
			port = 1080
		}
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyConfig{Type: u.Scheme, Host: host, Port: port, Username: username, Password: password}, nil
}

func (d *Dialer) connectViaProxy(ctx context.Context, cfg Config, targetAddr string, timeout time.Duration) (net.Conn, error) {
	proxy := cfg.Proxy
	proxyAddr := net.JoinHostPort(proxy.Host, strconv.Itoa(proxy.Port))

	var conn net.Conn
	var err error
	switch proxy.Type {
	case "http", "https":
		conn, err = d.connectViaHTTPProxy(ctx, proxy, proxyAddr, cfg, targetAddr, timeout)
	case "socks4":
		conn, err = d.connectViaSOCKS4Proxy(ctx, proxy, proxyAddr, targetAddr, timeout)
	case "socks5":
		conn, err = d.connectViaSOCKS5Proxy(ctx, proxy, proxyAddr, targetAddr, timeout)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported proxy type: %s", proxy.Type))
	}
	if err != nil {
		return nil, errors.NewProxyError(proxy.Type, proxyAddr, "connect", err)
	}
	return conn, nil
}

// connectViaHTTPProxy tunnels through an HTTP/HTTPS CONNECT proxy: dial the
// proxy, optionally TLS-wrap that leg, issue CONNECT, and hand back the
// tunneled connection for the caller to (optionally) TLS-wrap again toward
// the real origin.
func (d *Dialer) connectViaHTTPProxy(ctx context.Context, proxy *ProxyConfig, proxyAddr string, cfg Config, targetAddr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	if proxy.Type == "https" {
		tlsCfg := proxy.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: proxy.Host}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake to proxy failed: %w", err)
		}
		conn = tlsConn
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetAddr, cfg.Host)
	for k, v := range proxy.ProxyHeaders {
		req += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	if proxy.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to read CONNECT response headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

// connectViaSOCKS4Proxy implements the SOCKS4 CONNECT command manually
// (RFC 1928's predecessor): [VER=4][CMD=1][PORT][IPv4][USERID][NUL].
func (d *Dialer) connectViaSOCKS4Proxy(ctx context.Context, proxy *ProxyConfig, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("SOCKS4 requires an IPv4 address for %s: %w", host, err)
	}
	targetIP := ips[0].To4()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SOCKS4 proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP...)
	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read SOCKS4 response: %w", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed, status 0x%02X", resp[1])
	}
	return conn, nil
}

// connectViaSOCKS5Proxy delegates to golang.org/x/net/proxy for RFC 1928
// compliance rather than hand-rolling the handshake, matching how the
// teacher library wires SOCKS5 support.
func (d *Dialer) connectViaSOCKS5Proxy(ctx context.Context, proxy *ProxyConfig, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connection failed: %w", err)
	}
	return conn, nil
}
