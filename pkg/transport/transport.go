// Package transport dials the origin-facing (or upstream-proxy-facing) TCP
// and TLS connection used by the request runner. Each call to Dial opens a
// fresh connection; there is no idle-connection pool, matching spec.md's
// "no connection reuse/keepalive across requests" non-goal for the proxy's
// single-shot per-connection contract.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/tryunoo/mitmproxy/pkg/errors"
	"github.com/tryunoo/mitmproxy/pkg/timing"
	"github.com/tryunoo/mitmproxy/pkg/tlsconfig"
)

// ProxyConfig describes an upstream HTTP/HTTPS/SOCKS4/SOCKS5 proxy to dial
// through instead of connecting to the origin directly. This is a domain
// stack extension (SPEC_FULL.md §10), not part of spec.md's core contract.
type ProxyConfig struct {
	Type         string // "http", "https", "socks4", "socks5"
	Host         string
	Port         int
	Username     string
	Password     string
	ConnTimeout  time.Duration
	ProxyHeaders map[string]string
	TLSConfig    *tls.Config
}

// Config describes a single origin-facing connection to establish.
type Config struct {
	Host string
	Port int
	TLS  bool

	SNI         string
	InsecureTLS bool // spec.md §4.1: disabled verification on the origin leg by default

	ConnTimeout time.Duration

	Proxy *ProxyConfig

	// ClientCertPEM/ClientKeyPEM, when both are set, are presented as a
	// client certificate in upgradeTLS's handshake with Host. They are not
	// used on the HTTPS upstream proxy leg, which takes ProxyConfig.TLSConfig
	// instead, and tube.Open never sets them.
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// Dialer establishes origin-facing connections.
type Dialer struct {
	resolver *net.Resolver
}

// NewDialer returns a Dialer using the default resolver.
func NewDialer() *Dialer {
	return &Dialer{resolver: net.DefaultResolver}
}

// Dial opens a TCP connection to cfg.Host:cfg.Port (optionally through an
// upstream proxy) and, if cfg.TLS is set, upgrades it to TLS.
func (d *Dialer) Dial(ctx context.Context, cfg Config, timer *timing.Timer) (net.Conn, error) {
	if cfg.Host == "" {
		return nil, errors.NewValidationError("host cannot be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.NewValidationError("port must be between 1 and 65535")
	}

	connTimeout := cfg.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}

	targetAddr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	var conn net.Conn
	var err error
	if cfg.Proxy != nil {
		conn, err = d.connectViaProxy(ctx, cfg, targetAddr, connTimeout)
	} else {
		conn, err = d.connectTCP(ctx, targetAddr, connTimeout, timer)
	}
	if err != nil {
		return nil, errors.NewConnectionError(cfg.Host, cfg.Port, err)
	}

	if !cfg.TLS {
		return conn, nil
	}

	tlsConn, err := d.upgradeTLS(ctx, conn, cfg, timer)
	if err != nil {
		conn.Close()
		return nil, errors.NewTLSError(cfg.Host, cfg.Port, err)
	}
	return tlsConn, nil
}

func (d *Dialer) connectTCP(ctx context.Context, dialAddr string, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialer := &net.Dialer{Timeout: timeout}
	return dialer.DialContext(ctx, "tcp", dialAddr)
}

func (d *Dialer) upgradeTLS(ctx context.Context, conn net.Conn, cfg Config, timer *timing.Timer) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	handshakeTimeout := cfg.ConnTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	tlsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureTLS,
	}
	tlsconfig.ApplyVersionProfile(tlsCfg, tlsconfig.ProfileSecure)
	tlsconfig.ApplyCipherSuites(tlsCfg, tlsCfg.MinVersion)
	ConfigureSNI(tlsCfg, cfg.SNI, false, cfg.Host)

	if cert, err := loadClientCertificate(cfg); err != nil {
		return nil, err
	} else if cert != nil {
		tlsCfg.Certificates = append(tlsCfg.Certificates, *cert)
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// ConfigureSNI sets tlsCfg.ServerName following the priority: an
// already-set ServerName wins, then disableSNI leaves it empty, then
// customSNI, then fallbackHost.
func ConfigureSNI(tlsCfg *tls.Config, customSNI string, disableSNI bool, fallbackHost string) {
	if tlsCfg == nil || tlsCfg.ServerName != "" || disableSNI {
		return
	}
	if customSNI != "" {
		tlsCfg.ServerName = customSNI
		return
	}
	tlsCfg.ServerName = fallbackHost
}

func loadClientCertificate(cfg Config) (*tls.Certificate, error) {
	if len(cfg.ClientCertPEM) == 0 || len(cfg.ClientKeyPEM) == 0 {
		return nil, nil
	}
	cert, err := tls.X509KeyPair(cfg.ClientCertPEM, cfg.ClientKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate/key: %w", err)
	}
	return &cert, nil
}
