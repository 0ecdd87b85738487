// Package dialer provides the shared DNS-resolving, ALPN-negotiating dial
// function used by internal/pool to create PooledConnections (spec §4.6
// step 2: "DNS resolve, TCP connect with nodelay, optional keepalive, TLS
// handshake with SNI, ALPN negotiation for h2/http/1.1").
package dialer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/projectdiscovery/fastdialer/fastdialer"
)

// Config configures the shared dialer. Kept small and explicit, exposing
// only the handful of fastdialer.Options fields this pipeline actually
// sets rather than the library's full surface.
type Config struct {
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	BaseResolvers   []string
	EnableFallback  bool
	DisableZTLS     bool
	TLSMinVersion   uint16 // spec §6 tls.min_version, tls.VersionTLS1x constant
	TLSMaxVersion   uint16 // spec §6 tls.max_version; 0 means "no cap"
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:    10 * time.Second,
		KeepAlive:      10 * time.Second,
		BaseResolvers:  []string{"1.1.1.1:53", "1.0.0.1:53", "8.8.8.8:53", "8.8.4.4:53"},
		EnableFallback: true,
		DisableZTLS:    true,
		TLSMinVersion:  tls.VersionTLS12,
		TLSMaxVersion:  tls.VersionTLS13,
	}
}

// Dialer wraps fastdialer.Dialer with the plain-TCP and ALPN-negotiating TLS
// dial functions the connection pool needs. fastdialer already layers DNS
// caching and resolver fallback (including DoH) on top of the system
// resolver, so no separate DNS-over-HTTPS fallback is needed here.
type Dialer struct {
	fd  *fastdialer.Dialer
	cfg Config
}

func New(cfg Config) (*Dialer, error) {
	if cfg.TLSMinVersion == 0 {
		cfg.TLSMinVersion = tls.VersionTLS12
	}
	opts := fastdialer.DefaultOptions
	opts.EnableFallback = cfg.EnableFallback
	opts.DialerTimeout = cfg.DialTimeout
	opts.DialerKeepAlive = cfg.KeepAlive
	opts.MaxRetries = 3
	opts.BaseResolvers = cfg.BaseResolvers
	opts.WithDialerHistory = false
	opts.WithTLSData = false
	opts.WithZTLS = false
	opts.DisableZtlsFallback = cfg.DisableZTLS

	fd, err := fastdialer.NewDialer(opts)
	if err != nil {
		return nil, fmt.Errorf("pool/dialer: fastdialer init: %w", err)
	}
	return &Dialer{fd: fd, cfg: cfg}, nil
}

func (d *Dialer) Close() {
	d.fd.Close()
}

// DialPlain opens a TCP connection for HTTP/1.1-only hosts (scheme "http").
func (d *Dialer) DialPlain(ctx context.Context, addr string) (net.Conn, error) {
	return d.fd.Dial(ctx, "tcp", addr)
}

// NegotiatedConn is a TLS connection paired with the protocol ALPN settled
// on, so the pool knows whether to hand it to an H1 or H2 PooledConnection.
type NegotiatedConn struct {
	Conn     net.Conn
	Protocol string // "h2" or "http/1.1"
}

// DialTLSNegotiated connects, performs the TLS handshake with SNI set from
// addr's host and advertises both h2 and http/1.1 in ALPN, returning
// whichever the peer selected (spec §4.6: "ALPN negotiation for h2/http/1.1").
func (d *Dialer) DialTLSNegotiated(ctx context.Context, addr string) (*NegotiatedConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	rawConn, err := d.fd.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: d.cfg.TLSMinVersion,
		MaxVersion: d.cfg.TLSMaxVersion,
	})
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("pool/dialer: tls handshake to %s: %w", addr, err)
	}
	_ = tlsConn.SetDeadline(time.Time{})
	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = "http/1.1"
	}
	return &NegotiatedConn{Conn: tlsConn, Protocol: proto}, nil
}
