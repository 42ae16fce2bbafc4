package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/die-net/oneshot/internal/socks5"
)

// SOCKS5ProxyDialer reaches the upstream through a SOCKS5 proxy using the
// CONNECT command.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a SOCKS5 dialer for the proxy at proxyAddr.
// Username/password authentication is offered when username is non-empty.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(cfg),
	}
}

// DialContext connects to the proxy and negotiates a CONNECT to address.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := socks5.ClientDial(c, d.auth, address); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	if !stop() {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, ctx.Err())
	}

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return c, nil
}
