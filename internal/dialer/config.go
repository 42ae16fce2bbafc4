package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect to the first hop.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the proxy handshake, if any. It is cleared
	// once the tunnel to the upstream is established.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
