package proxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/oneshot/internal/dialer"
)

const (
	DefaultListenPort   = 55555
	DefaultUpstreamPort = 80
	DefaultBufferSize   = 4096
)

// ErrInvalidConfig is wrapped by every error returned from Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config describes one listener and the upstream it relays to. It is
// copied by NewListener and NewForwarder and never mutated afterwards.
type Config struct {
	// ListenAddr is the bind address; empty means all interfaces.
	ListenAddr string
	// ListenPort is the bind port; zero picks an ephemeral port.
	ListenPort int

	UpstreamAddr string
	UpstreamPort int

	// BufferSize caps every single read, both the client's initial payload
	// and the upstream reply. Longer data is truncated.
	BufferSize int

	// IOTimeout bounds each read and write on either side of a session.
	// Zero disables deadlines.
	IOTimeout time.Duration

	// MaxSessions bounds the number of sessions in flight. Zero means
	// unbounded, one goroutine per accepted connection.
	MaxSessions int

	// StopOnEmpty makes the listener stop accepting when a client closes
	// without sending anything. When false only that connection is closed.
	StopOnEmpty bool

	KeepAlive net.KeepAliveConfig

	// Dialer reaches the upstream. Nil means a direct dialer.
	Dialer dialer.Dialer

	// Logger receives lifecycle and per-session events. Nil disables logging.
	Logger *zap.Logger
}

// ListenAddress returns the host:port the listener binds to.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.ListenPort))
}

// UpstreamAddress returns the host:port every session is relayed to.
func (c Config) UpstreamAddress() string {
	return net.JoinHostPort(c.UpstreamAddr, strconv.Itoa(c.UpstreamPort))
}

// Validate checks that c describes a usable listener.
func (c Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrInvalidConfig, c.ListenPort)
	}
	if c.UpstreamAddr == "" {
		return fmt.Errorf("%w: upstream address is required", ErrInvalidConfig)
	}
	if c.UpstreamPort <= 0 || c.UpstreamPort > 65535 {
		return fmt.Errorf("%w: upstream port %d out of range", ErrInvalidConfig, c.UpstreamPort)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be > 0", ErrInvalidConfig)
	}
	if c.IOTimeout < 0 {
		return fmt.Errorf("%w: io timeout must be >= 0", ErrInvalidConfig)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max sessions must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) dialer() dialer.Dialer {
	if c.Dialer == nil {
		return dialer.NewDirectDialer(dialer.Config{KeepAlive: c.KeepAlive})
	}
	return c.Dialer
}
