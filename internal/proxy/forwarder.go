package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/die-net/oneshot/internal/dialer"
)

// Forwarder performs one upstream round trip per call to Forward.
type Forwarder struct {
	dialer     dialer.Dialer
	upstream   string
	bufferSize int
	ioTimeout  time.Duration
	pool       *bufferPool
}

// NewForwarder returns a Forwarder relaying to cfg.UpstreamAddress(). cfg is
// expected to have passed Validate.
func NewForwarder(cfg Config) *Forwarder {
	return newForwarder(cfg, newBufferPool(cfg.BufferSize))
}

func newForwarder(cfg Config, pool *bufferPool) *Forwarder {
	return &Forwarder{
		dialer:     cfg.dialer(),
		upstream:   cfg.UpstreamAddress(),
		bufferSize: cfg.BufferSize,
		ioTimeout:  cfg.IOTimeout,
		pool:       pool,
	}
}

// Upstream returns the host:port this Forwarder dials.
func (f *Forwarder) Upstream() string {
	return f.upstream
}

// Forward opens one connection to the upstream, sends payload, reads at most
// one reply of up to the buffer size and writes it unchanged to client. It
// returns the number of reply bytes relayed.
//
// An upstream that closes without replying is not an error: Forward returns
// (0, nil) without touching client. Both client and the upstream connection
// are closed before Forward returns.
func (f *Forwarder) Forward(ctx context.Context, client net.Conn, payload []byte) (int, error) {
	defer client.Close()

	if len(payload) > f.bufferSize {
		payload = payload[:f.bufferSize]
	}

	up, err := f.dialer.DialContext(ctx, "tcp", f.upstream)
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", f.upstream, err)
	}
	defer up.Close()

	// Unblock any pending I/O if the session is canceled.
	stop := context.AfterFunc(ctx, func() {
		_ = up.Close()
		_ = client.Close()
	})
	defer stop()

	f.setDeadline(up)
	if _, err := up.Write(payload); err != nil {
		return 0, fmt.Errorf("send %s: %w", f.upstream, err)
	}

	reply := f.pool.Get()
	defer f.pool.Put(reply)

	f.setDeadline(up)
	n, err := up.Read(reply)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("receive %s: %w", f.upstream, err)
	}

	f.setDeadline(client)
	if _, err := client.Write(reply[:n]); err != nil {
		return 0, fmt.Errorf("relay to %s: %w", client.RemoteAddr(), err)
	}
	return n, nil
}

func (f *Forwarder) setDeadline(c net.Conn) {
	if f.ioTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.ioTimeout))
	}
}
