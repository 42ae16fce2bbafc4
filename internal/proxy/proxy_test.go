package proxy

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// upstreamConfig returns a Config relaying to the listener at addr.
func upstreamConfig(t *testing.T, addr string) Config {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return Config{
		ListenAddr:   "127.0.0.1",
		UpstreamAddr: host,
		UpstreamPort: p,
		BufferSize:   DefaultBufferSize,
		IOTimeout:    2 * time.Second,
		Logger:       zaptest.NewLogger(t),
	}
}

// startListener serves cfg on a loopback port. The returned channel yields
// Serve's result; cleanup cancels Serve and waits for it.
func startListener(t *testing.T, cfg Config) (string, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	l, err := NewListener(cfg)
	require.NoError(t, err)

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, ln)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return ln.Addr().String(), done
}

// roundTrip sends payload as one write and returns everything the proxy
// sends back before closing the connection.
func roundTrip(t *testing.T, addr string, payload []byte) []byte {
	t.Helper()

	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Write(payload)
	require.NoError(t, err)

	got, err := io.ReadAll(c)
	require.NoError(t, err)
	return got
}

func requireServing(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		t.Fatalf("listener stopped: %v", err)
	default:
	}
}
