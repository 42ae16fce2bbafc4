package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenTCPRebindAfterClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: true})
	require.NoError(t, err)
	addr := ln.Addr().String()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	sc, err := ln.Accept()
	require.NoError(t, err)

	// Closing the accepted side first leaves the port in TIME_WAIT.
	require.NoError(t, sc.Close())
	require.NoError(t, ln.Close())

	ln2, err := ListenTCP(ctx, "tcp", addr, net.KeepAliveConfig{Enable: false})
	require.NoError(t, err)
	require.NoError(t, ln2.Close())
}

func TestListenTCPBindFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := ListenTCP(ctx, "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	require.NoError(t, err)
	defer ln.Close()

	// The port is still owned by a live listener.
	_, err = ListenTCP(ctx, "tcp", ln.Addr().String(), net.KeepAliveConfig{})
	require.Error(t, err)

	_, err = ListenTCP(ctx, "tcp", "127.0.0.1:99999", net.KeepAliveConfig{})
	require.Error(t, err)
}
