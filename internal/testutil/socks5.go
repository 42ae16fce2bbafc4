package testutil

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/die-net/oneshot/internal/socks5"
)

// StartSOCKS5Server starts a loopback SOCKS5 proxy that accepts CONNECT
// requests authenticated with auth and splices them to the destination.
func StartSOCKS5Server(ctx context.Context, t *testing.T, auth socks5.Auth) (net.Listener, func()) {
	t.Helper()

	return StartTCPServer(ctx, t, func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, auth); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		if req.Cmd != socks5.CmdConnect {
			_ = socks5.WriteCommandNotSupportedReply(c, req.Atyp)
			return
		}

		d := net.Dialer{}
		dst, err := d.DialContext(ctx, "tcp", req.Address())
		if err != nil {
			_ = socks5.WriteConnectionRefusedReply(c, req.Atyp)
			return
		}
		defer dst.Close()

		if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = io.Copy(dst, c)
			if tc, ok := dst.(*net.TCPConn); ok {
				_ = tc.CloseWrite()
			}
		}()
		_, _ = io.Copy(c, dst)
		_ = c.Close()
		<-done
	})
}
