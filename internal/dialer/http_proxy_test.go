package dialer

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/die-net/oneshot/internal/testutil"
)

// serveCONNECT answers one CONNECT request on c and splices it to the target.
// If wantAuth is non-empty the request must carry it as Proxy-Authorization.
func serveCONNECT(ctx context.Context, c net.Conn, wantAuth string) {
	br := bufio.NewReader(c)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()
	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(c, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		return
	}
	if wantAuth != "" && req.Header.Get("Proxy-Authorization") != wantAuth {
		_, _ = io.WriteString(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
		return
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Host)
	if err != nil {
		_, _ = io.WriteString(c, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer dst.Close()

	_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n")

	go func() {
		_, _ = io.Copy(dst, br)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}

func TestHTTPProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		wantAuth string
	}{
		{name: "no_auth"},
		{name: "basic_auth", user: "user", pass: "pass", wantAuth: "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn, stopEcho := testutil.StartEchoTCPServer(ctx, t)
			defer stopEcho()

			upLn, waitUp := testutil.StartSingleAcceptServer(ctx, t, func(c net.Conn) {
				serveCONNECT(ctx, c, tt.wantAuth)
			})

			d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, &url.URL{Scheme: "http", Host: upLn.Addr().String()}, tt.user, tt.pass)
			if err != nil {
				t.Fatal(err)
			}

			conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestHTTPProxyDialerDialNon2xx(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(ctx, t, func(c net.Conn) {
		serveCONNECT(ctx, c, "Basic never")
	})

	d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, &url.URL{Scheme: "http", Host: upLn.Addr().String()}, "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}

	waitUp()
}

func TestHTTPProxyDialerBufferedReply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A proxy that pipelines upstream bytes right behind the CONNECT response.
	upLn, waitUp := testutil.StartSingleAcceptServer(ctx, t, func(c net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(c))
		if err != nil {
			return
		}
		_ = req.Body.Close()
		_, _ = io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\nbanner")
	})

	d, err := NewHTTPProxyDialer(Config{DialTimeout: 2 * time.Second}, &url.URL{Scheme: "http", Host: upLn.Addr().String()}, "", "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := d.DialContext(ctx, "tcp", "upstream.example:80")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	buf := make([]byte, len("banner"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "banner" {
		t.Fatalf("expected %q got %q", "banner", string(buf))
	}

	waitUp()
}

func TestNewHTTPProxyDialerInvalid(t *testing.T) {
	t.Parallel()

	for _, u := range []*url.URL{nil, {Scheme: "http"}, {Scheme: "socks5", Host: "proxy.example:1080"}} {
		if _, err := NewHTTPProxyDialer(Config{}, u, "", ""); err == nil {
			t.Fatalf("expected error for %v", u)
		}
	}
}
