// Package testutil holds loopback peers shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
)

// StartEchoTCPServer starts a loopback upstream that, for every accepted
// connection, reads once and writes back what it read. It is stopped by
// the returned func, which also waits for in-flight handlers.
func StartEchoTCPServer(ctx context.Context, t *testing.T) (net.Listener, func()) {
	t.Helper()

	return StartTCPServer(ctx, t, func(c net.Conn) {
		buf := make([]byte, 64*1024)
		n, err := c.Read(buf)
		if n == 0 || (err != nil && err != io.EOF) {
			return
		}
		_, _ = c.Write(buf[:n])
	})
}

// StartTCPServer serves every accepted connection with handler in its own
// goroutine and closes the connection when handler returns.
func StartTCPServer(ctx context.Context, t *testing.T, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.Close()
				handler(c)
			}()
		}
	}()

	stop := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, stop
}

// AssertEcho writes msg to w and expects exactly msg back from r.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg []byte) {
	t.Helper()

	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("expected %q got %q", string(msg), string(buf))
	}
}
