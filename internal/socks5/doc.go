// Package socks5 wraps the wire types in github.com/txthinking/socks5 with
// the handshake steps oneshot needs: a client CONNECT for reaching the
// upstream through a SOCKS5 proxy, and the matching server side used to
// stand up a proxy in tests.
package socks5
