// Package dialer provides the outbound route from oneshot to its upstream.
//
// The upstream is a fixed host:port; a Dialer decides how it is reached,
// either directly or through an HTTP CONNECT or SOCKS5 proxy.
package dialer
