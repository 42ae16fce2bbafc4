// Package proxy implements the oneshot listener and forwarder.
//
// A Listener accepts TCP connections, reads the client's first payload and
// hands each session to a Forwarder running in its own goroutine. The
// Forwarder performs exactly one round trip against the fixed upstream:
// it sends the payload, reads at most one reply and relays it back to the
// client. Nothing is tunneled and no connection is reused.
package proxy
