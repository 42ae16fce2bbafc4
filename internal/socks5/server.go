package socks5

import (
	"fmt"
	"io"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ServerNegotiate reads the client's method list and runs the auth exchange.
// An empty auth.Username accepts only no-auth clients.
func ServerNegotiate(rw io.ReadWriter, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(rw)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if auth.Username == "" {
		if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
			writeNoAcceptableMethods(rw)
			return ErrNoAcceptableAuth
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(rw); err != nil {
			return fmt.Errorf("negotiation reply: %w", err)
		}
		return nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
		writeNoAcceptableMethods(rw)
		return ErrNoAcceptableAuth
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(rw); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(rw)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(rw)
		return ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(rw); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	return nil
}

// ServerReadRequest reads the client's command request.
func ServerReadRequest(r io.Reader) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(r)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

func writeNoAcceptableMethods(w io.Writer) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(w)
}
