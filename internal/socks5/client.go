package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial negotiates auth on rw and asks the proxy to CONNECT to address.
// On success rw carries raw bytes to and from address.
func ClientDial(rw io.ReadWriter, auth Auth, address string) error {
	if err := ClientNegotiate(rw, auth); err != nil {
		return err
	}
	return ClientConnect(rw, address)
}

func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(rw); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return fmt.Errorf("%w: server requires username/password", ErrNoAcceptableAuth)
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(rw); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
		return nil
	case 0xff:
		return ErrNoAcceptableAuth
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedMethod, neg.Method)
	}
}

func ClientConnect(rw io.ReadWriter, address string) error {
	atyp, addr, port, err := parseAddress(address)
	if err != nil {
		return err
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port).WriteTo(rw); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("%w: reply code %d", ErrConnectFailed, rep.Rep)
	}
	return nil
}
