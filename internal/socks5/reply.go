package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the SOCKS5 CONNECT command value.
const CmdConnect = txsocks5.CmdConnect

var (
	ErrAuthFailed        = errors.New("socks5: authentication failed")
	ErrNoAcceptableAuth  = errors.New("socks5: no acceptable authentication method")
	ErrConnectFailed     = errors.New("socks5: connect failed")
	ErrUnsupportedMethod = errors.New("socks5: unsupported negotiation method")
)

// Auth configures optional username/password authentication. The zero value
// means no authentication.
type Auth struct {
	Username string
	Password string
}

// WriteConnectionRefusedReply writes a reply telling the client the
// destination refused the connection.
func WriteConnectionRefusedReply(w io.Writer, atyp byte) error {
	_, err := zeroAddrReply(txsocks5.RepConnectionRefused, atyp).WriteTo(w)
	return err
}

// WriteCommandNotSupportedReply writes a reply rejecting a non-CONNECT command.
func WriteCommandNotSupportedReply(w io.Writer, atyp byte) error {
	_, err := zeroAddrReply(txsocks5.RepCommandNotSupported, atyp).WriteTo(w)
	return err
}

// WriteSuccessReply writes a success reply carrying bound as BND.ADDR.
func WriteSuccessReply(w io.Writer, bound net.Addr) error {
	atyp, addr, port, err := parseAddress(bound.String())
	if err != nil {
		return err
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

// parseAddress converts host:port to SOCKS5 wire form with the domain length
// prefix stripped, as the reply and request constructors expect.
func parseAddress(address string) (atyp byte, addr, port []byte, err error) {
	atyp, addr, port, err = txsocks5.ParseAddress(address)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("parse address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	return atyp, addr, port, nil
}

func zeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
