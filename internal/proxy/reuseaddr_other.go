//go:build !unix

package proxy

import "syscall"

// SO_REUSEADDR on Windows allows port stealing, so leave the runtime default.
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
