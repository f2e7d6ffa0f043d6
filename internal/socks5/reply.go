package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// WriteSuccessReply writes a SOCKS5 success reply using localAddr as the
// bound address.
func WriteSuccessReply(conn net.Conn, localAddr net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("parse local address %q: %w", localAddr.String(), err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

// WriteGeneralFailureReply writes a SOCKS5 general-failure reply.
func WriteGeneralFailureReply(conn net.Conn) {
	writeZeroAddrReply(conn, txsocks5.RepServerFailure)
}

// WriteHostUnreachableReply writes a SOCKS5 host-unreachable reply.
func WriteHostUnreachableReply(conn net.Conn) {
	writeZeroAddrReply(conn, txsocks5.RepHostUnreachable)
}

// WriteConnectionRefusedReply writes a SOCKS5 reply indicating that the
// destination connection was refused.
func WriteConnectionRefusedReply(conn net.Conn) {
	writeZeroAddrReply(conn, txsocks5.RepConnectionRefused)
}

// WriteCommandNotSupportedReply writes a SOCKS5 reply indicating that the
// requested command is not supported.
func WriteCommandNotSupportedReply(conn net.Conn) {
	writeZeroAddrReply(conn, txsocks5.RepCommandNotSupported)
}

// WriteAddressTypeNotSupportedReply writes a SOCKS5 reply indicating that the
// requested address type is not supported.
func WriteAddressTypeNotSupportedReply(conn net.Conn) {
	writeZeroAddrReply(conn, txsocks5.RepAddressNotSupported)
}

func writeZeroAddrReply(conn net.Conn, rep byte) {
	r := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
	_, _ = r.WriteTo(conn)
}
