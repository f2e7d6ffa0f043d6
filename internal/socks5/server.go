package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the SOCKS5 CONNECT command value.
const CmdConnect = txsocks5.CmdConnect

// ErrAddressNotSupported reports a request carrying an address type outside
// IPv4, domain and IPv6.
var ErrAddressNotSupported = errors.New("address type not supported")

// Request is a parsed SOCKS5 request.
type Request struct {
	Cmd  byte
	Atyp byte
	Host string
	Port uint16
}

// Target returns the destination as a dialable host:port string.
func (r *Request) Target() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// ServerNegotiateNoAuth performs server-side method negotiation, accepting
// only "no authentication required".
func ServerNegotiateNoAuth(conn net.Conn) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if !containsMethod(neg.Methods, txsocks5.MethodNone) {
		writeNoAcceptableMethods(conn)
		return errors.New("client does not support no-auth")
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// ServerReadRequest reads and parses the request following negotiation.
// An unrecognized address type surfaces as ErrAddressNotSupported so the
// caller can send the matching failure reply.
func ServerReadRequest(conn net.Conn) (*Request, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, fmt.Errorf("request header: %w", err)
	}
	if hdr[0] != txsocks5.Ver {
		return nil, fmt.Errorf("unsupported version %d", hdr[0])
	}

	req := &Request{Cmd: hdr[1], Atyp: hdr[3]}

	host, err := readAddr(conn, req.Atyp)
	if err != nil {
		return nil, err
	}

	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBytes); err != nil {
		return nil, fmt.Errorf("request port: %w", err)
	}

	req.Host = host
	req.Port = binary.BigEndian.Uint16(portBytes)
	return req, nil
}

func readAddr(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case txsocks5.ATYPIPv4:
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("ipv4 address: %w", err)
		}
		return net.IP(b).String(), nil
	case txsocks5.ATYPDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return "", fmt.Errorf("domain length: %w", err)
		}
		b := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("domain: %w", err)
		}
		return string(b), nil
	case txsocks5.ATYPIPv6:
		b := make([]byte, 16)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("ipv6 address: %w", err)
		}
		return net.IP(b).String(), nil
	default:
		return "", ErrAddressNotSupported
	}
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

func writeNoAcceptableMethods(conn net.Conn) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
}
