package netio

import "errors"

// ErrUnknownInterface indicates Send was called for an interface with no
// open raw socket.
var ErrUnknownInterface = errors.New("netio: no raw socket bound for interface")

// RawEmitter transmits a fully rewritten IPv4 datagram out a named
// interface, bypassing the kernel's routing/NAT stack the way the engine's
// own rewrite already performed the translation (spec §6: "raw-socket
// transmit, one socket per outbound interface, IP_HDRINCL").
type RawEmitter interface {
	// Send writes buf, a complete IPv4 datagram including header, out
	// ifName.
	Send(ifName string, buf []byte) error

	// Close releases all open sockets.
	Close() error
}
