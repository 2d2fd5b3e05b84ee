// Package netio implements the kernel packet-queue binding and raw-socket
// transmit path that sit outside the NAT engine's core: a Queue that
// receives packets from an NFQUEUE binding and accepts verdicts, a
// RawEmitter that writes a fully rewritten IPv4 datagram back out on a
// named interface, and an InterfaceResolver that looks up an interface's
// current IPv4 address.
package netio
