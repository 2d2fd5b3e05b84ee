package nat

import (
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Protocol discriminant (spec §3: "tuple variants, protocol-tagged sum")
// -------------------------------------------------------------------------

// Protocol identifies which of the three NAT'd protocols a Tuple or
// Mapping belongs to. UDP and TCP tuples share an identical shape (src/dst
// IP and port); ICMP reuses the SrcPort field to carry the Echo
// Identifier and leaves DstPort unused. Keeping one Tuple shape with a
// Protocol discriminant -- rather than three near-identical struct types
// behind an interface -- is the tagged-sum the spec calls for without
// introducing a distinction the data never needs.
type Protocol uint8

const (
	// ProtocolUDP tags a UdpTuple (spec §3).
	ProtocolUDP Protocol = iota + 1

	// ProtocolTCP tags a TcpTuple (spec §3).
	ProtocolTCP

	// ProtocolICMP tags an IcmpTuple (spec §3); SrcPort carries the Echo
	// Identifier and DstPort is unused (RFC 5508).
	ProtocolICMP
)

// String returns the human-readable protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "UDP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolICMP:
		return "ICMP"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// ipProtocolNumber returns the IPv4 protocol field value for p.
func (p Protocol) ipProtocolNumber() uint8 {
	switch p {
	case ProtocolUDP:
		return ipProtoUDP
	case ProtocolTCP:
		return ipProtoTCP
	case ProtocolICMP:
		return ipProtoICMP
	default:
		return 0
	}
}

// protocolFromIPNumber maps an IPv4 protocol field value back to a
// Protocol, returning ok=false for anything not NAT'd by this engine.
func protocolFromIPNumber(n uint8) (Protocol, bool) {
	switch n {
	case ipProtoUDP:
		return ProtocolUDP, true
	case ipProtoTCP:
		return ProtocolTCP, true
	case ipProtoICMP:
		return ProtocolICMP, true
	default:
		return 0, false
	}
}

// -------------------------------------------------------------------------
// Tuple — the 5-tuple (spec §3, §GLOSSARY)
// -------------------------------------------------------------------------

// Tuple is the protocol-tagged 5-tuple used throughout the table and
// engine. For ICMP, SrcPort carries the Echo Identifier (spec §3 "ICMP
// tuple ... identifier field reserved for future use" -- implemented here,
// see SPEC_FULL §3) and DstPort is always zero and ignored.
//
// Addresses are held as netip.Addr rather than the spec's raw u32 --
// wire-order conversion still happens only at the PKT parse/emit
// boundary, matching the spec's byte-order invariant, but the in-memory
// representation follows the rest of this codebase's netip.Addr usage.
type Tuple struct {
	Protocol Protocol
	SrcIP    netip.Addr
	SrcPort  uint16
	DstIP    netip.Addr
	DstPort  uint16
}

// String renders the tuple as "proto src -> dst" for logging.
func (t Tuple) String() string {
	if t.Protocol == ProtocolICMP {
		return fmt.Sprintf("ICMP %s(id=%d) -> %s", t.SrcIP, t.SrcPort, t.DstIP)
	}
	return fmt.Sprintf("%s %s:%d -> %s:%d", t.Protocol, t.SrcIP, t.SrcPort, t.DstIP, t.DstPort)
}
