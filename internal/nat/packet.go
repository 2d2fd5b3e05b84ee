package nat

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// IPv4 fixed-header byte offsets (RFC 791 §3.1). Options, when IHL > 5,
// follow immediately after byte 20 and are left untouched by this package.
const (
	ipv4VersionIHLOffset   = 0
	ipv4TotalLengthOffset  = 2
	ipv4FlagsFragOffOffset = 6
	ipv4TTLOffset          = 8
	ipv4ProtocolOffset     = 9
	ipv4ChecksumOffset     = 10
	ipv4SrcAddrOffset      = 12
	ipv4DstAddrOffset      = 16
	ipv4MinHeaderLen       = 20
)

// Transport-layer fixed-header byte offsets.
const (
	udpSrcPortOffset  = 0
	udpDstPortOffset  = 2
	udpHeaderLen      = 8
	tcpSrcPortOffset  = 0
	tcpDstPortOffset  = 2
	tcpMinHeaderLen   = 20
	icmpTypeOffset    = 0
	icmpIdentOffset   = 4
	icmpMinHeaderLen  = 8
	icmpEchoRequest   = 8
	icmpEchoReply     = 0
)

// Packet wraps a raw IPv4 datagram and the interfaces it was received on
// or is to be sent out of. It owns the buffer: field accessors read and
// write directly into buf, and SetTuple recomputes every checksum the
// rewrite invalidates (spec §4.1).
type Packet struct {
	buf []byte

	inIface  string
	outIface string
}

// NewPacket parses buf as an IPv4 datagram, validating the invariants the
// rest of the package depends on: IHL >= 5 and the declared total length
// fits within buf (spec §4.1 "malformed packet" edge case). buf is not
// copied; the caller must not reuse it while the Packet is in use.
func NewPacket(buf []byte, inIface string) (*Packet, error) {
	if len(buf) < ipv4MinHeaderLen {
		return nil, fmt.Errorf("%w: buffer too short for IPv4 header (%d bytes)", ErrMalformedPacket, len(buf))
	}

	versionIHL := buf[ipv4VersionIHLOffset]
	version := versionIHL >> 4
	ihl := int(versionIHL&0x0f) * 4

	if version != 4 {
		return nil, fmt.Errorf("%w: IP version %d, expected 4", ErrMalformedPacket, version)
	}
	if ihl < ipv4MinHeaderLen {
		return nil, fmt.Errorf("%w: IHL %d below minimum header length", ErrMalformedPacket, ihl)
	}
	if len(buf) < ihl {
		return nil, fmt.Errorf("%w: buffer shorter than declared IHL (%d < %d)", ErrMalformedPacket, len(buf), ihl)
	}

	totalLen := int(binary.BigEndian.Uint16(buf[ipv4TotalLengthOffset : ipv4TotalLengthOffset+2]))
	if totalLen > len(buf) {
		return nil, fmt.Errorf("%w: declared total length %d exceeds buffer of %d bytes", ErrMalformedPacket, totalLen, len(buf))
	}

	return &Packet{buf: buf[:totalLen], inIface: inIface}, nil
}

// headerLen returns the IPv4 header length in bytes (IHL * 4).
func (p *Packet) headerLen() int {
	return int(p.buf[ipv4VersionIHLOffset]&0x0f) * 4
}

// Protocol returns the packet's transport protocol, or ok=false for any
// protocol this engine does not NAT (spec §4.1 "unsupported protocol"
// edge case -- callers forward or drop such packets unchanged).
func (p *Packet) Protocol() (Protocol, bool) {
	return protocolFromIPNumber(p.buf[ipv4ProtocolOffset])
}

// TTL returns the IPv4 time-to-live field.
func (p *Packet) TTL() uint8 {
	return p.buf[ipv4TTLOffset]
}

// SetTTL overwrites the TTL field and recomputes the IPv4 header
// checksum. TTL decrement is a forwarding-plane concern the engine
// leaves to the caller (spec §9, Non-goal: "no IP-layer forwarding
// beyond address/port rewrite").
func (p *Packet) SetTTL(ttl uint8) {
	p.buf[ipv4TTLOffset] = ttl
	p.recomputeIPv4Checksum()
}

// DontFragment reports the IPv4 Don't Fragment flag.
func (p *Packet) DontFragment() bool {
	flagsFragOff := binary.BigEndian.Uint16(p.buf[ipv4FlagsFragOffOffset : ipv4FlagsFragOffOffset+2])
	return flagsFragOff&0x4000 != 0
}

// InboundInterface returns the interface name the packet arrived on, as
// supplied to NewPacket.
func (p *Packet) InboundInterface() string {
	return p.inIface
}

// OutboundInterface returns the interface name set by SetOutboundInterface,
// or "" if none has been set yet.
func (p *Packet) OutboundInterface() string {
	return p.outIface
}

// SetOutboundInterface records which interface the packet should be
// emitted on. It does not touch the buffer.
func (p *Packet) SetOutboundInterface(name string) {
	p.outIface = name
}

// Bytes returns the packet's raw buffer for emission.
func (p *Packet) Bytes() []byte {
	return p.buf
}

// GetTuple extracts the packet's 5-tuple. The caller is responsible for
// checking Protocol first; GetTuple panics if the packet is not one of
// the three NAT'd protocols, since every call site already branches on
// Protocol() before reaching here.
func (p *Packet) GetTuple() Tuple {
	proto, ok := p.Protocol()
	if !ok {
		panic("nat: GetTuple called on a packet with an unsupported protocol")
	}

	hl := p.headerLen()
	srcIP := addrFromBytes(p.buf[ipv4SrcAddrOffset : ipv4SrcAddrOffset+4])
	dstIP := addrFromBytes(p.buf[ipv4DstAddrOffset : ipv4DstAddrOffset+4])
	transport := p.buf[hl:]

	switch proto {
	case ProtocolUDP:
		return Tuple{
			Protocol: ProtocolUDP,
			SrcIP:    srcIP,
			SrcPort:  binary.BigEndian.Uint16(transport[udpSrcPortOffset : udpSrcPortOffset+2]),
			DstIP:    dstIP,
			DstPort:  binary.BigEndian.Uint16(transport[udpDstPortOffset : udpDstPortOffset+2]),
		}
	case ProtocolTCP:
		return Tuple{
			Protocol: ProtocolTCP,
			SrcIP:    srcIP,
			SrcPort:  binary.BigEndian.Uint16(transport[tcpSrcPortOffset : tcpSrcPortOffset+2]),
			DstIP:    dstIP,
			DstPort:  binary.BigEndian.Uint16(transport[tcpDstPortOffset : tcpDstPortOffset+2]),
		}
	case ProtocolICMP:
		return Tuple{
			Protocol: ProtocolICMP,
			SrcIP:    srcIP,
			SrcPort:  binary.BigEndian.Uint16(transport[icmpIdentOffset : icmpIdentOffset+2]),
			DstIP:    dstIP,
		}
	default:
		panic("nat: unreachable protocol branch")
	}
}

// IsICMPEcho reports whether the packet is an ICMP Echo Request or Echo
// Reply, the only two ICMP types this engine NATs via the identifier
// field (RFC 5508 §3.1).
func (p *Packet) IsICMPEcho() bool {
	hl := p.headerLen()
	if len(p.buf) < hl+icmpMinHeaderLen {
		return false
	}
	t := p.buf[hl+icmpTypeOffset]
	return t == icmpEchoRequest || t == icmpEchoReply
}

// SetTuple rewrites the packet's IPv4 addresses and transport ports to
// match t, then recomputes the IPv4 header checksum and the
// transport-layer checksum (spec §4.1: "any address/port rewrite MUST
// recompute the affected checksums").
func (p *Packet) SetTuple(t Tuple) {
	src4 := t.SrcIP.As4()
	dst4 := t.DstIP.As4()
	copy(p.buf[ipv4SrcAddrOffset:ipv4SrcAddrOffset+4], src4[:])
	copy(p.buf[ipv4DstAddrOffset:ipv4DstAddrOffset+4], dst4[:])
	p.recomputeIPv4Checksum()

	hl := p.headerLen()
	transport := p.buf[hl:]

	switch t.Protocol {
	case ProtocolUDP:
		binary.BigEndian.PutUint16(transport[udpSrcPortOffset:udpSrcPortOffset+2], t.SrcPort)
		binary.BigEndian.PutUint16(transport[udpDstPortOffset:udpDstPortOffset+2], t.DstPort)
		cksum := udpChecksum(t.SrcIP, t.DstIP, transport)
		binary.BigEndian.PutUint16(transport[udpChecksumOffset:udpChecksumOffset+2], cksum)
	case ProtocolTCP:
		binary.BigEndian.PutUint16(transport[tcpSrcPortOffset:tcpSrcPortOffset+2], t.SrcPort)
		binary.BigEndian.PutUint16(transport[tcpDstPortOffset:tcpDstPortOffset+2], t.DstPort)
		cksum := tcpChecksum(t.SrcIP, t.DstIP, transport)
		binary.BigEndian.PutUint16(transport[tcpChecksumOffset:tcpChecksumOffset+2], cksum)
	case ProtocolICMP:
		binary.BigEndian.PutUint16(transport[icmpIdentOffset:icmpIdentOffset+2], t.SrcPort)
		cksum := icmpChecksum(transport)
		binary.BigEndian.PutUint16(transport[icmpChecksumOffset:icmpChecksumOffset+2], cksum)
	}
}

// recomputeIPv4Checksum recomputes and stores the IPv4 header checksum.
func (p *Packet) recomputeIPv4Checksum() {
	hl := p.headerLen()
	cksum := ipv4Checksum(p.buf, hl)
	binary.BigEndian.PutUint16(p.buf[ipv4ChecksumOffset:ipv4ChecksumOffset+2], cksum)
}

// addrFromBytes builds a netip.Addr from a 4-byte big-endian IPv4 address.
func addrFromBytes(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}
