package nat

import (
	"encoding/binary"
	"net/netip"
)

// IPv4 protocol numbers used to build pseudo-headers and demux packets.
const (
	ipProtoICMP uint8 = 1
	ipProtoTCP  uint8 = 6
	ipProtoUDP  uint8 = 17
)

// sum16 computes the running one's-complement sum of b as 16-bit
// big-endian words, per RFC 1071. An odd trailing byte is treated as the
// high byte of a final word (implicit zero-padding), matching the
// pseudo-header + segment concatenation contract in spec §4.1.
func sum16(b []byte) uint32 {
	var sum uint32

	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}

	return sum
}

// foldSum folds carries out of the 32-bit accumulator until it fits in 16
// bits (RFC 1071 §4.1).
func foldSum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// onesComplementChecksum folds and complements sum, returning the value to
// store in a checksum field (RFC 1071 §4.1: "the checksum field ... is the
// 16 bit one's complement of the one's complement sum").
func onesComplementChecksum(sum uint32) uint16 {
	return ^foldSum(sum)
}

// ipv4Checksum computes the IPv4 header checksum over the first
// headerLen bytes of buf, with the checksum field (offset 10) treated as
// zero, per spec §4.1.
func ipv4Checksum(buf []byte, headerLen int) uint16 {
	var sum uint32

	for i := 0; i+1 < headerLen; i += 2 {
		if i == ipv4ChecksumOffset {
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(buf[i : i+2]))
	}

	return onesComplementChecksum(sum)
}

// pseudoHeaderSum computes the running sum of the IPv4 pseudo-header used
// by UDP and TCP checksums (RFC 768 §, RFC 793 §3.1): src IP, dst IP, a
// zero byte, the protocol number, and the transport-layer length.
func pseudoHeaderSum(srcIP, dstIP netip.Addr, protocol uint8, length uint16) uint32 {
	var hdr [12]byte

	src4 := srcIP.As4()
	dst4 := dstIP.As4()
	copy(hdr[0:4], src4[:])
	copy(hdr[4:8], dst4[:])
	hdr[8] = 0
	hdr[9] = protocol
	binary.BigEndian.PutUint16(hdr[10:12], length)

	return sum16(hdr[:])
}

// udpChecksumOffset is the byte offset of the UDP checksum field within
// the UDP header.
const udpChecksumOffset = 6

// udpChecksum computes the UDP checksum over segment (UDP header +
// payload), per spec §4.1: pseudo-header + segment with the checksum
// field zeroed. RFC 768: a computed value of zero is transmitted as
// 0xFFFF since zero means "no checksum" on the wire.
func udpChecksum(srcIP, dstIP netip.Addr, segment []byte) uint16 {
	saved := binary.BigEndian.Uint16(segment[udpChecksumOffset : udpChecksumOffset+2])
	binary.BigEndian.PutUint16(segment[udpChecksumOffset:udpChecksumOffset+2], 0)

	//nolint:gosec // G115: segment length is bounded by the IPv4 total-length field validated at parse time.
	sum := pseudoHeaderSum(srcIP, dstIP, ipProtoUDP, uint16(len(segment))) + sum16(segment)
	cksum := onesComplementChecksum(sum)
	if cksum == 0 {
		cksum = 0xFFFF
	}

	binary.BigEndian.PutUint16(segment[udpChecksumOffset:udpChecksumOffset+2], saved)

	return cksum
}

// tcpChecksumOffset is the byte offset of the TCP checksum field within
// the TCP header.
const tcpChecksumOffset = 16

// tcpChecksum computes the TCP checksum over segment (TCP header +
// payload), per spec §4.1: "analogous [to UDP], using protocol=6 and the
// full TCP segment length. The source omits this; implementations MUST
// implement it" (spec §9).
func tcpChecksum(srcIP, dstIP netip.Addr, segment []byte) uint16 {
	saved := binary.BigEndian.Uint16(segment[tcpChecksumOffset : tcpChecksumOffset+2])
	binary.BigEndian.PutUint16(segment[tcpChecksumOffset:tcpChecksumOffset+2], 0)

	//nolint:gosec // G115: segment length is bounded by the IPv4 total-length field validated at parse time.
	sum := pseudoHeaderSum(srcIP, dstIP, ipProtoTCP, uint16(len(segment))) + sum16(segment)
	cksum := onesComplementChecksum(sum)

	binary.BigEndian.PutUint16(segment[tcpChecksumOffset:tcpChecksumOffset+2], saved)

	return cksum
}

// icmpChecksumOffset is the byte offset of the ICMP checksum field.
const icmpChecksumOffset = 2

// icmpChecksum computes the ICMP checksum over the whole ICMP message
// (RFC 792): no pseudo-header, just a plain RFC 1071 sum with the
// checksum field zeroed (SPEC_FULL §4.1).
func icmpChecksum(message []byte) uint16 {
	saved := binary.BigEndian.Uint16(message[icmpChecksumOffset : icmpChecksumOffset+2])
	binary.BigEndian.PutUint16(message[icmpChecksumOffset:icmpChecksumOffset+2], 0)

	cksum := onesComplementChecksum(sum16(message))

	binary.BigEndian.PutUint16(message[icmpChecksumOffset:icmpChecksumOffset+2], saved)

	return cksum
}
