package nat

import (
	"encoding/binary"
	"net/netip"
	"testing"
)

func TestSum16EvenOdd(t *testing.T) {
	t.Parallel()

	even := []byte{0x00, 0x01, 0x00, 0x02}
	if got := sum16(even); got != 3 {
		t.Fatalf("sum16(even) = %d, want 3", got)
	}

	odd := []byte{0x00, 0x01, 0xff}
	// 0x0001 + 0xff00 = 0xff01
	if got := sum16(odd); got != 0xff01 {
		t.Fatalf("sum16(odd) = %#x, want 0xff01", got)
	}
}

func TestFoldSumCarries(t *testing.T) {
	t.Parallel()

	// 0x1FFFF folds to (0xFFFF + 0x1) = 0x10000 -> fold again -> 0x0001.
	if got := foldSum(0x1FFFF); got != 0x0001 {
		t.Fatalf("foldSum(0x1FFFF) = %#x, want 0x0001", got)
	}
}

func TestUDPChecksumZeroBecomesAllOnes(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	// Construct a UDP segment whose checksum computes to 0, forcing the
	// RFC 768 0xFFFF substitution: the pseudo-header sums to 0x141c, and
	// 0x141c + 0xebda (src port) + 0x0001 (dst port) + 0x0008 (length)
	// folds to 0xFFFF, whose complement is 0.
	segment := make([]byte, 8)
	binary.BigEndian.PutUint16(segment[udpSrcPortOffset:], 0xebda)
	binary.BigEndian.PutUint16(segment[udpDstPortOffset:], 1)
	binary.BigEndian.PutUint16(segment[4:], 8)

	cksum := udpChecksum(src, dst, segment)
	if cksum != 0xFFFF {
		t.Fatalf("udpChecksum = %#x, want 0xFFFF substitution for a zero checksum", cksum)
	}
}

func TestUDPChecksumRoundTrip(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("192.168.1.10")
	dst := netip.MustParseAddr("203.0.113.5")

	segment := make([]byte, 12)
	binary.BigEndian.PutUint16(segment[udpSrcPortOffset:], 5000)
	binary.BigEndian.PutUint16(segment[udpDstPortOffset:], 53)
	binary.BigEndian.PutUint16(segment[4:], 12)
	copy(segment[8:], []byte{0xde, 0xad, 0xbe, 0xef})

	cksum := udpChecksum(src, dst, segment)
	binary.BigEndian.PutUint16(segment[udpChecksumOffset:], cksum)

	// Verifying a correct checksum: pseudo-header + segment (with the
	// checksum field included this time) must fold to 0xFFFF.
	sum := pseudoHeaderSum(src, dst, ipProtoUDP, uint16(len(segment))) + sum16(segment)
	if foldSum(sum) != 0xFFFF {
		t.Fatalf("checksum did not verify: folded sum = %#x, want 0xFFFF", foldSum(sum))
	}
}

func TestTCPChecksumVerifies(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.1.1.1")
	dst := netip.MustParseAddr("10.1.1.2")

	segment := make([]byte, tcpMinHeaderLen)
	binary.BigEndian.PutUint16(segment[tcpSrcPortOffset:], 443)
	binary.BigEndian.PutUint16(segment[tcpDstPortOffset:], 51000)

	cksum := tcpChecksum(src, dst, segment)
	binary.BigEndian.PutUint16(segment[tcpChecksumOffset:], cksum)

	sum := pseudoHeaderSum(src, dst, ipProtoTCP, uint16(len(segment))) + sum16(segment)
	if foldSum(sum) != 0xFFFF {
		t.Fatalf("TCP checksum did not verify: folded sum = %#x, want 0xFFFF", foldSum(sum))
	}
}

func TestICMPChecksumVerifies(t *testing.T) {
	t.Parallel()

	message := make([]byte, icmpMinHeaderLen+4)
	message[icmpTypeOffset] = icmpEchoRequest
	binary.BigEndian.PutUint16(message[icmpIdentOffset:], 0x1234)
	binary.BigEndian.PutUint16(message[icmpIdentOffset+2:], 1)

	cksum := icmpChecksum(message)
	binary.BigEndian.PutUint16(message[icmpChecksumOffset:], cksum)

	if foldSum(sum16(message)) != 0xFFFF {
		t.Fatalf("ICMP checksum did not verify: folded sum = %#x, want 0xFFFF", foldSum(sum16(message)))
	}
}

func TestIPv4ChecksumVerifies(t *testing.T) {
	t.Parallel()

	buf := make([]byte, ipv4MinHeaderLen)
	buf[ipv4VersionIHLOffset] = 0x45
	binary.BigEndian.PutUint16(buf[ipv4TotalLengthOffset:], 20)
	buf[ipv4TTLOffset] = 64
	buf[ipv4ProtocolOffset] = ipProtoUDP
	copy(buf[ipv4SrcAddrOffset:], []byte{10, 0, 0, 1})
	copy(buf[ipv4DstAddrOffset:], []byte{10, 0, 0, 2})

	cksum := ipv4Checksum(buf, ipv4MinHeaderLen)
	binary.BigEndian.PutUint16(buf[ipv4ChecksumOffset:], cksum)

	if foldSum(sum16(buf[:ipv4MinHeaderLen])) != 0xFFFF {
		t.Fatalf("IPv4 checksum did not verify")
	}
}
