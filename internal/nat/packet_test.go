package nat_test

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gonat/internal/nat"
)

// buildUDPPacket constructs a minimal IPv4+UDP datagram for use as test
// fixture input.
func buildUDPPacket(t *testing.T, srcIP, dstIP netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()

	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen
	buf := make([]byte, totalLen)

	buf[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	buf[8] = 64     // TTL
	buf[9] = 17     // UDP
	src4 := srcIP.As4()
	dst4 := dstIP.As4()
	copy(buf[12:16], src4[:])
	copy(buf[16:20], dst4[:])

	udp := buf[20:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[8:], payload)

	return buf
}

func TestNewPacketRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	_, err := nat.NewPacket([]byte{0x45, 0x00}, "eth0")
	if !errors.Is(err, nat.ErrMalformedPacket) {
		t.Fatalf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestNewPacketRejectsBadIHL(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 20)
	buf[0] = 0x43 // IHL=3, below minimum of 5
	binary.BigEndian.PutUint16(buf[2:4], 20)

	_, err := nat.NewPacket(buf, "eth0")
	if !errors.Is(err, nat.ErrMalformedPacket) {
		t.Fatalf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestNewPacketRejectsTruncatedTotalLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 20)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], 100) // declares more than buffer holds

	_, err := nat.NewPacket(buf, "eth0")
	if !errors.Is(err, nat.ErrMalformedPacket) {
		t.Fatalf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestGetTupleUDP(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.0.0.5")
	dst := netip.MustParseAddr("93.184.216.34")
	buf := buildUDPPacket(t, src, dst, 5000, 53, []byte("hi"))

	pkt, err := nat.NewPacket(buf, "eth0")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	proto, ok := pkt.Protocol()
	if !ok || proto != nat.ProtocolUDP {
		t.Fatalf("Protocol() = %v, %v; want ProtocolUDP, true", proto, ok)
	}

	tuple := pkt.GetTuple()
	if tuple.SrcIP != src || tuple.DstIP != dst || tuple.SrcPort != 5000 || tuple.DstPort != 53 {
		t.Fatalf("GetTuple() = %+v, unexpected", tuple)
	}
}

func TestSetTupleRewritesAndRecomputesChecksums(t *testing.T) {
	t.Parallel()

	src := netip.MustParseAddr("10.0.0.5")
	dst := netip.MustParseAddr("93.184.216.34")
	buf := buildUDPPacket(t, src, dst, 5000, 53, []byte("hi"))

	pkt, err := nat.NewPacket(buf, "eth0")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	newSrc := netip.MustParseAddr("203.0.113.9")
	pkt.SetTuple(nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    newSrc,
		SrcPort:  40000,
		DstIP:    dst,
		DstPort:  53,
	})

	got := pkt.GetTuple()
	if got.SrcIP != newSrc || got.SrcPort != 40000 {
		t.Fatalf("GetTuple() after SetTuple = %+v, want rewritten src", got)
	}

	rewritten := pkt.Bytes()
	ipCksum := binary.BigEndian.Uint16(rewritten[10:12])
	if ipCksum == 0 {
		t.Fatalf("IPv4 checksum was not recomputed")
	}
}

func TestIsICMPEcho(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 20+8)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	buf[9] = 1 // ICMP
	icmp := buf[20:]
	icmp[0] = 8 // echo request
	binary.BigEndian.PutUint16(icmp[4:6], 0xABCD)

	pkt, err := nat.NewPacket(buf, "eth0")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if !pkt.IsICMPEcho() {
		t.Fatalf("IsICMPEcho() = false, want true")
	}

	tuple := pkt.GetTuple()
	if tuple.Protocol != nat.ProtocolICMP || tuple.SrcPort != 0xABCD {
		t.Fatalf("GetTuple() = %+v, want ICMP identifier 0xABCD", tuple)
	}
}
