package nat_test

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gonat/internal/nat"
)

func testEngineConfig() nat.EngineConfig {
	return nat.EngineConfig{
		InternalInterface: "eth1",
		ExternalInterface: "eth0",
		ExternalAddr:      netip.MustParseAddr("203.0.113.1"),
		AllowHairpin:      false,
	}
}

func TestEngineOutboundThenInboundRoundTrip(t *testing.T) {
	t.Parallel()

	table := nat.NewTable(nat.Config{PortAssignment: nat.PolicyOverload})
	engine := nat.NewEngine(testEngineConfig(), table, nil)

	internalHost := netip.MustParseAddr("10.0.0.5")
	remote := netip.MustParseAddr("93.184.216.34")

	outPkt, err := nat.NewPacket(buildUDPPacket(t, internalHost, remote, 5000, 53, nil), "eth1")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	outPkt.SetOutboundInterface("eth0")

	verdict := engine.Process(outPkt)
	if verdict != nat.VerdictSend {
		t.Fatalf("outbound verdict = %v, want VerdictSend", verdict)
	}

	rewritten := outPkt.GetTuple()
	if rewritten.SrcIP != testEngineConfig().ExternalAddr {
		t.Fatalf("outbound rewrite SrcIP = %v, want external address", rewritten.SrcIP)
	}

	// Build the corresponding inbound reply from the remote host, addressed
	// to the mapping this engine just created.
	inPkt, err := nat.NewPacket(
		buildUDPPacket(t, remote, rewritten.SrcIP, 53, rewritten.SrcPort, nil),
		"eth0",
	)
	if err != nil {
		t.Fatalf("NewPacket (reply): %v", err)
	}

	verdict = engine.Process(inPkt)
	if verdict != nat.VerdictSend {
		t.Fatalf("inbound verdict = %v, want VerdictSend", verdict)
	}

	back := inPkt.GetTuple()
	if back.DstIP != internalHost || back.DstPort != 5000 {
		t.Fatalf("inbound rewrite did not restore internal endpoint: %+v", back)
	}
	if inPkt.OutboundInterface() != "eth1" {
		t.Fatalf("inbound OutboundInterface() = %q, want eth1", inPkt.OutboundInterface())
	}
}

func TestEngineDropsInboundWithoutMapping(t *testing.T) {
	t.Parallel()

	table := nat.NewTable(nat.Config{PortAssignment: nat.PolicyOverload})
	engine := nat.NewEngine(testEngineConfig(), table, nil)

	remote := netip.MustParseAddr("93.184.216.34")
	external := netip.MustParseAddr("203.0.113.1")

	pkt, err := nat.NewPacket(buildUDPPacket(t, remote, external, 53, 40000, nil), "eth0")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if verdict := engine.Process(pkt); verdict != nat.VerdictDrop {
		t.Fatalf("verdict = %v, want VerdictDrop for unmapped inbound flow", verdict)
	}
}

func TestEngineDeniesHairpinWhenDisabled(t *testing.T) {
	t.Parallel()

	table := nat.NewTable(nat.Config{PortAssignment: nat.PolicyOverload})
	cfg := testEngineConfig()
	cfg.AllowHairpin = false
	engine := nat.NewEngine(cfg, table, nil)

	// A packet arriving with source == external address looks like
	// hairpin traffic (one internal host reaching another via the
	// external mapping).
	pkt, err := nat.NewPacket(buildUDPPacket(t, cfg.ExternalAddr, netip.MustParseAddr("203.0.113.1"), 40000, 40001, nil), "eth0")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if verdict := engine.Process(pkt); verdict != nat.VerdictDrop {
		t.Fatalf("verdict = %v, want VerdictDrop for hairpin traffic with hairpinning disabled", verdict)
	}
}

func TestEngineDropsPacketFromUnknownInterface(t *testing.T) {
	t.Parallel()

	table := nat.NewTable(nat.Config{PortAssignment: nat.PolicyOverload})
	engine := nat.NewEngine(testEngineConfig(), table, nil)

	internalHost := netip.MustParseAddr("10.0.0.5")
	remote := netip.MustParseAddr("93.184.216.34")

	// Neither the configured internal ("eth1") nor external ("eth0")
	// interface -- DETERMINE_DIRECTION must classify this as an error
	// rather than guessing a direction from addresses.
	pkt, err := nat.NewPacket(buildUDPPacket(t, internalHost, remote, 5000, 53, nil), "eth2")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if verdict := engine.Process(pkt); verdict != nat.VerdictDrop {
		t.Fatalf("verdict = %v, want VerdictDrop for packet from unrecognized interface", verdict)
	}
}

func TestEngineForwardsUnsupportedProtocol(t *testing.T) {
	t.Parallel()

	table := nat.NewTable(nat.Config{PortAssignment: nat.PolicyOverload})
	engine := nat.NewEngine(testEngineConfig(), table, nil)

	buf := make([]byte, 20)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], 20)
	buf[9] = 47 // GRE, not NAT'd by this engine

	pkt, err := nat.NewPacket(buf, "eth1")
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if verdict := engine.Process(pkt); verdict != nat.VerdictForward {
		t.Fatalf("verdict = %v, want VerdictForward for unsupported protocol", verdict)
	}
}
