package nat_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gonat/internal/nat"
)

func newTestTable(cfg nat.Config) *nat.Table {
	if cfg.MapLifetime == 0 {
		cfg.MapLifetime = time.Minute
	}
	return nat.NewTable(cfg)
}

func TestLookupOutboundMissThenCreate(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyOverload})
	external := netip.MustParseAddr("203.0.113.1")

	inside := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  5000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}

	_, err := tbl.LookupOutbound(inside)
	if !errors.Is(err, nat.ErrNoMapFound) {
		t.Fatalf("LookupOutbound on empty table = %v, want ErrNoMapFound", err)
	}

	mapping, err := tbl.CreateOutbound(inside, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	if mapping.Rewrite.SrcIP != external {
		t.Fatalf("Rewrite.SrcIP = %v, want %v", mapping.Rewrite.SrcIP, external)
	}

	again, err := tbl.LookupOutbound(inside)
	if err != nil {
		t.Fatalf("LookupOutbound after create: %v", err)
	}
	if again.Rewrite.SrcPort != mapping.Rewrite.SrcPort {
		t.Fatalf("LookupOutbound returned a different port than CreateOutbound: %d vs %d",
			again.Rewrite.SrcPort, mapping.Rewrite.SrcPort)
	}
}

func TestPortPreservePolicyKeepsOriginalPort(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyPreserve})
	external := netip.MustParseAddr("203.0.113.1")

	inside := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  40000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}

	mapping, err := tbl.CreateOutbound(inside, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	if mapping.Rewrite.SrcPort != 40000 {
		t.Fatalf("Rewrite.SrcPort = %d, want preserved 40000", mapping.Rewrite.SrcPort)
	}
}

// TestPortNonePolicyScansForFreePort verifies PolicyNone behaves as a
// plain free-port scan (like PolicyPreserve's fallback) rather than
// requiring originalPort itself to be free: two flows sharing a source
// port both succeed and land on distinct external ports.
func TestPortNonePolicyScansForFreePort(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyNone})
	external := netip.MustParseAddr("203.0.113.1")

	first := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  40000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}
	second := first
	second.SrcIP = netip.MustParseAddr("10.0.0.6")

	firstMapping, err := tbl.CreateOutbound(first, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("first CreateOutbound: %v", err)
	}

	secondMapping, err := tbl.CreateOutbound(second, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("second CreateOutbound: %v", err)
	}

	if firstMapping.Rewrite.SrcPort == secondMapping.Rewrite.SrcPort {
		t.Fatalf("both flows got the same external port %d under PolicyNone", firstMapping.Rewrite.SrcPort)
	}
}

// TestPortOverloadPolicySharesExternalPort verifies PORT_OVERLOAD returns
// originalPort unchanged and never mutates the pool, so two distinct
// internal hosts using the same source port share one external port --
// disambiguated downstream by remote endpoint under address-dependent
// filtering (spec scenario S2).
func TestPortOverloadPolicySharesExternalPort(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{
		PortAssignment:    nat.PolicyOverload,
		FilteringBehavior: nat.AddressDependentFiltering,
	})
	external := netip.MustParseAddr("203.0.113.1")

	first := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  5000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}
	second := first
	second.SrcIP = netip.MustParseAddr("10.0.0.6")
	second.DstIP = netip.MustParseAddr("198.51.100.7")

	firstMapping, err := tbl.CreateOutbound(first, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("first CreateOutbound: %v", err)
	}
	secondMapping, err := tbl.CreateOutbound(second, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("second CreateOutbound: %v", err)
	}

	if firstMapping.Rewrite.SrcPort != 5000 || secondMapping.Rewrite.SrcPort != 5000 {
		t.Fatalf("PolicyOverload did not preserve the shared original port: %d, %d",
			firstMapping.Rewrite.SrcPort, secondMapping.Rewrite.SrcPort)
	}

	firstReply := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    first.DstIP,
		SrcPort:  53,
		DstIP:    external,
		DstPort:  5000,
	}
	secondReply := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    second.DstIP,
		SrcPort:  53,
		DstIP:    external,
		DstPort:  5000,
	}

	firstBack, err := tbl.LookupInbound(firstReply)
	if err != nil {
		t.Fatalf("LookupInbound(firstReply): %v", err)
	}
	if firstBack.Rewrite.DstIP != first.SrcIP {
		t.Fatalf("first reply routed to %v, want %v", firstBack.Rewrite.DstIP, first.SrcIP)
	}

	secondBack, err := tbl.LookupInbound(secondReply)
	if err != nil {
		t.Fatalf("LookupInbound(secondReply): %v", err)
	}
	if secondBack.Rewrite.DstIP != second.SrcIP {
		t.Fatalf("second reply routed to %v, want %v", secondBack.Rewrite.DstIP, second.SrcIP)
	}
}

// TestMappingBehaviorAddressDependentSeparatesDestinations verifies a
// non-default MappingBehavior folds the remote address into the inside
// key: the same internal endpoint talking to two different destinations
// gets two distinct mappings under AddressDependentMapping, whereas the
// default EndpointIndependentMapping reuses a single mapping for both.
func TestMappingBehaviorAddressDependentSeparatesDestinations(t *testing.T) {
	t.Parallel()

	external := netip.MustParseAddr("203.0.113.1")
	toFirstRemote := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  5000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}
	toSecondRemote := toFirstRemote
	toSecondRemote.DstIP = netip.MustParseAddr("198.51.100.7")

	t.Run("endpoint independent reuses one mapping", func(t *testing.T) {
		t.Parallel()
		tbl := newTestTable(nat.Config{
			PortAssignment:  nat.PolicyPreserve,
			MappingBehavior: nat.EndpointIndependentMapping,
		})

		first, err := tbl.CreateOutbound(toFirstRemote, external, "eth1", "eth0")
		if err != nil {
			t.Fatalf("first CreateOutbound: %v", err)
		}

		second, err := tbl.LookupOutbound(toSecondRemote)
		if err != nil {
			t.Fatalf("LookupOutbound(toSecondRemote) = %v, want the existing mapping reused", err)
		}
		if second.Rewrite.SrcPort != first.Rewrite.SrcPort {
			t.Fatalf("endpoint-independent mapping not reused across destinations: %d vs %d",
				second.Rewrite.SrcPort, first.Rewrite.SrcPort)
		}
	})

	t.Run("address dependent requires separate mappings", func(t *testing.T) {
		t.Parallel()
		tbl := newTestTable(nat.Config{
			PortAssignment:  nat.PolicyPreserve,
			MappingBehavior: nat.AddressDependentMapping,
		})

		if _, err := tbl.CreateOutbound(toFirstRemote, external, "eth1", "eth0"); err != nil {
			t.Fatalf("first CreateOutbound: %v", err)
		}

		if _, err := tbl.LookupOutbound(toSecondRemote); !errors.Is(err, nat.ErrNoMapFound) {
			t.Fatalf("LookupOutbound(toSecondRemote) = %v, want ErrNoMapFound under AddressDependentMapping", err)
		}

		// The port pool is shared across inside keys for a protocol, so
		// the second mapping -- sharing the same original port 5000,
		// already taken by the first -- falls back to a different port.
		second, err := tbl.CreateOutbound(toSecondRemote, external, "eth1", "eth0")
		if err != nil {
			t.Fatalf("second CreateOutbound: %v", err)
		}
		if second.Rewrite.SrcPort == toFirstRemote.SrcPort {
			t.Fatalf("second mapping got the same port %d despite it already being taken", second.Rewrite.SrcPort)
		}
	})
}

func TestLookupInboundRewritesDestinationOnly(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyOverload})
	external := netip.MustParseAddr("203.0.113.1")

	internalHost := netip.MustParseAddr("10.0.0.5")
	remote := netip.MustParseAddr("93.184.216.34")

	inside := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    internalHost,
		SrcPort:  5000,
		DstIP:    remote,
		DstPort:  53,
	}

	out, err := tbl.CreateOutbound(inside, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}

	inboundPkt := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    remote,
		SrcPort:  53,
		DstIP:    external,
		DstPort:  out.Rewrite.SrcPort,
	}

	mapping, err := tbl.LookupInbound(inboundPkt)
	if err != nil {
		t.Fatalf("LookupInbound: %v", err)
	}

	if mapping.Rewrite.SrcIP != remote || mapping.Rewrite.SrcPort != 53 {
		t.Fatalf("inbound rewrite changed the remote endpoint: %+v", mapping.Rewrite)
	}
	if mapping.Rewrite.DstIP != internalHost || mapping.Rewrite.DstPort != 5000 {
		t.Fatalf("inbound rewrite did not restore internal endpoint: %+v", mapping.Rewrite)
	}
	if mapping.OutIface != "eth1" {
		t.Fatalf("OutIface = %q, want the original inbound interface eth1", mapping.OutIface)
	}
}

func TestLookupInboundMissWithoutMapping(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyOverload})

	pkt := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("93.184.216.34"),
		SrcPort:  53,
		DstIP:    netip.MustParseAddr("203.0.113.1"),
		DstPort:  40000,
	}

	if _, err := tbl.LookupInbound(pkt); !errors.Is(err, nat.ErrNoMapFound) {
		t.Fatalf("LookupInbound on empty table = %v, want ErrNoMapFound", err)
	}
}

func TestAddressDependentFilteringRejectsUnknownRemote(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{
		PortAssignment:    nat.PolicyOverload,
		FilteringBehavior: nat.AddressDependentFiltering,
	})
	external := netip.MustParseAddr("203.0.113.1")

	inside := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  5000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}
	out, err := tbl.CreateOutbound(inside, external, "eth1", "eth0")
	if err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}

	unexpectedRemote := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("198.51.100.7"),
		SrcPort:  53,
		DstIP:    external,
		DstPort:  out.Rewrite.SrcPort,
	}

	if _, err := tbl.LookupInbound(unexpectedRemote); !errors.Is(err, nat.ErrNoMapFound) {
		t.Fatalf("LookupInbound from unexpected remote = %v, want ErrNoMapFound", err)
	}
}

func TestAtCapacity(t *testing.T) {
	t.Parallel()

	tbl := newTestTable(nat.Config{PortAssignment: nat.PolicyOverload, MaxEntries: 1})
	external := netip.MustParseAddr("203.0.113.1")

	first := nat.Tuple{
		Protocol: nat.ProtocolUDP,
		SrcIP:    netip.MustParseAddr("10.0.0.5"),
		SrcPort:  5000,
		DstIP:    netip.MustParseAddr("93.184.216.34"),
		DstPort:  53,
	}

	if tbl.AtCapacity() {
		t.Fatalf("AtCapacity() = true before any entries")
	}
	if _, err := tbl.CreateOutbound(first, external, "eth1", "eth0"); err != nil {
		t.Fatalf("CreateOutbound: %v", err)
	}
	if !tbl.AtCapacity() {
		t.Fatalf("AtCapacity() = false after reaching MaxEntries")
	}
}
