package nat

import (
	"log/slog"
	"net/netip"
)

// Direction classifies which side of the NAT boundary a packet entered
// from (spec §4.3 "DETERMINE_DIRECTION").
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound

	// DirectionError means the packet arrived on neither the configured
	// internal nor external interface (spec §4.3 "DETERMINE_DIRECTION",
	// confirmed against the original's PCL_ERROR branch).
	DirectionError
)

// Verdict is the engine's final disposition for a packet (spec §4.3
// "SEND / DROP / ERROR").
type Verdict uint8

const (
	// VerdictSend means the packet was rewritten in place and should be
	// emitted on the mapping's OutIface.
	VerdictSend Verdict = iota

	// VerdictDrop means the packet should be silently discarded: no
	// mapping exists and none could be created, or a filtering/hairpin
	// rule rejected it.
	VerdictDrop

	// VerdictForward means the packet's protocol is not NAT'd by this
	// engine (spec §4.1 "unsupported protocol" edge case); the caller
	// forwards it unchanged.
	VerdictForward
)

// EngineConfig carries the subset of configuration the engine consults
// directly -- the internal/external interface names and the hairpinning
// toggle (spec §4.3, §6). DETERMINE_DIRECTION classifies a packet by its
// arrival interface, not by any address range: matching the original
// implementation's PCL_DETERMINE_DIRECTION (fnCore.cpp), which compares
// the packet's inbound interface against the configured internal/external
// interface names.
type EngineConfig struct {
	InternalInterface string
	ExternalInterface string
	ExternalAddr      netip.Addr
	AllowHairpin      bool
}

// Engine is the per-packet classification and rewrite state machine
// (ENG, spec §4.3). It holds no per-flow state of its own -- all of that
// lives in the Table -- so a single Engine can be shared across worker
// goroutines.
type Engine struct {
	cfg   EngineConfig
	table *Table
	log   *slog.Logger
}

// NewEngine builds an Engine bound to table and cfg.
func NewEngine(cfg EngineConfig, table *Table, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, table: table, log: log}
}

// Process runs one packet through the full DETERMINE_DIRECTION ->
// FIND_MAP -> TRANSFORM -> VERIFY_DESTINATION pipeline (spec §4.3) and
// returns the verdict. On VerdictSend, pkt has already been rewritten in
// place and pkt.OutboundInterface() names where to emit it.
func (e *Engine) Process(pkt *Packet) Verdict {
	proto, ok := pkt.Protocol()
	if !ok {
		return VerdictForward
	}

	switch e.determineDirection(pkt) {
	case DirectionOutbound:
		return e.processOutbound(pkt, proto)
	case DirectionInbound:
		return e.processInbound(pkt, proto)
	default:
		e.log.Warn("nat: packet received on neither internal nor external interface, dropping",
			"inbound_interface", pkt.InboundInterface(),
			"internal_interface", e.cfg.InternalInterface,
			"external_interface", e.cfg.ExternalInterface,
		)
		return VerdictDrop
	}
}

// determineDirection classifies a packet by the interface it arrived on
// (spec §4.3 DETERMINE_DIRECTION): packets from the external interface are
// inbound, packets from the internal interface are outbound, and anything
// else is an error -- mirroring the original's PCL_DETERMINE_DIRECTION
// three-way branch exactly rather than approximating it with a source
// address range.
func (e *Engine) determineDirection(pkt *Packet) Direction {
	switch pkt.InboundInterface() {
	case e.cfg.ExternalInterface:
		return DirectionInbound
	case e.cfg.InternalInterface:
		return DirectionOutbound
	default:
		return DirectionError
	}
}

// processOutbound implements FIND_OUTBOUND_MAP + TRANSFORM_OUTBOUND +
// VERIFY_DESTINATION (spec §4.3): look up an existing mapping, creating
// one on a miss unless the table is at capacity, then rewrite the packet
// and hand it to the configured outbound interface. A rewritten packet
// addressed to the external address is hairpinned back through
// processInbound when hairpinning is allowed and dropped otherwise.
func (e *Engine) processOutbound(pkt *Packet, proto Protocol) Verdict {
	inside := pkt.GetTuple()

	mapping, err := e.table.LookupOutbound(inside)
	if err == ErrNoMapFound {
		if e.table.AtCapacity() {
			e.log.Warn("nat: table at capacity, dropping new flow", "tuple", inside.String())
			return VerdictDrop
		}
		mapping, err = e.table.CreateOutbound(inside, e.cfg.ExternalAddr, pkt.InboundInterface(), e.cfg.ExternalInterface)
	}
	if err != nil {
		e.log.Debug("nat: outbound mapping failed", "proto", proto.String(), "err", err)
		return VerdictDrop
	}

	pkt.SetOutboundInterface(mapping.OutIface)
	pkt.SetTuple(mapping.Rewrite)

	if mapping.Rewrite.DstIP == e.cfg.ExternalAddr {
		if !e.cfg.AllowHairpin {
			e.log.Debug("nat: hairpin traffic denied by configuration", "tuple", mapping.Rewrite.String())
			return VerdictDrop
		}
		return e.processInbound(pkt, proto)
	}

	return VerdictSend
}

// processInbound implements FIND_INBOUND_MAP + TRANSFORM_INBOUND (spec
// §4.3): look up the mapping an inbound packet belongs to, reject
// silently on a miss (RFC 4787 REQ-8 filtering), and rewrite and forward
// it to the internal side. A packet whose source is the external address
// (a hairpinned packet handed over by processOutbound) is dropped when
// hairpinning is disabled.
func (e *Engine) processInbound(pkt *Packet, proto Protocol) Verdict {
	outside := pkt.GetTuple()

	if e.isHairpin(outside) && !e.cfg.AllowHairpin {
		e.log.Debug("nat: hairpin traffic denied by configuration", "tuple", outside.String())
		return VerdictDrop
	}

	mapping, err := e.table.LookupInbound(outside)
	if err != nil {
		e.log.Debug("nat: inbound mapping not found, dropping", "proto", proto.String(), "tuple", outside.String())
		return VerdictDrop
	}

	pkt.SetOutboundInterface(mapping.OutIface)
	pkt.SetTuple(mapping.Rewrite)

	return VerdictSend
}

// isHairpin reports whether a packet on the inbound path has the external
// address as its source -- i.e. traffic from one internal host, already
// rewritten by processOutbound, destined for another internal host's
// external mapping (RFC 4787 REQ-9).
func (e *Engine) isHairpin(outside Tuple) bool {
	return outside.SrcIP == e.cfg.ExternalAddr
}
