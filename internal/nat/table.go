package nat

import (
	"net/netip"
	"sync"
	"time"
)

// PortAssignmentPolicy selects how the table's port pool assigns an
// external port when creating a new outbound mapping (spec §4.2, RFC
// 4787 REQ-3).
type PortAssignmentPolicy uint8

const (
	// PolicyPreserve tries the original source port first, falling back
	// to PolicyNone's free-port scan when it is already taken.
	PolicyPreserve PortAssignmentPolicy = iota

	// PolicyOverload returns the original source port unchanged without
	// touching the pool, so several mappings may share one external port.
	PolicyOverload

	// PolicyNone assigns the first free port in the pool (matching parity
	// when enabled), whether or not the original source port is free.
	PolicyNone
)

// minDynamicPort is the lowest port the pool ever hands out; ports below
// it are reserved and never allocated (spec §4.2, mirroring RFC 6335's
// registered-port boundary).
const minDynamicPort = 1024

// Mapping is the result of a table lookup or creation: enough for the
// engine to rewrite a packet uniformly regardless of direction --
// OutIface is the interface to emit on, Rewrite is the tuple to write
// into the packet (spec §4.2, §4.3).
type Mapping struct {
	OutIface string
	Rewrite  Tuple
}

// entry is the full internal state of one flow mapping. Inside and
// Outside are both complete tuples: Inside as seen on the internal
// (private) side, Outside as seen on the external (public) side. Both
// directions look the entry up by their own half of the flow; the other
// half supplies the rewrite.
type entry struct {
	protocol Protocol
	inIface  string
	outIface string
	inside   Tuple
	outside  Tuple

	mu           sync.Mutex
	lastActivity int64 // unix nanoseconds, refreshed on every lookup (spec §4.2 "refresh on activity")
}

func (e *entry) touch(now int64) {
	e.mu.Lock()
	e.lastActivity = now
	e.mu.Unlock()
}

func (e *entry) idleSince(now int64) time.Duration {
	e.mu.Lock()
	last := e.lastActivity
	e.mu.Unlock()
	return time.Duration(now - last)
}

// insideKey and outsideKey are the two lookup keys under which an entry
// is indexed. insideKey is addressed by the private-side tuple; its shape
// depends on the table's configured mapping behavior (RFC 4787 REQ-4):
// endpoint-independent mappings key only on the internal address/port
// plus protocol, so every destination from the same internal endpoint
// shares one mapping, while address- and address-and-port-dependent
// mappings fold the destination into the key so a second flow to a
// different remote endpoint gets its own mapping. outsideKey's shape
// instead follows the table's filtering behavior (RFC 4787 REQ-8): it is
// the one consulted by inbound lookups, and what matters there is which
// remote peers can reach a mapping, not how the mapping was created.
type insideKey struct {
	protocol Protocol
	addr     string
	port     uint16

	// remoteAddr/remotePort participate in the key only when the mapping
	// behavior is address-dependent or address-and-port-dependent; left
	// zero-valued for endpoint-independent mappings.
	remoteAddr string
	remotePort uint16
}

type outsideKey struct {
	protocol Protocol
	addr     string // external (mapped) address/port, always present
	port     uint16

	// remoteAddr/remotePort participate in the key only when the
	// filtering behavior is address-dependent or address-and-port
	// dependent (spec §4.2, RFC 4787 REQ-8); left zero-valued for
	// endpoint-independent filtering so every remote peer shares one
	// outside key.
	remoteAddr string
	remotePort uint16
}

// MappingBehavior controls how many distinct external mappings a single
// internal endpoint can claim, one per distinct destination or one
// shared across all of them (RFC 4787 REQ-4).
type MappingBehavior uint8

const (
	// EndpointIndependentMapping reuses one external mapping for all
	// destinations from the same internal endpoint.
	EndpointIndependentMapping MappingBehavior = iota

	// AddressDependentMapping allocates a distinct external mapping per
	// distinct destination address.
	AddressDependentMapping

	// AddressAndPortDependentMapping allocates a distinct external
	// mapping per distinct destination address and port.
	AddressAndPortDependentMapping
)

// FilteringBehavior controls which inbound packets a mapping accepts
// (RFC 4787 REQ-8).
type FilteringBehavior uint8

const (
	// EndpointIndependentFiltering accepts inbound packets from any
	// remote host once a mapping exists.
	EndpointIndependentFiltering FilteringBehavior = iota

	// AddressDependentFiltering accepts inbound packets only from a
	// remote address the mapping has previously sent to.
	AddressDependentFiltering

	// AddressAndPortDependentFiltering accepts inbound packets only from
	// a remote address and port the mapping has previously sent to.
	AddressAndPortDependentFiltering
)

// Config configures a Table (spec §6 CFG -> TBL wiring).
type Config struct {
	MappingBehavior   MappingBehavior
	FilteringBehavior FilteringBehavior
	PortAssignment    PortAssignmentPolicy
	PreservePortParity bool
	MapLifetime       time.Duration
	MaxEntries        int
}

// Table is the flow-mapping table (TBL, spec §4.2): a concurrency-safe
// map of active NAT flows indexed two ways -- by internal tuple for
// outbound lookups, by external tuple (and optionally remote endpoint)
// for inbound lookups -- backed by one port pool per protocol.
type Table struct {
	cfg Config

	mu       sync.RWMutex
	byInside map[insideKey]*entry
	outside  map[Protocol]map[outsideKey]*entry

	pools map[Protocol]*portPool

	now func() int64

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewTable builds a Table with one port pool per NAT'd protocol, each
// starting with every port from minDynamicPort upward free.
func NewTable(cfg Config) *Table {
	t := &Table{
		cfg:      cfg,
		byInside: make(map[insideKey]*entry),
		outside: map[Protocol]map[outsideKey]*entry{
			ProtocolUDP:  make(map[outsideKey]*entry),
			ProtocolTCP:  make(map[outsideKey]*entry),
			ProtocolICMP: make(map[outsideKey]*entry),
		},
		pools: map[Protocol]*portPool{
			ProtocolUDP:  newPortPool(),
			ProtocolTCP:  newPortPool(),
			ProtocolICMP: newPortPool(),
		},
		now:       func() int64 { return time.Now().UnixNano() },
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	return t
}

// StartSweeper launches the background goroutine that evicts idle
// mappings on a fixed interval. Sweeping is the only expiry path:
// LookupOutbound and LookupInbound do not check an entry's age, so an
// idle mapping keeps matching lookups until a sweep (or Sweep) removes
// it. A non-positive interval starts no goroutine.
func (t *Table) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		close(t.sweepDone)
		return
	}
	go func() {
		defer close(t.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopSweep:
				return
			case <-ticker.C:
				t.sweepIdle()
			}
		}
	}()
}

// StopSweeper stops the sweep goroutine and waits for it to exit.
func (t *Table) StopSweeper() {
	close(t.stopSweep)
	<-t.sweepDone
}

func (t *Table) sweepIdle() {
	now := t.now()
	lifetime := int64(t.cfg.MapLifetime)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, e := range t.byInside {
		if e.idleSince(now) < time.Duration(lifetime) {
			continue
		}
		t.removeLocked(k, e)
	}
}

// removeLocked deletes e from both indexes and releases its external
// port back to the pool. Caller must hold t.mu for writing.
func (t *Table) removeLocked(k insideKey, e *entry) {
	delete(t.byInside, k)
	delete(t.outside[e.protocol], outsideKeyFor(e, t.cfg.FilteringBehavior))
	t.pools[e.protocol].Release(e.outside.SrcPort)
}

// insideKeyFor builds the outbound lookup key for a tuple, shaped by the
// table's configured mapping behavior (spec §4.2, RFC 4787 REQ-4):
// endpoint-independent mappings ignore the destination entirely, so every
// flow from the same internal endpoint shares one key regardless of who
// it's talking to; address-dependent and address-and-port-dependent
// mappings fold the destination into the key so a second flow to a
// different remote endpoint gets its own mapping.
func insideKeyFor(behavior MappingBehavior, t Tuple) insideKey {
	k := insideKey{protocol: t.Protocol, addr: t.SrcIP.String(), port: t.SrcPort}
	switch behavior {
	case AddressDependentMapping:
		k.remoteAddr = t.DstIP.String()
	case AddressAndPortDependentMapping:
		k.remoteAddr = t.DstIP.String()
		k.remotePort = t.DstPort
	}
	return k
}

// outsideKeyFor builds the inbound lookup key for an established entry,
// shaped by the table's configured filtering behavior (spec §4.2, RFC
// 4787 REQ-8) rather than its mapping behavior: filtering, not mapping,
// is what governs which remote peers an inbound lookup must distinguish.
// This matters independently of MappingBehavior whenever PORT_OVERLOAD
// lets two unrelated internal hosts share one external port -- only
// address- or address-and-port-dependent filtering folds the remote
// endpoint into the key so each host's reply finds its own entry;
// endpoint-independent filtering keys on the external address/port
// alone, so LookupInbound's base-key lookup reaches whichever entry
// registered there and passesFilter accepts any remote.
func outsideKeyFor(e *entry, filtering FilteringBehavior) outsideKey {
	k := outsideKey{protocol: e.protocol, addr: e.outside.SrcIP.String(), port: e.outside.SrcPort}
	switch filtering {
	case AddressDependentFiltering:
		k.remoteAddr = e.outside.DstIP.String()
	case AddressAndPortDependentFiltering:
		k.remoteAddr = e.outside.DstIP.String()
		k.remotePort = e.outside.DstPort
	}
	return k
}

// CreateOutbound allocates a new external mapping for inside (an
// internal-side tuple as seen on the wire before rewrite), binds it to
// outIface, and returns the Mapping to apply to the triggering packet
// (spec §4.2 "FIND_OUTBOUND_MAP / create on miss").
func (t *Table) CreateOutbound(inside Tuple, externalAddr netip.Addr, inIface, outIface string) (Mapping, error) {
	pool := t.pools[inside.Protocol]

	extPort, err := pool.Allocate(t.cfg.PortAssignment, t.cfg.PreservePortParity, inside.SrcPort)
	if err != nil {
		return Mapping{}, err
	}

	outsideTuple := Tuple{
		Protocol: inside.Protocol,
		SrcIP:    externalAddr,
		SrcPort:  extPort,
		DstIP:    inside.DstIP,
		DstPort:  inside.DstPort,
	}

	e := &entry{
		protocol:     inside.Protocol,
		inIface:      inIface,
		outIface:     outIface,
		inside:       inside,
		outside:      outsideTuple,
		lastActivity: t.now(),
	}

	ik := insideKeyFor(t.cfg.MappingBehavior, inside)

	t.mu.Lock()
	t.byInside[ik] = e
	t.outside[inside.Protocol][outsideKeyFor(e, t.cfg.FilteringBehavior)] = e
	t.mu.Unlock()

	return Mapping{OutIface: outIface, Rewrite: outsideTuple}, nil
}

// LookupOutbound finds the existing mapping for an internal-side tuple,
// refreshing its activity timestamp on a hit (spec §4.2). It returns
// ErrNoMapFound on a miss so the engine can fall through to
// CreateOutbound.
func (t *Table) LookupOutbound(inside Tuple) (Mapping, error) {
	ik := insideKeyFor(t.cfg.MappingBehavior, inside)

	t.mu.RLock()
	e, ok := t.byInside[ik]
	t.mu.RUnlock()
	if !ok {
		return Mapping{}, ErrNoMapFound
	}

	e.touch(t.now())

	outsideTuple := e.outside
	outsideTuple.DstIP = inside.DstIP
	outsideTuple.DstPort = inside.DstPort

	return Mapping{OutIface: e.outIface, Rewrite: outsideTuple}, nil
}

// LookupInbound finds the mapping an inbound (external-side) tuple
// should be rewritten through, applying the table's filtering behavior
// (spec §4.2, RFC 4787 REQ-8): if filtering is address- or
// address-and-port-dependent, a remote endpoint the mapping has never
// sent to is rejected with ErrNoMapFound even if the external
// address/port matches an entry.
func (t *Table) LookupInbound(outside Tuple) (Mapping, error) {
	k := outsideKey{protocol: outside.Protocol, addr: outside.DstIP.String(), port: outside.DstPort}

	t.mu.RLock()
	e, ok := t.outside[outside.Protocol][k]
	if !ok && t.cfg.FilteringBehavior != EndpointIndependentFiltering {
		// Address/port-dependent filtering keys the outside map with the
		// remote endpoint folded in; retry with it populated.
		k2 := k
		k2.remoteAddr = outside.SrcIP.String()
		if t.cfg.FilteringBehavior == AddressAndPortDependentFiltering {
			k2.remotePort = outside.SrcPort
		}
		e, ok = t.outside[outside.Protocol][k2]
	}
	t.mu.RUnlock()

	if !ok {
		return Mapping{}, ErrNoMapFound
	}

	if !t.passesFilter(e, outside) {
		return Mapping{}, ErrNoMapFound
	}

	e.touch(t.now())

	// The remote endpoint (outside.Src*) passes through unchanged; only
	// the destination -- the external mapped address/port -- is rewritten
	// back to the internal endpoint that owns the mapping.
	insideTuple := Tuple{
		Protocol: outside.Protocol,
		SrcIP:    outside.SrcIP,
		SrcPort:  outside.SrcPort,
		DstIP:    e.inside.SrcIP,
		DstPort:  e.inside.SrcPort,
	}

	return Mapping{OutIface: e.inIface, Rewrite: insideTuple}, nil
}

// passesFilter applies RFC 4787 REQ-8 filtering semantics: when the
// table key alone (endpoint-independent case) can't distinguish remote
// peers, passesFilter is the second gate that actually enforces
// address/port-dependent filtering.
func (t *Table) passesFilter(e *entry, outside Tuple) bool {
	switch t.cfg.FilteringBehavior {
	case EndpointIndependentFiltering:
		return true
	case AddressDependentFiltering:
		return e.outside.DstIP == outside.SrcIP
	case AddressAndPortDependentFiltering:
		return e.outside.DstIP == outside.SrcIP && e.outside.DstPort == outside.SrcPort
	default:
		return false
	}
}

// Len reports the number of active mappings, for metrics and capacity
// checks (spec §4.2 MaxEntries, SPEC_FULL §11).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byInside)
}

// EntrySnapshot is a point-in-time, read-only view of one table entry,
// for the admin surface's mapping listing (SPEC_FULL §12).
type EntrySnapshot struct {
	Protocol  Protocol
	InIface   string
	OutIface  string
	Inside    Tuple
	Outside   Tuple
	IdleSince time.Duration
}

// Snapshot returns a copy of every active entry's state. The slice is a
// snapshot at the time of the call; entries may be added, refreshed or
// evicted concurrently afterward.
func (t *Table) Snapshot() []EntrySnapshot {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]EntrySnapshot, 0, len(t.byInside))
	for _, e := range t.byInside {
		out = append(out, EntrySnapshot{
			Protocol:  e.protocol,
			InIface:   e.inIface,
			OutIface:  e.outIface,
			Inside:    e.inside,
			Outside:   e.outside,
			IdleSince: e.idleSince(now),
		})
	}
	return out
}

// Sweep runs one eviction pass immediately, outside the sweeper's regular
// interval -- used by the admin surface's manual sweep trigger (SPEC_FULL
// §12) and by tests that don't want to wait on StartSweeper's ticker.
func (t *Table) Sweep() int {
	before := t.Len()
	t.sweepIdle()
	return before - t.Len()
}

// AtCapacity reports whether the table has reached its configured
// MaxEntries bound. A MaxEntries of zero means unbounded.
func (t *Table) AtCapacity() bool {
	if t.cfg.MaxEntries <= 0 {
		return false
	}
	return t.Len() >= t.cfg.MaxEntries
}
