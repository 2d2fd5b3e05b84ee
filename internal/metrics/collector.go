package natmetrics

import "github.com/prometheus/client_golang/prometheus"

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gonat"
	subsystem = "nat"
)

// Label names for NAT metrics.
const (
	labelProtocol  = "protocol"
	labelDirection = "direction"
	labelReason    = "reason"
	labelVerdict   = "verdict"
)

// -------------------------------------------------------------------------
// Collector — Prometheus NAT Metrics
// -------------------------------------------------------------------------

// Collector holds all NAT Prometheus metrics (SPEC_FULL §11):
//   - Mappings tracks the live flow count per protocol.
//   - Packet counters track forwarded/dropped volumes per protocol and
//     direction.
//   - PortPoolAvailable tracks free-port headroom per protocol, the
//     earliest signal of approaching port exhaustion.
//   - PortExhausted and Evictions are incident counters for alerting.
type Collector struct {
	// Mappings tracks the number of currently active flow mappings,
	// labeled by protocol.
	Mappings *prometheus.GaugeVec

	// PacketsForwarded counts packets successfully rewritten and emitted,
	// labeled by protocol and direction (outbound/inbound).
	PacketsForwarded *prometheus.CounterVec

	// PacketsDropped counts packets the engine dropped, labeled by
	// protocol and direction.
	PacketsDropped *prometheus.CounterVec

	// PortPoolAvailable tracks the number of free ports remaining in each
	// protocol's pool.
	PortPoolAvailable *prometheus.GaugeVec

	// PortExhausted counts port allocation failures per protocol.
	PortExhausted *prometheus.CounterVec

	// HairpinTotal counts hairpin verdicts, labeled "allowed" or "denied".
	HairpinTotal *prometheus.CounterVec

	// Evictions counts mapping evictions, labeled by protocol and reason
	// (lazy, sweep, capacity).
	Evictions *prometheus.CounterVec
}

// NewCollector creates a Collector with all NAT metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "gonat_nat_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Mappings,
		c.PacketsForwarded,
		c.PacketsDropped,
		c.PortPoolAvailable,
		c.PortExhausted,
		c.HairpinTotal,
		c.Evictions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protocolLabels := []string{labelProtocol}
	directionLabels := []string{labelProtocol, labelDirection}
	evictionLabels := []string{labelProtocol, labelReason}

	return &Collector{
		Mappings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mappings",
			Help:      "Number of currently active NAT flow mappings.",
		}, protocolLabels),

		PacketsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_forwarded_total",
			Help:      "Total packets rewritten and forwarded.",
		}, directionLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped by the engine.",
		}, directionLabels),

		PortPoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_pool_available",
			Help:      "Number of free ports remaining in the protocol's port pool.",
		}, protocolLabels),

		PortExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "port_exhausted_total",
			Help:      "Total port allocation failures.",
		}, protocolLabels),

		HairpinTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hairpin_total",
			Help:      "Total hairpin traffic verdicts, labeled allowed or denied.",
		}, []string{labelVerdict}),

		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evictions_total",
			Help:      "Total mapping evictions, labeled by reason (lazy, sweep, capacity).",
		}, evictionLabels),
	}
}

// -------------------------------------------------------------------------
// Mapping Lifecycle
// -------------------------------------------------------------------------

// SetMappings sets the active-mapping gauge for protocol.
func (c *Collector) SetMappings(protocol string, count float64) {
	c.Mappings.WithLabelValues(protocol).Set(count)
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsForwarded increments the forwarded packets counter.
func (c *Collector) IncPacketsForwarded(protocol, direction string) {
	c.PacketsForwarded.WithLabelValues(protocol, direction).Inc()
}

// IncPacketsDropped increments the dropped packets counter.
func (c *Collector) IncPacketsDropped(protocol, direction string) {
	c.PacketsDropped.WithLabelValues(protocol, direction).Inc()
}

// -------------------------------------------------------------------------
// Port Pool
// -------------------------------------------------------------------------

// SetPortPoolAvailable sets the free-port gauge for protocol.
func (c *Collector) SetPortPoolAvailable(protocol string, count float64) {
	c.PortPoolAvailable.WithLabelValues(protocol).Set(count)
}

// IncPortExhausted increments the port-exhaustion counter for protocol.
func (c *Collector) IncPortExhausted(protocol string) {
	c.PortExhausted.WithLabelValues(protocol).Inc()
}

// -------------------------------------------------------------------------
// Hairpin & Eviction
// -------------------------------------------------------------------------

// IncHairpin increments the hairpin counter with verdict "allowed" or
// "denied".
func (c *Collector) IncHairpin(verdict string) {
	c.HairpinTotal.WithLabelValues(verdict).Inc()
}

// IncEvictions increments the eviction counter for protocol with reason
// "lazy", "sweep", or "capacity".
func (c *Collector) IncEvictions(protocol, reason string) {
	c.Evictions.WithLabelValues(protocol, reason).Inc()
}
