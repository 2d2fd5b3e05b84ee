package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
)

// ErrNoIPv4Address indicates a resolved interface has no configured IPv4
// address.
var ErrNoIPv4Address = errors.New("interface has no IPv4 address")

// AddrChangeEvent reports that an interface's resolved address changed.
type AddrChangeEvent struct {
	IfName string
	Addr   netip.Addr
}

// InterfaceResolver resolves a network interface name to its current
// configured IPv4 address -- needed for the external interface's mapped
// address (spec §6) -- and optionally watches for changes.
//
// Implementations may poll, subscribe to NETLINK_ROUTE (Linux), or use
// any other OS mechanism; the interface is kept minimal so the engine
// depends only on Resolve/Watch, not on a specific platform.
type InterfaceResolver interface {
	// Resolve returns the first IPv4 address configured on ifName.
	Resolve(ifName string) (netip.Addr, error)

	// Watch starts monitoring ifName for address changes. It blocks
	// until ctx is cancelled. Detected changes are sent to the channel
	// returned by Events(). Watch must be called at most once.
	Watch(ctx context.Context, ifName string) error

	// Events returns a read-only channel that receives address-change
	// events. Closed when Watch returns.
	Events() <-chan AddrChangeEvent

	// Close releases any resources held by the resolver.
	Close() error
}

// -------------------------------------------------------------------------
// NetInterfaceResolver — net.InterfaceByName-backed implementation
// -------------------------------------------------------------------------

// NetInterfaceResolver implements InterfaceResolver using the standard
// library's net.InterfaceByName/net.Interface.Addrs. Its Watch neither
// polls nor subscribes to netlink, so it never reports an address change.
type NetInterfaceResolver struct {
	events chan AddrChangeEvent
	logger *slog.Logger
}

// NewNetInterfaceResolver creates a resolver backed by the standard
// library's interface lookup.
func NewNetInterfaceResolver(logger *slog.Logger) *NetInterfaceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetInterfaceResolver{
		events: make(chan AddrChangeEvent, 16),
		logger: logger.With(slog.String("component", "netio.ifresolver")),
	}
}

// Resolve returns the first IPv4 address configured on ifName.
func (r *NetInterfaceResolver) Resolve(ifName string) (netip.Addr, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve interface %q: %w", ifName, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list addresses for %q: %w", ifName, err)
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			addr, ok := netip.AddrFromSlice(ip4)
			if ok {
				return addr, nil
			}
		}
	}

	return netip.Addr{}, fmt.Errorf("interface %q: %w", ifName, ErrNoIPv4Address)
}

// Watch blocks until ctx is cancelled, then closes the event channel. It
// does not monitor ifName and emits no events.
func (r *NetInterfaceResolver) Watch(ctx context.Context, ifName string) error {
	r.logger.Info("interface resolver watch started (no-op)", slog.String("interface", ifName))
	<-ctx.Done()
	close(r.events)
	r.logger.Info("interface resolver watch stopped", slog.String("interface", ifName))
	return nil
}

// Events returns the (always empty in this implementation) event channel.
func (r *NetInterfaceResolver) Events() <-chan AddrChangeEvent {
	return r.events
}

// Close is a no-op for NetInterfaceResolver.
func (r *NetInterfaceResolver) Close() error {
	return nil
}
