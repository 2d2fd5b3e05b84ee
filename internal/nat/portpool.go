package nat

import "sync"

// portPool tracks which external ports a single protocol's mappings
// currently occupy. Ports below minDynamicPort are never allocated; the
// rest start free (spec §4.2 "port pool").
type portPool struct {
	mu   sync.Mutex
	used [65536]bool
}

func newPortPool() *portPool {
	p := &portPool{}
	for port := 0; port < minDynamicPort; port++ {
		p.used[port] = true
	}
	return p
}

// Allocate assigns an external port according to policy (spec §4.2, RFC
// 4787 REQ-3):
//
//   - PolicyPreserve tries originalPort first, falling back to any free
//     port (optionally matching parity) on conflict.
//   - PolicyNone scans the free-port space and returns the first free
//     port, same as PolicyPreserve's fallback -- it does not require
//     originalPort specifically to be free.
//   - PolicyOverload always returns originalPort unchanged and never
//     touches the pool, so multiple internal mappings can share the same
//     external port, disambiguated downstream by remote endpoint.
//
// When parity must be preserved, the returned port has the same
// evenness as originalPort (RFC 4787 REQ-3, "if the NAT preserves port
// parity... it MUST preserve the parity").
func (p *portPool) Allocate(policy PortAssignmentPolicy, parity bool, originalPort uint16) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch policy {
	case PolicyOverload:
		return originalPort, nil

	case PolicyNone:
		return p.takeAnyLocked(parity, originalPort%2 == 0)

	default: // PolicyPreserve
		if !p.used[originalPort] {
			p.used[originalPort] = true
			return originalPort, nil
		}
		return p.takeAnyLocked(parity, originalPort%2 == 0)
	}
}

// takeAnyLocked scans for the first free port, honoring parity if
// requested. Caller must hold p.mu.
func (p *portPool) takeAnyLocked(parity bool, wantEven bool) (uint16, error) {
	start := minDynamicPort
	if parity && wantEven && start%2 != 0 {
		start++
	} else if parity && !wantEven && start%2 == 0 {
		start++
	}

	step := 1
	if parity {
		step = 2
	}

	for port := start; port <= 65535; port += step {
		if !p.used[port] {
			p.used[port] = true
			return uint16(port), nil
		}
	}

	return 0, ErrPortExhausted
}

// Release returns port to the free pool. Releasing an already-free port
// (including one below minDynamicPort) is a no-op rather than an error,
// since table eviction races against lookups that may have already
// released it.
func (p *portPool) Release(port uint16) {
	if port < minDynamicPort {
		return
	}
	p.mu.Lock()
	p.used[port] = false
	p.mu.Unlock()
}
