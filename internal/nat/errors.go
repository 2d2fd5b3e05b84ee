package nat

import "errors"

// Sentinel errors for the nat package (RFC 4787/5382 terminology, §7).
var (
	// ErrInvalidProtocol indicates a tuple or packet protocol mismatch --
	// the packet's IP protocol byte disagrees with the requested variant.
	ErrInvalidProtocol = errors.New("nat: invalid protocol")

	// ErrMalformedPacket indicates an IPv4 parse failure: IHL < 5 or the
	// declared total length exceeds the buffer.
	ErrMalformedPacket = errors.New("nat: malformed packet")

	// ErrNoMapFound is a normal outcome that steers the engine state
	// machine; it is not surfaced to an operator as a failure.
	ErrNoMapFound = errors.New("nat: no mapping found")

	// ErrPortExhausted indicates the port allocator could not satisfy a
	// request; the packet that triggered the allocation is dropped.
	ErrPortExhausted = errors.New("nat: port pool exhausted")

	// ErrEmit indicates the raw-socket write failed during packet emission.
	ErrEmit = errors.New("nat: packet emit failed")

	// ErrHairpinDenied indicates a packet destined for the external address
	// was dropped because hairpinning is disabled.
	ErrHairpinDenied = errors.New("nat: hairpin denied")
)
