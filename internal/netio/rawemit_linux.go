//go:build linux

package netio

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrShortDatagram indicates a buffer passed to Send is too short to hold
// an IPv4 header.
var ErrShortDatagram = errors.New("netio: buffer shorter than minimum IPv4 header")

const (
	ipv4MinHeaderLen  = 20
	ipv4DstAddrOffset = 16
)

// LinuxRawEmitter implements RawEmitter with one IPPROTO_RAW socket per
// outbound interface, IP_HDRINCL set so the kernel transmits the supplied
// header verbatim instead of building its own -- the engine has already
// rewritten addresses, ports and checksums. Socket setup follows the
// teacher's syscall.RawConn/unix.SetsockoptInt pattern (rawsock_linux.go)
// rather than a UDP listener, since raw transmit needs SOCK_RAW.
type LinuxRawEmitter struct {
	mu    sync.Mutex
	socks map[string]int
}

// NewLinuxRawEmitter creates an emitter with no sockets yet open; sockets
// are created lazily per interface on first Send.
func NewLinuxRawEmitter() *LinuxRawEmitter {
	return &LinuxRawEmitter{socks: make(map[string]int)}
}

// Send writes buf out ifName using a raw IP_HDRINCL socket bound to that
// interface, opening the socket on first use.
func (e *LinuxRawEmitter) Send(ifName string, buf []byte) error {
	if len(buf) < ipv4MinHeaderLen {
		return fmt.Errorf("raw emit on %q: %w", ifName, ErrShortDatagram)
	}

	fd, err := e.socketFor(ifName)
	if err != nil {
		return err
	}

	var dst [4]byte
	copy(dst[:], buf[ipv4DstAddrOffset:ipv4DstAddrOffset+4])

	sa := &unix.SockaddrInet4{Addr: dst}
	if err := unix.Sendto(fd, buf, 0, sa); err != nil {
		return fmt.Errorf("raw emit on %q: %w", ifName, err)
	}
	return nil
}

// socketFor returns the raw socket bound to ifName, creating it if this is
// the first Send for that interface.
func (e *LinuxRawEmitter) socketFor(ifName string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fd, ok := e.socks[ifName]; ok {
		return fd, nil
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return -1, fmt.Errorf("open raw socket for %q: %w", ifName, err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set IP_HDRINCL on %q: %w", ifName, err)
	}

	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind raw socket to %q: %w", ifName, err)
	}

	e.socks[ifName] = fd
	return fd, nil
}

// Close closes all sockets opened across every interface used so far.
func (e *LinuxRawEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for ifName, fd := range e.socks {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close raw socket for %q: %w", ifName, err)
		}
		delete(e.socks, ifName)
	}
	return firstErr
}
