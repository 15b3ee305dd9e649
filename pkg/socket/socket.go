// Package socket defines the narrow carrier interface the engine talks to:
// a blocking datagram socket for the server side, and a non-blocking,
// connected upstream socket plus readiness registration for the peer side.
// Both the DGRAM and ICMP carriers implement this interface as a tagged
// variant rather than through deep inheritance.
package socket

import (
	"net/netip"
)

// Server is the blocking listen socket the ingress/egress activities share.
// It is safe for concurrent RecvFrom (ingress) and SendTo (egress).
type Server interface {
	// RecvFrom blocks until a datagram is available, returning its payload
	// (in buf[:n]) and the sender's address.
	RecvFrom(buf []byte) (n int, addr netip.AddrPort, err error)
	// SendTo writes buf to addr.
	SendTo(buf []byte, addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

// Upstream is a peer's private, non-blocking socket whose default
// destination is fixed to the configured remote endpoint.
type Upstream interface {
	// Send writes buf to the connected default destination.
	Send(buf []byte) error
	// Recv reads one pending datagram into buf, returning ErrWouldBlock if
	// none is currently available.
	Recv(buf []byte) (n int, err error)
	// LocalPort is the ephemeral port the OS (or the emulation layer)
	// assigned to this socket; it is the egress readiness token and the
	// secondary peer-table key.
	LocalPort() uint16
	Close() error
}

// Readiness is the egress demultiplexer: register/deregister upstream
// sockets for read-readiness, and block for a batch of ready tokens.
type Readiness interface {
	// Register begins watching u for read-readiness, keyed by its local
	// port.
	Register(u Upstream) error
	// Deregister stops watching the upstream socket previously registered
	// under port. It must succeed in the caller's bookkeeping even if the
	// underlying facility fails to forget it; stale events are tolerated by
	// the poller's consumer.
	Deregister(port uint16)
	// Poll blocks until at least one registered socket is ready, appending
	// ready ports to dst and returning the extended slice.
	Poll(dst []uint16) ([]uint16, error)
	// Drained tells the facility that the caller has fully drained port's
	// pending datagrams, so a subsequent arrival should be reported again.
	Drained(port uint16)
	Close() error
}

// ErrWouldBlock is returned by Upstream.Recv when no datagram is currently
// pending.
var ErrWouldBlock = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string { return "socket: operation would block" }
