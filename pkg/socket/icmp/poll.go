package icmp

import (
	"fmt"
	"sync"

	"github.com/nstun/forwarder/pkg/socket"
)

// icmpPoll is the ICMP carrier's Readiness implementation. Unlike the
// DGRAM carrier, there is exactly one blocking reader per IP family (the
// carrier's own receiveLoop), so Register/Deregister need not spawn or
// stop anything: the shared loop already signals every client-role
// pseudoSocket's readiness as frames are demultiplexed to it. Poll and
// Drained reuse the same level-triggered scheme as the UDP poller.
type icmpPoll struct {
	c      *carrier
	closed chan struct{}
	once   sync.Once
}

// NewReadiness returns a Readiness for upstream sockets of the given IP
// family (4 or 6), starting that family's shared raw socket if needed.
func NewReadiness(family int) (socket.Readiness, error) {
	c := familyCarrier(family)
	if err := c.ensureStarted(family); err != nil {
		return nil, err
	}
	return &icmpPoll{c: c, closed: make(chan struct{})}, nil
}

// Register is a no-op: every client-role pseudoSocket created by
// DialUpstream is already wired into the shared receive loop's
// readiness signalling from the moment it is registered with the carrier.
func (p *icmpPoll) Register(u socket.Upstream) error {
	if _, ok := u.(*icmpUpstream); !ok {
		return fmt.Errorf("icmp: Register: not an icmp upstream")
	}
	return nil
}

// Deregister is a no-op: the real bookkeeping happens when the upstream's
// Close unregisters it from the carrier.
func (p *icmpPoll) Deregister(port uint16) {}

func (p *icmpPoll) Poll(dst []uint16) ([]uint16, error) {
	var port uint16
	select {
	case port = <-p.c.ready:
	case <-p.closed:
		return dst, fmt.Errorf("icmp: readiness facility closed")
	}
	dst = append(dst, port)

	for {
		select {
		case port := <-p.c.ready:
			dst = append(dst, port)
		default:
			return dst, nil
		}
	}
}

func (p *icmpPoll) Drained(port uint16) {
	p.c.mu.Lock()
	sock := p.c.registry[port]
	p.c.mu.Unlock()
	if sock == nil {
		return
	}

	sock.signaled.Store(false)

	select {
	case fr := <-sock.mailbox:
		select {
		case sock.mailbox <- fr:
		default:
		}
		if sock.signaled.CompareAndSwap(false, true) {
			select {
			case p.c.ready <- port:
			default:
			}
		}
	default:
	}
}

// Close unblocks any pending Poll. The shared per-family carrier and its
// receive loop are never stopped, since other engines may still be using
// the same IP family's raw socket.
func (p *icmpPoll) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
