package socket

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// udpPoll is the DGRAM carrier's Readiness implementation. Go's runtime
// netpoller already folds the OS's native readiness facility
// (epoll/kqueue/IOCP) into ordinary blocking calls, so rather than driving
// raw epoll syscalls this spawns one lightweight goroutine per registered
// socket, each blocked in the socket's real, blocking ReadFromUDP. Each
// goroutine feeds its upstream's mailbox and signals readiness at most once
// per "the mailbox was empty" transition, fan-in style, into a single ready
// channel that the one egress consumer drains. This preserves the "single
// consumer, O(1) register/deregister, batch of ready tokens" contract of
// §4.3 while using goroutines instead of raw readiness syscalls.
type udpPoll struct {
	mu      sync.Mutex
	entries map[uint16]*udpPollEntry
	ready   chan uint16
	closed  chan struct{}
	once    sync.Once
}

type udpPollEntry struct {
	u        *udpUpstream
	signaled atomic.Bool
}

// NewUDPReadiness creates a Readiness implementation for the DGRAM carrier.
func NewUDPReadiness() Readiness {
	return &udpPoll{
		entries: make(map[uint16]*udpPollEntry),
		ready:   make(chan uint16, 256),
		closed:  make(chan struct{}),
	}
}

func (p *udpPoll) Register(up Upstream) error {
	u, ok := up.(*udpUpstream)
	if !ok {
		return fmt.Errorf("socket: udpPoll.Register: not a udp upstream")
	}

	e := &udpPollEntry{u: u}

	p.mu.Lock()
	p.entries[u.port] = e
	p.mu.Unlock()

	go p.readLoop(e)
	return nil
}

func (p *udpPoll) Deregister(port uint16) {
	p.mu.Lock()
	delete(p.entries, port)
	p.mu.Unlock()
	// the read goroutine exits once the upstream socket is closed by the
	// caller (peer destruction); a stray readiness event after this point
	// is tolerated by the egress loop, per §4.2.
}

func (p *udpPoll) readLoop(e *udpPollEntry) {
	buf := make([]byte, 65535)
	for {
		n, err := e.u.conn.Read(buf)
		if err != nil {
			return
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])

		select {
		case e.u.mailbox <- cp:
		case <-e.u.closeCh:
			return
		}

		if e.signaled.CompareAndSwap(false, true) {
			select {
			case p.ready <- e.u.port:
			case <-e.u.closeCh:
				return
			}
		}
	}
}

// Poll blocks for at least one ready token, then opportunistically drains
// any further tokens already queued without blocking.
func (p *udpPoll) Poll(dst []uint16) ([]uint16, error) {
	var port uint16
	select {
	case port = <-p.ready:
	case <-p.closed:
		return dst, fmt.Errorf("socket: readiness facility closed")
	}
	dst = append(dst, port)

	for {
		select {
		case port := <-p.ready:
			dst = append(dst, port)
		default:
			return dst, nil
		}
	}
}

// Drained must be called by the egress consumer after it has fully drained
// a port's mailbox, clearing the signaled flag so a subsequent arrival is
// reported again. If the mailbox already has data by the time this runs
// (a race with the read goroutine), the token is re-queued immediately so
// no wakeup is lost.
func (p *udpPoll) Drained(port uint16) {
	p.mu.Lock()
	e := p.entries[port]
	p.mu.Unlock()
	if e == nil {
		return
	}

	e.signaled.Store(false)

	select {
	case b := <-e.u.mailbox:
		// raced with the reader: put it back and re-signal.
		select {
		case e.u.mailbox <- b:
		default:
		}
		if e.signaled.CompareAndSwap(false, true) {
			select {
			case p.ready <- port:
			default:
			}
		}
	default:
	}
}

// Close unblocks any pending Poll; it never closes the shared ready
// channel itself, since a racing readLoop goroutine may still be trying to
// send on it (its owning upstream is only closed later, by peer teardown).
func (p *udpPoll) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
