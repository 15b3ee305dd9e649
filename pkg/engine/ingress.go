package engine

import (
	"context"
	"net/netip"
)

// maxDatagramSize is large enough for the biggest IP datagram payload.
const maxDatagramSize = 65535

// runIngress is the engine driver of §4.1: block on the server socket,
// find or create the destination peer, forward the payload upstream.
func (e *Engine) runIngress(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := e.server.RecvFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Debug().Err(err).Msg("ingress: recv from server socket failed")
			continue
		}

		payload := e.cipher.Apply(buf[:n])

		p := e.table.lookup(addr)
		if p == nil {
			p, err = e.createPeer(addr)
			if err != nil {
				e.log.Debug().Err(err).Stringer("client", addr).Msg("ingress: create peer failed")
				e.metrics.peerCreateFailures.Inc()
				continue
			}
		} else {
			p.used.Store(true)
		}

		if err := p.upstream.Send(payload); err != nil {
			e.log.Debug().Err(err).Stringer("client", addr).Msg("ingress: send to upstream failed")
		}
	}
}

// createPeer allocates and installs a peer for addr. Allocation happens
// outside the table lock (dialing a socket should never block other
// table readers); insertIfAbsent's re-check under its own exclusive lock
// is what actually closes the miss-then-insert race, which is equivalent
// to — and shorter than — holding the writer lock across the dial.
func (e *Engine) createPeer(addr netip.AddrPort) (*peer, error) {
	p, err := newPeer(e.remote, addr, e.readiness)
	if err != nil {
		return nil, err
	}

	if !e.table.insertIfAbsent(p) {
		p.destroy(e.readiness)
		if existing := e.table.lookup(addr); existing != nil {
			return existing, nil
		}
		return nil, errPeerVanished
	}

	e.createdTotal.Add(1)
	e.metrics.peersCreatedTotal.Inc()
	return p, nil
}
