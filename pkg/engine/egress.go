package engine

import (
	"context"
	"errors"

	"github.com/nstun/forwarder/pkg/socket"
)

// runEgress is the demultiplexer of §4.3: block for a batch of ready
// tokens, drain each ready peer's upstream socket, and write each payload
// back to the peer's client address through the server socket.
func (e *Engine) runEgress(ctx context.Context) error {
	var tokens []uint16
	buf := make([]byte, maxDatagramSize)

	for {
		var err error
		tokens, err = e.readiness.Poll(tokens[:0])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, port := range tokens {
			p := e.table.lookupPort(port)
			if p == nil {
				e.metrics.staleTokenTotal.Inc()
				continue
			}
			p.used.Store(true)
			e.drain(p, buf)
			e.readiness.Drained(port)
		}
	}
}

func (e *Engine) drain(p *peer, buf []byte) {
	for {
		n, err := p.upstream.Recv(buf)
		if err != nil {
			if !errors.Is(err, socket.ErrWouldBlock) {
				e.log.Debug().Err(err).Stringer("client", p.clientAddr).Msg("egress: recv from upstream failed")
			}
			return
		}

		payload := e.cipher.Apply(buf[:n])
		if err := e.server.SendTo(payload, p.clientAddr); err != nil {
			e.log.Debug().Err(err).Stringer("client", p.clientAddr).Msg("egress: send to client failed")
		}
	}
}
