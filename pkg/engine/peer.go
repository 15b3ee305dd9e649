package engine

import (
	"net/netip"
	"sync/atomic"

	"github.com/nstun/forwarder/pkg/endpoint"
	"github.com/nstun/forwarder/pkg/socket"
	"github.com/nstun/forwarder/pkg/socket/icmp"
)

// peer is one active client's record: its observed source address and its
// private upstream socket toward the configured remote endpoint. used is
// manipulated only through atomic read-modify-write, per §4.3/§4.4.
type peer struct {
	clientAddr netip.AddrPort
	upstream   socket.Upstream
	localPort  uint16
	used       atomic.Bool
}

// newPeer creates peer's upstream socket (connected, in the datagram
// sense, to remote) and registers it with readiness for the DGRAM
// carrier; the ICMP carrier's readiness is driven by the shared receive
// loop and needs no per-upstream registration, but Register is still
// called uniformly since icmpPoll.Register is a documented no-op.
func newPeer(remote endpoint.Endpoint, clientAddr netip.AddrPort, readiness socket.Readiness) (*peer, error) {
	up, err := dialUpstream(remote)
	if err != nil {
		return nil, err
	}

	if err := readiness.Register(up); err != nil {
		up.Close()
		return nil, err
	}

	p := &peer{
		clientAddr: clientAddr,
		upstream:   up,
		localPort:  up.LocalPort(),
	}
	p.used.Store(true) // born used, per §4.4.
	return p, nil
}

// destroy reverses newPeer: deregister, then close the socket. Per §4.2,
// losing the deregistration must not prevent the caller from removing the
// peer from the table; a stale readiness token is tolerated by the egress
// loop.
func (p *peer) destroy(readiness socket.Readiness) {
	readiness.Deregister(p.localPort)
	p.upstream.Close()
}

func dialUpstream(remote endpoint.Endpoint) (socket.Upstream, error) {
	if remote.Carrier == endpoint.ICMP {
		return icmp.DialUpstream(remote.Addr)
	}
	return socket.DialUpstream(remote.Addr)
}
