package engine

import (
	"net/netip"
	"sync"
)

// peerTable is the engine's only shared mutable state: a dual-indexed map
// from both the client's observed address and the peer's ephemeral local
// port to the same peer record. Both indexes are mutated together so they
// stay mutually inverse (invariant I1 of the peer-table data model).
//
// Go has no native upgradable read lock, so the ingress hot path (the
// read-mostly side) takes an ordinary RLock to look up by client address,
// and on a miss takes the exclusive Lock and re-checks the map before
// inserting — closing the "lock-read, drop, re-lock-write, double-insert"
// race an upgradable lock would otherwise prevent by construction. The
// reaper always takes the exclusive Lock.
type peerTable struct {
	mu     sync.RWMutex
	byAddr map[netip.AddrPort]*peer
	byPort map[uint16]*peer
}

func newPeerTable() *peerTable {
	return &peerTable{
		byAddr: make(map[netip.AddrPort]*peer),
		byPort: make(map[uint16]*peer),
	}
}

// lookup is the ingress path's read-mostly probe.
func (t *peerTable) lookup(addr netip.AddrPort) *peer {
	t.mu.RLock()
	p := t.byAddr[addr]
	t.mu.RUnlock()
	return p
}

// lookupPort is the egress readiness demux's probe.
func (t *peerTable) lookupPort(port uint16) *peer {
	t.mu.RLock()
	p := t.byPort[port]
	t.mu.RUnlock()
	return p
}

// insertIfAbsent takes the exclusive lock, re-checks addr is still absent
// (the upgrade re-check), and installs p in both indexes atomically if so.
// It reports whether p was installed; false means a concurrent creation
// won the race and the caller must discard p (closing its own socket).
func (t *peerTable) insertIfAbsent(p *peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byAddr[p.clientAddr]; exists {
		return false
	}
	t.byAddr[p.clientAddr] = p
	t.byPort[p.localPort] = p
	return true
}

// remove drops p from both indexes. It is a no-op if p is not present.
func (t *peerTable) remove(p *peer) {
	t.mu.Lock()
	delete(t.byAddr, p.clientAddr)
	delete(t.byPort, p.localPort)
	t.mu.Unlock()
}

// sweep is the reaper's primitive: per §4.4 and §5, "the reaper always
// takes a writer lock" and holds it across the whole iteration, not just
// each removal. shouldEvict is called under that single exclusive lock for
// every installed peer, and any peer it accepts is deleted from both
// indexes before the lock is released. Holding the lock for the entire
// pass is what makes the used-flag check and the eviction atomic: without
// it, ingress could look up, revive (used.Store(true)) and forward to a
// peer between the flag check and its removal, and the reaper would still
// evict and destroy the now-active peer's socket out from under it.
// Destroying the evicted peers' sockets is left to the caller, outside
// the lock, since that's I/O the table itself has no business blocking on.
func (t *peerTable) sweep(shouldEvict func(*peer) bool) []*peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []*peer
	for addr, p := range t.byAddr {
		if !shouldEvict(p) {
			continue
		}
		delete(t.byAddr, addr)
		delete(t.byPort, p.localPort)
		evicted = append(evicted, p)
	}
	return evicted
}

// snapshot returns every currently installed peer, for Run's shutdown
// teardown.
func (t *peerTable) snapshot() []*peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ps := make([]*peer, 0, len(t.byAddr))
	for _, p := range t.byAddr {
		ps = append(ps, p)
	}
	return ps
}

func (t *peerTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}
