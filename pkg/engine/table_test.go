package engine

import (
	"net/netip"
	"testing"
)

func TestPeerTableInsertLookupRemove(t *testing.T) {
	tbl := newPeerTable()
	addr := netip.MustParseAddrPort("127.0.0.1:1234")
	p := &peer{clientAddr: addr, localPort: 5555}

	if got := tbl.lookup(addr); got != nil {
		t.Fatalf("lookup on empty table returned %v, want nil", got)
	}

	if !tbl.insertIfAbsent(p) {
		t.Fatal("insertIfAbsent on empty table returned false")
	}
	if tbl.size() != 1 {
		t.Fatalf("size = %d, want 1", tbl.size())
	}
	if got := tbl.lookup(addr); got != p {
		t.Fatalf("lookup = %v, want %v", got, p)
	}
	if got := tbl.lookupPort(5555); got != p {
		t.Fatalf("lookupPort = %v, want %v", got, p)
	}

	tbl.remove(p)
	if tbl.size() != 0 {
		t.Fatalf("size after remove = %d, want 0", tbl.size())
	}
	if got := tbl.lookup(addr); got != nil {
		t.Fatalf("lookup after remove = %v, want nil", got)
	}
	if got := tbl.lookupPort(5555); got != nil {
		t.Fatalf("lookupPort after remove = %v, want nil", got)
	}
}

func TestPeerTableInsertIfAbsentRejectsDuplicateAddr(t *testing.T) {
	tbl := newPeerTable()
	addr := netip.MustParseAddrPort("127.0.0.1:1234")
	first := &peer{clientAddr: addr, localPort: 1}
	second := &peer{clientAddr: addr, localPort: 2}

	if !tbl.insertIfAbsent(first) {
		t.Fatal("first insertIfAbsent returned false")
	}
	if tbl.insertIfAbsent(second) {
		t.Fatal("second insertIfAbsent for the same client address returned true")
	}
	if got := tbl.lookup(addr); got != first {
		t.Fatalf("lookup = %v, want the first-installed peer %v", got, first)
	}
}

func TestPeerTableRemoveIsNoopWhenAbsent(t *testing.T) {
	tbl := newPeerTable()
	p := &peer{clientAddr: netip.MustParseAddrPort("127.0.0.1:1"), localPort: 1}
	tbl.remove(p) // must not panic
	if tbl.size() != 0 {
		t.Fatalf("size = %d, want 0", tbl.size())
	}
}

func TestPeerTableSnapshotIsIndependentOfLiveTable(t *testing.T) {
	tbl := newPeerTable()
	p1 := &peer{clientAddr: netip.MustParseAddrPort("127.0.0.1:1"), localPort: 1}
	p2 := &peer{clientAddr: netip.MustParseAddrPort("127.0.0.1:2"), localPort: 2}
	tbl.insertIfAbsent(p1)
	tbl.insertIfAbsent(p2)

	snap := tbl.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}

	tbl.remove(p1)
	if len(snap) != 2 {
		t.Fatalf("mutating the table after snapshot changed the snapshot's length to %d", len(snap))
	}
}
