package icmp

import "testing"

func TestStripIPv4Header(t *testing.T) {
	icmpMsg := []byte{8, 0, 0xf7, 0xff, 0, 1, 0, 1, 'h', 'i'}

	hdr := []byte{
		0x45, 0x00, // version/IHL, DSCP/ECN
		0x00, byte(20 + len(icmpMsg)), // total length
		0x00, 0x00, // identification
		0x00, 0x00, // flags/fragment offset
		0x40, 0x01, // TTL, protocol (ICMP)
		0x00, 0x00, // header checksum (unvalidated by ParseHeader)
		127, 0, 0, 1, // source
		127, 0, 0, 1, // destination
	}

	packet := append(append([]byte(nil), hdr...), icmpMsg...)

	got, err := stripIPv4Header(packet)
	if err != nil {
		t.Fatalf("stripIPv4Header: %v", err)
	}
	if string(got) != string(icmpMsg) {
		t.Fatalf("stripped payload mismatch: got %v, want %v", got, icmpMsg)
	}
}

func TestStripIPv4HeaderWithOptions(t *testing.T) {
	icmpMsg := []byte{0, 0, 0xf7, 0xff, 0, 1, 0, 1, 'h', 'i'}

	// IHL of 6 32-bit words: 24-byte header (4 bytes of options).
	hdr := []byte{
		0x46, 0x00,
		0x00, byte(24 + len(icmpMsg)),
		0x00, 0x00,
		0x00, 0x00,
		0x40, 0x01,
		0x00, 0x00,
		127, 0, 0, 1,
		127, 0, 0, 1,
		0x00, 0x00, 0x00, 0x00, // options padding
	}

	packet := append(append([]byte(nil), hdr...), icmpMsg...)

	got, err := stripIPv4Header(packet)
	if err != nil {
		t.Fatalf("stripIPv4Header: %v", err)
	}
	if string(got) != string(icmpMsg) {
		t.Fatalf("stripped payload mismatch with options header: got %v, want %v", got, icmpMsg)
	}
}
