package icmp

import (
	"bytes"
	"net"
	"testing"

	xicmp "golang.org/x/net/icmp"
)

func TestFrameRoundTripV4(t *testing.T) {
	f := Frame{SrcPort: 38810, DstPort: 38811, Payload: []byte("hello")}

	b, err := Encode(f, 4, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SrcPort != f.SrcPort || got.DstPort != f.DstPort || got.Reply {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, f.Payload)
	}
}

func TestFrameIdentifierAlwaysCarriesDstPort(t *testing.T) {
	req := Frame{SrcPort: 100, DstPort: 200, Payload: []byte("ping")}
	rb, err := Encode(req, 4, nil, nil)
	if err != nil {
		t.Fatalf("Encode request: %v", err)
	}
	reqMsg, err := Decode(rb, 4)
	if err != nil {
		t.Fatalf("Decode request: %v", err)
	}
	if reqMsg.SrcPort != 100 || reqMsg.DstPort != 200 {
		t.Fatalf("request framing: got src=%d dst=%d", reqMsg.SrcPort, reqMsg.DstPort)
	}
	if wireID, _ := parseIDSeq(t, rb); wireID != 200 {
		t.Fatalf("request identifier: got %d, want DstPort 200", wireID)
	}

	rep := Frame{SrcPort: 200, DstPort: 100, Reply: true, Payload: []byte("pong")}
	pb, err := Encode(rep, 4, nil, nil)
	if err != nil {
		t.Fatalf("Encode reply: %v", err)
	}
	repMsg, err := Decode(pb, 4)
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if repMsg.SrcPort != 200 || repMsg.DstPort != 100 || !repMsg.Reply {
		t.Fatalf("reply framing: got %+v", repMsg)
	}
	// The reply travels the opposite way, so its own DstPort (100) is the
	// identifier now — same field, same meaning, regardless of direction.
	if wireID, _ := parseIDSeq(t, pb); wireID != 100 {
		t.Fatalf("reply identifier: got %d, want DstPort 100", wireID)
	}
}

func TestFrameReplyRequiresMagicTag(t *testing.T) {
	rep := Frame{SrcPort: 200, DstPort: 100, Reply: true, Payload: []byte("pong")}
	b, err := Encode(rep, 4, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// truncate the payload so the trailing magic tag is lost.
	b = b[:len(b)-1]
	if _, err := Decode(b, 4); err == nil {
		t.Fatal("Decode accepted a reply missing its magic tag")
	}
}

// parseIDSeq decodes the raw wire identifier/sequence fields, bypassing
// Decode's SrcPort/DstPort relabelling, so a test can assert directly on
// what actually travelled on the wire.
func parseIDSeq(t *testing.T, b []byte) (id, seq uint16) {
	t.Helper()
	msg, err := xicmp.ParseMessage(protoICMPv4, b)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	echo, ok := msg.Body.(*xicmp.Echo)
	if !ok {
		t.Fatalf("body is not an echo message: %T", msg.Body)
	}
	return uint16(echo.ID), uint16(echo.Seq)
}

func TestFrameRejectsUnrelatedTypes(t *testing.T) {
	// an ICMPv4 destination-unreachable message, type 3 code 1.
	b := []byte{3, 1, 0xfc, 0xfe, 0, 0, 0, 0}
	if _, err := Decode(b, 4); err == nil {
		t.Fatal("Decode accepted a non-echo ICMP message")
	}
}

func TestFrameChecksumV4(t *testing.T) {
	f := Frame{SrcPort: 1, DstPort: 2, Payload: []byte("checksum me")}
	b, err := Encode(f, 4, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !verifyChecksum(b, 4, nil, nil) {
		t.Fatal("IPv4 checksum does not match RFC 792 internet checksum")
	}
}

func TestFrameChecksumV6(t *testing.T) {
	local := net.ParseIP("::1")
	remote := net.ParseIP("::1")
	f := Frame{SrcPort: 1, DstPort: 2, Payload: []byte("checksum me")}
	b, err := Encode(f, 6, local, remote)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !verifyChecksum(b, 6, local, remote) {
		t.Fatal("IPv6 checksum does not match RFC 4443 pseudo-header checksum")
	}
}
