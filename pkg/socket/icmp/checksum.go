package icmp

import (
	"encoding/binary"
	"net"

	xicmp "golang.org/x/net/icmp"
)

// internetChecksum computes the RFC 1071 ones-complement checksum used by
// both RFC 792 (ICMPv4, over the message alone) and RFC 4443 (ICMPv6, over
// a pseudo-header plus the message). It exists so the wire framing in
// frame.go can be verified independently of the x/net/icmp package that
// produces it: Encode's output must satisfy this same algorithm, the one
// any off-the-shelf ICMP decoder implements.
func internetChecksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// verifyChecksum recomputes the checksum field of an already-marshalled
// ICMP message (bytes 2:4) and reports whether it matches what
// internetChecksum derives over the same bytes a standards-compliant
// decoder would sum: the message as sent, for ICMPv4, or the message
// prefixed with the IPv6 pseudo-header, for ICMPv6.
func verifyChecksum(msg []byte, family int, localIP, remoteIP net.IP) bool {
	if len(msg) < 4 {
		return false
	}
	want := uint16(msg[2])<<8 | uint16(msg[3])

	buf := append([]byte(nil), msg...)
	buf[2], buf[3] = 0, 0

	if family == 6 {
		psh := xicmp.IPv6PseudoHeader(localIP, remoteIP)
		// the pseudo-header's upper-layer length is the ICMPv6 message length.
		binary.BigEndian.PutUint32(psh[32:36], uint32(len(buf)))
		buf = append(psh, buf...)
	}

	return internetChecksum(buf) == want
}
