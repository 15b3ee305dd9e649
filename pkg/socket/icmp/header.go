package icmp

import (
	"fmt"

	"golang.org/x/net/ipv4"
)

// stripIPv4Header removes the leading IPv4 header the kernel delivers on a
// raw "ip4:icmp" socket, leaving the bare ICMP message Decode expects.
// net.IPConn.ReadFrom usually removes that header itself, so the receiver
// only calls this for family 4 when the data still starts with an IPv4
// header. IPv6 raw sockets never include the IP header, so there is no
// IPv6 counterpart.
func stripIPv4Header(b []byte) ([]byte, error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return nil, fmt.Errorf("icmp: parse ipv4 header: %w", err)
	}
	if h.Len > len(b) {
		return nil, fmt.Errorf("icmp: ipv4 header length %d exceeds packet length %d", h.Len, len(b))
	}
	end := h.TotalLen
	if end == 0 || end > len(b) {
		end = len(b)
	}
	return b[h.Len:end], nil
}
