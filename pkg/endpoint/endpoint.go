// Package endpoint parses and represents the hop endpoints the forwarder
// binds to and forwards towards.
package endpoint

import (
	"fmt"
	"net/netip"
	"strings"
)

// Carrier identifies the wire-level transport used for a hop.
type Carrier uint8

const (
	// DGRAM is an ordinary connectionless UDP datagram carrier.
	DGRAM Carrier = iota
	// ICMP tunnels the payload inside ICMP echo messages.
	ICMP
)

// String returns the lowercase carrier name used in the endpoint grammar.
func (c Carrier) String() string {
	switch c {
	case DGRAM:
		return "udp"
	case ICMP:
		return "icmp"
	default:
		return fmt.Sprintf("carrier(%d)", uint8(c))
	}
}

// Endpoint is a (address, carrier) pair naming one side of a hop.
type Endpoint struct {
	Addr    netip.AddrPort
	Carrier Carrier
}

func (e Endpoint) String() string {
	return e.Addr.String() + "/" + e.Carrier.String()
}

// Parse parses the textual form "IP:PORT", "IP:PORT/udp", or "IP:PORT/icmp"
// (carrier names are case-insensitive; IPv6 addresses use "[IP]:PORT").
// Absence of "/carrier" defaults to DGRAM. Fails with a descriptive error on
// a malformed address, unknown carrier, or more than one "/".
func Parse(s string) (Endpoint, error) {
	addrPart := s
	carrier := DGRAM

	if i := strings.IndexByte(s, '/'); i != -1 {
		addrPart = s[:i]
		rest := s[i+1:]
		if strings.ContainsRune(rest, '/') {
			return Endpoint{}, fmt.Errorf("parse endpoint %q: more than one /carrier suffix", s)
		}
		switch strings.ToLower(rest) {
		case "udp":
			carrier = DGRAM
		case "icmp":
			carrier = ICMP
		default:
			return Endpoint{}, fmt.Errorf("parse endpoint %q: unknown carrier %q", s, rest)
		}
	}

	addr, err := netip.ParseAddrPort(addrPart)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: invalid address: %w", s, err)
	}

	return Endpoint{Addr: addr, Carrier: carrier}, nil
}
