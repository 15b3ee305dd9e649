package endpoint

import (
	"net/netip"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "127.0.0.1:1234", want: Endpoint{Addr: netip.MustParseAddrPort("127.0.0.1:1234"), Carrier: DGRAM}},
		{in: "127.0.0.1:1234/udp", want: Endpoint{Addr: netip.MustParseAddrPort("127.0.0.1:1234"), Carrier: DGRAM}},
		{in: "127.0.0.1:1234/ICMP", want: Endpoint{Addr: netip.MustParseAddrPort("127.0.0.1:1234"), Carrier: ICMP}},
		{in: "[::1]:1234/icmp", want: Endpoint{Addr: netip.MustParseAddrPort("[::1]:1234"), Carrier: ICMP}},
		{in: "127.0.0.1:1234/udp/icmp", wantErr: true},
		{in: "not-an-addr", wantErr: true},
		{in: "127.0.0.1:1234/sctp", wantErr: true},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestCarrierString(t *testing.T) {
	if DGRAM.String() != "udp" {
		t.Errorf("DGRAM.String() = %q", DGRAM.String())
	}
	if ICMP.String() != "icmp" {
		t.Errorf("ICMP.String() = %q", ICMP.String())
	}
}
