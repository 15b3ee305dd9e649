package metricsx

import "testing"

func TestName(t *testing.T) {
	for _, c := range [][]string{
		{`forwarder_peers_total{}`},
		{`forwarder_peers_total{carrier="icmp"}`, `carrier`, `icmp`},
		{`forwarder_peers_total{carrier="icmp",family="6"}`, `carrier`, `icmp`, `family`, `6`},
	} {
		exp, labels := c[0], c[1:]
		if act := Name("forwarder_peers_total", labels...); act != exp {
			t.Errorf("Name(forwarder_peers_total, %#q): expected %#q, got %#q", labels, exp, act)
		}
	}
}

func TestFormatName(t *testing.T) {
	for _, c := range [][]string{
		{`test{}`, `test`, ``},
		{`test{a="1"}`, `test`, `a="1"`},
		{`test{a="1",b="2"}`, `test`, `a="1"`, `b`, `2`},
		{`test{a="1",b="2"}`, `test`, `a="1",b="2"`},
		{`test{a="1",b="2",c="3"}`, `test`, `a="1"`, `b`, `2`, `c`, `3`},
		{`test{a="1",b="2",c="3"}`, `test`, `a="1",b="2"`, `c`, `3`},
	} {
		exp, base, arg, args := c[0], c[1], c[2], c[3:]
		if act := formatName(base, arg, args...); act != exp {
			t.Errorf("format (%#q, %#q, %#q, %#q): expected %#q, got %#q", exp, base, arg, args, exp, act)
		}
	}
}
