// Package metricsx extends github.com/VictoriaMetrics/metrics.
package metricsx

import "strings"

// Name formats a VictoriaMetrics/Prometheus-style metric name carrying the
// given label pairs, e.g. Name("forwarder_peers_total", "carrier", "icmp",
// "family", "6") -> `forwarder_peers_total{carrier="icmp",family="6"}`.
func Name(base string, labelPairs ...string) string {
	return formatName(base, "", labelPairs...)
}

func formatName(base, arg string, args ...string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('{')
	if arg != "" {
		b.WriteString(arg)
	}
	for i := 1; i < len(args); i += 2 {
		if arg != "" || i > 1 {
			b.WriteByte(',')
		}
		b.WriteString(args[i-1])
		b.WriteString("=\"")
		b.WriteString(args[i])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
