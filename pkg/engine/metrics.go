package engine

import (
	"github.com/VictoriaMetrics/metrics"

	"github.com/nstun/forwarder/pkg/endpoint"
	"github.com/nstun/forwarder/pkg/metricsx"
)

// engineMetrics holds the VictoriaMetrics counters for one Engine
// instance, labeled by the upstream carrier so a process forwarding over
// both DGRAM and ICMP (in separate Engine instances) can be told apart in
// the exposition output.
type engineMetrics struct {
	set *metrics.Set

	peersCreatedTotal  *metrics.Counter
	peersReapedTotal   *metrics.Counter
	peerCreateFailures *metrics.Counter
	staleTokenTotal    *metrics.Counter
}

func newEngineMetrics(carrier endpoint.Carrier) *engineMetrics {
	set := metrics.NewSet()
	return &engineMetrics{
		set:                set,
		peersCreatedTotal:  set.NewCounter(metricsx.Name(`forwarder_peers_created_total`, `carrier`, carrier.String())),
		peersReapedTotal:   set.NewCounter(metricsx.Name(`forwarder_peers_reaped_total`, `carrier`, carrier.String())),
		peerCreateFailures: set.NewCounter(metricsx.Name(`forwarder_peer_create_failures_total`, `carrier`, carrier.String())),
		staleTokenTotal:    set.NewCounter(metricsx.Name(`forwarder_egress_stale_token_total`, `carrier`, carrier.String())),
	}
}
