// Package metrics wires the Router/Master's operational counters into a
// VictoriaMetrics metrics.Set, exposed in Prometheus exposition format the
// same way the teacher's api0 package exposes its own request counters.
package metrics

import (
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Set groups every counter/histogram this gateway exports under one
// VictoriaMetrics set, so a single WritePrometheus call covers all of
// them.
type Set struct {
	set *metrics.Set

	PacketsRouted    *metrics.Counter
	PacketsBroadcast *metrics.Counter
	PacketsDropped   *metrics.Counter
	UnknownRoute     *metrics.Counter

	EnumerationRounds *metrics.Counter
	NodesDiscovered   *metrics.Counter
	NodesTimedOut     *metrics.Counter

	ParseErrors *metrics.Counter
	CRCFailures *metrics.Counter

	NetworkSize *metrics.Gauge

	networkSize uint64
}

// SetNetworkSize updates the value NetworkSize reports.
func (s *Set) SetNetworkSize(n uint64) {
	atomic.StoreUint64(&s.networkSize, n)
}

// New creates a Set and registers every metric under it.
func New() *Set {
	s := &Set{set: metrics.NewSet()}

	s.PacketsRouted = s.set.NewCounter(`idp_packets_routed_total`)
	s.PacketsBroadcast = s.set.NewCounter(`idp_packets_broadcast_total`)
	s.PacketsDropped = s.set.NewCounter(`idp_packets_dropped_total`)
	s.UnknownRoute = s.set.NewCounter(`idp_unknown_route_total`)

	s.EnumerationRounds = s.set.NewCounter(`idp_enumeration_rounds_total`)
	s.NodesDiscovered = s.set.NewCounter(`idp_nodes_discovered_total`)
	s.NodesTimedOut = s.set.NewCounter(`idp_nodes_timed_out_total`)

	s.ParseErrors = s.set.NewCounter(`idp_parse_errors_total`)
	s.CRCFailures = s.set.NewCounter(`idp_crc_failures_total`)

	s.NetworkSize = s.set.NewGauge(`idp_network_size`, func() float64 {
		return float64(atomic.LoadUint64(&s.networkSize))
	})

	return s
}

// WritePrometheus renders every metric in this set in Prometheus
// exposition format.
func (s *Set) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
