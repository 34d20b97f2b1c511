package metrics

// RouteObserver adapts a Set to idp.RouteObserver, so a Router's routing
// decisions land directly on the Prometheus counters.
type RouteObserver struct {
	Set *Set
}

func (o RouteObserver) Routed(broadcast bool) {
	o.Set.PacketsRouted.Inc()
	if broadcast {
		o.Set.PacketsBroadcast.Inc()
	}
}

func (o RouteObserver) Dropped() {
	o.Set.PacketsDropped.Inc()
	o.Set.UnknownRoute.Inc()
}

// ParseObserver adapts a Set to idp.ParseObserver, for a PacketParser's
// framing-error counts.
type ParseObserver struct {
	Set *Set
}

func (o ParseObserver) Resync()     { o.Set.ParseErrors.Inc() }
func (o ParseObserver) CRCFailure() { o.Set.CRCFailures.Inc() }

// EnumObserver adapts a Set to idp.EnumObserver, for a Master's
// enumeration-pass and node-lifecycle counts.
type EnumObserver struct {
	Set *Set
}

func (o EnumObserver) PassCompleted()  { o.Set.EnumerationRounds.Inc() }
func (o EnumObserver) NodeDiscovered() { o.Set.NodesDiscovered.Inc() }
func (o EnumObserver) NodeTimedOut()   { o.Set.NodesTimedOut.Inc() }
