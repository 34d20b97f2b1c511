package metrics

import "testing"

func TestRouteObserverCounts(t *testing.T) {
	s := New()
	o := RouteObserver{Set: s}

	o.Routed(true)
	o.Routed(false)
	o.Dropped()

	if got := s.PacketsRouted.Get(); got != 2 {
		t.Errorf("PacketsRouted = %d, want 2", got)
	}
	if got := s.PacketsBroadcast.Get(); got != 1 {
		t.Errorf("PacketsBroadcast = %d, want 1", got)
	}
	if got := s.PacketsDropped.Get(); got != 1 {
		t.Errorf("PacketsDropped = %d, want 1", got)
	}
	if got := s.UnknownRoute.Get(); got != 1 {
		t.Errorf("UnknownRoute = %d, want 1", got)
	}
}

func TestParseObserverCounts(t *testing.T) {
	s := New()
	o := ParseObserver{Set: s}

	o.Resync()
	o.Resync()
	o.CRCFailure()

	if got := s.ParseErrors.Get(); got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
	if got := s.CRCFailures.Get(); got != 1 {
		t.Errorf("CRCFailures = %d, want 1", got)
	}
}

func TestEnumObserverCounts(t *testing.T) {
	s := New()
	o := EnumObserver{Set: s}

	o.PassCompleted()
	o.NodeDiscovered()
	o.NodeDiscovered()
	o.NodeTimedOut()

	if got := s.EnumerationRounds.Get(); got != 1 {
		t.Errorf("EnumerationRounds = %d, want 1", got)
	}
	if got := s.NodesDiscovered.Get(); got != 2 {
		t.Errorf("NodesDiscovered = %d, want 2", got)
	}
	if got := s.NodesTimedOut.Get(); got != 1 {
		t.Errorf("NodesTimedOut = %d, want 1", got)
	}
}
