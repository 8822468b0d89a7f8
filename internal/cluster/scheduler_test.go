package cluster

import "testing"

type loadFunc func() float64

func (f loadFunc) Load() float64 { return f() }

func fixedLoad(v float64) LoadProvider {
	return loadFunc(func() float64 { return v })
}

func neighbor(name, url string, load float64) Neighbor {
	return Neighbor{Name: name, URL: url, Metrics: map[string]any{"load": load}}
}

func TestChooseExecutorPrefersIdleSelf(t *testing.T) {
	s := NewScheduler("yo", "http://yo:8100", fixedLoad(0))

	d := s.ChooseExecutor([]Neighbor{neighbor("vecino", "http://vecino:8101", 0.99)})
	if !d.Self {
		t.Fatalf("idle self lost to a loaded neighbor: %+v", d)
	}
}

func TestChooseExecutorForwardsWhenBusy(t *testing.T) {
	s := NewScheduler("yo", "http://yo:8100", fixedLoad(5))

	d := s.ChooseExecutor([]Neighbor{
		neighbor("v1", "http://v1:8101", 3),
		neighbor("v2", "http://v2:8102", 1),
	})
	if d.Self || d.URL != "http://v2:8102" {
		t.Fatalf("decision = %+v, want forward to v2", d)
	}
}

func TestChooseExecutorIsolatedNode(t *testing.T) {
	s := NewScheduler("yo", "http://yo:8100", fixedLoad(42))

	if d := s.ChooseExecutor(nil); !d.Self {
		t.Fatalf("isolated node did not choose itself: %+v", d)
	}
}

func TestChooseExecutorDropsSelfNamedNeighbors(t *testing.T) {
	// A stale announcement under the node's own name must never count
	// as a peer, even when it advertises a better load.
	s := NewScheduler("yo", "http://yo:8100", fixedLoad(9))

	d := s.ChooseExecutor([]Neighbor{neighbor("yo", "http://impostor:9999", 0)})
	if !d.Self {
		t.Fatalf("self-named neighbor was chosen: %+v", d)
	}
}

func TestChooseExecutorStableTieBreak(t *testing.T) {
	// Equal scores keep list order: self first, then neighbors as
	// given.
	s := NewScheduler("yo", "http://yo:8100", fixedLoad(2))

	d := s.ChooseExecutor([]Neighbor{
		neighbor("v1", "http://v1:8101", 2),
		neighbor("v2", "http://v2:8102", 2),
	})
	if !d.Self {
		t.Fatalf("tie did not keep self first: %+v", d)
	}

	busy := NewScheduler("yo", "http://yo:8100", fixedLoad(7))
	d = busy.ChooseExecutor([]Neighbor{
		neighbor("v1", "http://v1:8101", 2),
		neighbor("v2", "http://v2:8102", 2),
	})
	if d.URL != "http://v1:8101" {
		t.Fatalf("neighbor tie broke out of order: %+v", d)
	}
}

func TestScoreMonotone(t *testing.T) {
	if Score(0) != 1 {
		t.Fatalf("Score(0) = %v, want 1", Score(0))
	}
	prev := Score(0)
	for _, load := range []float64{0.5, 1, 3, 10, 100} {
		s := Score(load)
		if s >= prev || s <= 0 {
			t.Fatalf("Score(%v) = %v not strictly decreasing in (0,1]", load, s)
		}
		prev = s
	}
}
