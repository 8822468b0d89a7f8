package cluster

import "sort"

// LoadProvider reports the local in-flight load. The executor owns the
// counter; the scheduler and discovery only read it through this
// capability.
type LoadProvider interface {
	Load() float64
}

// Decision is the scheduler's verdict for one task. The zero value
// means "no candidate at all".
type Decision struct {
	Self bool   // execute on this node
	URL  string // forward to this peer (when Self is false)
}

// None reports whether no executor was available.
func (d Decision) None() bool {
	return !d.Self && d.URL == ""
}

// Scheduler picks the best executor for a task from the current
// neighbor set plus the local node.
//
// Scoring is 1/(1+load): monotone in load, bounded in (0, 1], a smooth
// preference for idle nodes with no hard threshold. The local node is
// always a candidate, so an isolated node keeps executing on its own.
type Scheduler struct {
	name string
	url  string
	load LoadProvider
}

// NewScheduler creates a Scheduler for the node identified by name/url.
func NewScheduler(name, url string, load LoadProvider) *Scheduler {
	return &Scheduler{name: name, url: url, load: load}
}

// Score is the preference value for a candidate with the given load.
func Score(load float64) float64 {
	return 1.0 / (1.0 + load)
}

// ChooseExecutor ranks self plus the neighbors by score and returns the
// winner. Neighbors carrying the local node's name are dropped before
// ranking (a node must never treat its own stale announcement as a
// peer). Ties keep list order: self first, then neighbors as given.
func (s *Scheduler) ChooseExecutor(neighbors []Neighbor) Decision {
	type candidate struct {
		url   string
		score float64
	}

	candidates := make([]candidate, 0, len(neighbors)+1)
	candidates = append(candidates, candidate{url: s.url, score: Score(s.load.Load())})
	for _, n := range neighbors {
		if n.Name == s.name {
			continue
		}
		candidates = append(candidates, candidate{url: n.URL, score: Score(n.Load())})
	}

	if len(candidates) == 0 {
		// Unreachable while self is included above; kept for callers
		// that rank an externally built list.
		return Decision{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	if best.url == s.url {
		return Decision{Self: true}
	}
	return Decision{URL: best.url}
}
