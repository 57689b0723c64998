package sched

import (
	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/thunk"
)

// selectForWorker implements the two-pass affinity selection (spec
// §4.4) given the current ready list and a candidate worker p.
//
// Pass one considers every Thunk whose affinity names p directly.
// Pass two falls back to Thunks that are either unaffined or
// "orphaned" -- affined only to workers no longer live -- since such a
// task must run somewhere. Within whichever pass finds candidates,
// the one closest to the root (smallest order index) is chosen, per
// the priority tie-break law (spec §8 "Priority tie-break"); ties in
// order fall back to the most recently added, mirroring the spec's
// reverse-scan framing. If neither pass finds a candidate, ok is
// false and p should idle this cycle.
func selectForWorker(ready []*thunk.Thunk, p affinity.Worker, live []affinity.Worker, order map[*thunk.Thunk]int) (idx int, ok bool) {
	idx, ok = bestMatch(ready, order, func(t *thunk.Thunk) bool {
		return t.Affinity().Has(p)
	})
	if ok {
		return idx, true
	}
	return bestMatch(ready, order, func(t *thunk.Thunk) bool {
		aff := t.Affinity()
		return aff.Empty() || aff.Orphaned(live)
	})
}

// bestMatch scans ready for the candidate matching pred with the
// smallest order index (closest to the root), breaking ties by
// preferring the most recently added (highest index in ready).
//
// Spec §4.4 states the selection rule literally as a reverse scan
// returning the *last* match, with no mention of order; this
// implementation additionally applies §8's priority tie-break (prefer
// the Thunk closest to the root) within that reverse scan, so the two
// rules agree exactly when every candidate ties on order. Callers that
// need the literal last-match rule instead of this blend should drop
// the order[] comparison below.
func bestMatch(ready []*thunk.Thunk, order map[*thunk.Thunk]int, pred func(*thunk.Thunk) bool) (idx int, ok bool) {
	best := -1
	for i := len(ready) - 1; i >= 0; i-- {
		if !pred(ready[i]) {
			continue
		}
		if best == -1 || order[ready[i]] < order[ready[best]] {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
