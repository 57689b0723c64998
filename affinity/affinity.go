// Package affinity implements the worker-affinity data carried by
// Thunks and consulted during dispatch (spec §4.4). Affinity is kept
// as first-class (worker, weight) data, per design note "Affinity as
// first-class data", even though the current selector (package sched)
// ignores the weight and only tests set membership; future dispatch
// policies may use it.
package affinity

// Worker identifies a worker process that a Thunk may be dispatched
// to, or that a Chunk's data currently lives on.
type Worker string

// Pair is a single (worker, weight) affinity entry.
type Pair struct {
	Worker Worker
	Weight float64
}

// Set is an unordered collection of affinity pairs, as produced by a
// Thunk's inputs. A nil/empty Set denotes "no affinity": the task may
// run anywhere.
type Set []Pair

// Of returns a singleton Set expressing that a Chunk (or other
// datum) lives entirely on worker w.
func Of(w Worker) Set {
	if w == "" {
		return nil
	}
	return Set{{Worker: w, Weight: 1}}
}

// Merge concatenates a set of affinity Sets, as when computing a
// Thunk's affinity from the affinities of all of its inputs.
func Merge(sets ...Set) Set {
	var n int
	for _, s := range sets {
		n += len(s)
	}
	if n == 0 {
		return nil
	}
	out := make(Set, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// Has reports whether worker w appears anywhere in the set.
func (s Set) Has(w Worker) bool {
	for _, p := range s {
		if p.Worker == w {
			return true
		}
	}
	return false
}

// Empty reports whether the set carries no affinity at all.
func (s Set) Empty() bool { return len(s) == 0 }

// Orphaned reports whether the set is either empty, or affine only to
// workers that are no longer present in live (spec §4.4, second
// pass): such a task is "orphaned" and must run somewhere.
func (s Set) Orphaned(live []Worker) bool {
	if s.Empty() {
		return true
	}
	for _, p := range s {
		for _, w := range live {
			if p.Worker == w {
				return false
			}
		}
	}
	return true
}
