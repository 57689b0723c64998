// Package graph implements the three derivations over the Thunk DAG
// rooted at a target node (spec §4.2): the dependents map, the
// offspring count, and the total (priority) order.
package graph

import "github.com/latticerun/lattice/thunk"

// Node is any value that may appear as a Thunk input: either a
// *thunk.Thunk or a leaf value (a Chunk or plain datum). Dependents
// tracks leaves too, so the scheduler's reference counter can observe
// when a leaf's last consumer has fired.
type Node = interface{}

// Dependents computes, for every node reachable from d (including d
// itself and its non-Thunk inputs), the set of Thunks that list it
// among their own inputs (spec §4.2 "Dependents map"). It is a
// derived mapping rebuilt fresh for each compute call (Design Note:
// "Cyclic metadata"), not a field stored on the node.
func Dependents(d *thunk.Thunk) map[Node]map[*thunk.Thunk]bool {
	deps := make(map[Node]map[*thunk.Thunk]bool)
	visited := make(map[*thunk.Thunk]bool)
	var visit func(t *thunk.Thunk)
	visit = func(t *thunk.Thunk) {
		if visited[t] {
			return
		}
		visited[t] = true
		if _, ok := deps[t]; !ok {
			deps[t] = make(map[*thunk.Thunk]bool)
		}
		for _, in := range t.Inputs {
			if _, ok := deps[in]; !ok {
				deps[in] = make(map[*thunk.Thunk]bool)
			}
			deps[in][t] = true
			if dt, ok := in.(*thunk.Thunk); ok {
				visit(dt)
			}
		}
	}
	visit(d)
	return deps
}

// Offspring computes, for every Thunk reachable from d, the number of
// Thunk-input edges reachable below it (spec §4.2 "Offspring count"),
// used as a branch-priority heuristic by TotalOrder. A shared input is
// counted once per path that reaches it, so the count can exceed the
// number of distinct nodes below (4 for the root of a diamond).
func Offspring(d *thunk.Thunk) map[*thunk.Thunk]int {
	counts := make(map[*thunk.Thunk]int)
	visited := make(map[*thunk.Thunk]bool)
	var visit func(t *thunk.Thunk) int
	visit = func(t *thunk.Thunk) int {
		if n, ok := counts[t]; ok {
			return n
		}
		if visited[t] {
			// Cycle guard: should never trigger given the acyclicity
			// invariant, but avoids infinite recursion if it is violated.
			return 0
		}
		visited[t] = true
		n := 0
		for _, dep := range t.ThunkInputs() {
			n += 1 + visit(dep)
		}
		counts[t] = n
		return n
	}
	visit(d)
	return counts
}

// TotalOrder computes a DFS pre-order numbering starting from d, in
// which, at each node, children are visited sorted by ascending
// offspring count (spec §4.2 "Total order"). Smaller numbers are
// closer to the root; the scheduler derives dispatch priority as
// -order[n] so that higher priority means closer to the root.
func TotalOrder(d *thunk.Thunk) map[*thunk.Thunk]int {
	offspring := Offspring(d)
	order := make(map[*thunk.Thunk]int)
	visited := make(map[*thunk.Thunk]bool)
	next := 0
	var visit func(t *thunk.Thunk)
	visit = func(t *thunk.Thunk) {
		if visited[t] {
			return
		}
		visited[t] = true
		order[t] = next
		next++
		children := append([]*thunk.Thunk{}, t.ThunkInputs()...)
		sortByOffspring(children, offspring)
		for _, c := range children {
			visit(c)
		}
	}
	visit(d)
	return order
}

// sortByOffspring performs an in-place ascending sort of ts by their
// offspring counts, stable on ties. It is a small insertion sort since
// fan-out at any one node is typically tiny; TotalOrder's total work
// remains linear in edge count for realistic graphs.
func sortByOffspring(ts []*thunk.Thunk, offspring map[*thunk.Thunk]int) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && offspring[ts[j-1]] > offspring[ts[j]]; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}

// Priority derives the dispatch tie-break priority of t from its
// total-order index: higher priority is closer to the root (spec
// §4.2, §4.3).
func Priority(order map[*thunk.Thunk]int, t *thunk.Thunk) int {
	return -order[t]
}
