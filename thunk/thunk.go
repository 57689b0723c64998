// Package thunk defines Thunk, the node of the executable DAG (spec
// §3): a function paired with its inputs, together with the flags
// that drive scheduling (cache, meta, get_result, persist) and the
// affinity derived from its inputs.
package thunk

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/values"
)

// Func is the function invoked to compute a Thunk's value. It
// receives the fetched values of each of the Thunk's inputs, in
// order, and returns the computed value or an error (captured by the
// worker protocol as a *errors.Error of kind errors.Eval).
type Func func(ctx context.Context, ins []values.T) (values.T, error)

var nextID uint64

// Input is the type of a single Thunk input: either another *Thunk
// (a Thunk-input, tracked by the scheduler's dependency machinery),
// an AbstractChunk (already-materialized data, possibly living on a
// specific worker), or a plain Go value (no affinity, fetched as-is).
type Input = interface{}

// Thunk is a node in the executable DAG (spec §3).
type Thunk struct {
	// id is globally unique and monotonically assigned. It is used in
	// debugging output and in a deferred Cat's digest; dispatch
	// tie-breaks in package sched use the graph's total order and
	// ready-list position, not the id.
	id uint64

	// F is the function to invoke.
	F Func
	// Inputs is the ordered sequence of this Thunk's inputs.
	Inputs []Input

	// Cache, if true, marks the computed result to be retained and
	// reused across compute invocations.
	Cache bool
	// CacheRef optionally holds a handle to a previously computed,
	// possibly still-live result (spec §4.3 cache-hit short-circuit).
	CacheRef chunk.AbstractChunk

	// Meta, if true, causes F to run on the master rather than a
	// worker, receiving inputs as-is with no data movement.
	Meta bool
	// GetResult, if true, causes the worker to return the raw computed
	// value rather than wrapping it in a chunk handle.
	GetResult bool
	// Persist, if true, marks the produced chunk so that workers will
	// not reclaim it on their own (spec §4.6 persist!).
	Persist bool

	// Ident is a human-readable identifier, for debugging output.
	Ident string
}

// New allocates a new Thunk with a freshly assigned, monotonically
// increasing id.
func New(f Func, inputs ...Input) *Thunk {
	return &Thunk{id: atomic.AddUint64(&nextID, 1), F: f, Inputs: inputs}
}

// ID returns the Thunk's globally unique, monotonically assigned
// identifier. Thunk implements chunk.Deferred so that a Cat can embed
// unresolved Thunks in its grid.
func (t *Thunk) ID() uint64 { return t.id }

// String renders a short human-readable summary of the Thunk,
// mirroring the teacher's Flow.String().
func (t *Thunk) String() string {
	ident := t.Ident
	if ident == "" {
		ident = "thunk"
	}
	flags := ""
	if t.Cache {
		flags += "c"
	}
	if t.Meta {
		flags += "m"
	}
	if t.Persist {
		flags += "p"
	}
	return fmt.Sprintf("%s#%d[%s](ninputs=%d)", ident, t.id, flags, len(t.Inputs))
}

// Affinity is the concatenation of the affinities of each input
// (spec §4.4): plain values contribute no affinity, Chunks contribute
// their owning worker, and Thunk-inputs contribute nothing, even after
// they have produced a Chunk result: only Chunks listed directly in
// Inputs count.
func (t *Thunk) Affinity() affinity.Set {
	var sets []affinity.Set
	for _, in := range t.Inputs {
		if ac, ok := in.(chunk.AbstractChunk); ok {
			sets = append(sets, ac.Affinity())
		}
	}
	return affinity.Merge(sets...)
}

// ThunkInputs returns the subset of t's Inputs that are themselves
// Thunks, in input order -- the edges the scheduler's dependency
// tracking walks.
func (t *Thunk) ThunkInputs() []*Thunk {
	var out []*Thunk
	for _, in := range t.Inputs {
		if d, ok := in.(*Thunk); ok {
			out = append(out, d)
		}
	}
	return out
}

// Validate returns an errors.Invalid error if the Thunk input relation
// reachable from root contains a cycle (spec §3 invariant, §7
// structural error). sched.Scheduler.Run calls it once at the start of
// every run.
func Validate(root *Thunk) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[*Thunk]int)
	var visit func(t *Thunk) error
	visit = func(t *Thunk) error {
		switch color[t] {
		case black:
			return nil
		case gray:
			return errors.E("thunk.Validate", errors.Invalid, errors.New("cycle detected in thunk graph"))
		}
		color[t] = gray
		for _, dep := range t.ThunkInputs() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[t] = black
		return nil
	}
	return visit(root)
}
