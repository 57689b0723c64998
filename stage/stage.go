// Package stage implements the stager and memoizer (spec §4.1): it
// turns Computations into Thunks (or Chunks/Cats), de-duplicating via
// a per-Context cache so that equal sub-expressions share nodes.
package stage

import (
	"context"
	"fmt"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/compute"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/runctx"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

// Func stages a Computation of a particular Kind into a *thunk.Thunk,
// a chunk.AbstractChunk, or a *chunk.Cat.
type Func func(ctx *runctx.Context, c compute.Computation) (interface{}, error)

var registry = map[compute.Kind]Func{}

func init() {
	registry[compute.KindLeaf] = stageLeaf
	registry[compute.KindTuple] = stageTuple
	registry[compute.KindCached] = stageCached
	registry[compute.KindComputed] = stageComputed
}

// Register installs a stage function for a new Computation Kind (spec
// §6 stager extension point). It is not safe to call Register
// concurrently with Stage.
func Register(kind compute.Kind, fn Func) { registry[kind] = fn }

// Stage produces a Thunk (or Chunk/Cat) representing c (spec §4.1).
// Callers generally want CachedStage, which additionally memoizes the
// result per Context; Stage always re-stages.
func Stage(ctx *runctx.Context, c compute.Computation) (interface{}, error) {
	fn, ok := registry[c.Kind()]
	if !ok {
		return nil, errors.E("stage", errors.Invalid, errors.Errorf("no stage function registered for kind %q", c.Kind()))
	}
	return fn(ctx, c)
}

// CachedStage is the memoized form of Stage (spec §4.1
// "cached_stage"): it consults ctx's per-Context weak-keyed mapping
// from Computation to staged result. On a hit it returns the cached
// node; on a miss it invokes Stage and stores the result. Because the
// mapping is keyed on (Context, Computation.Key()), staging the same
// Computation twice under the same Context yields the identical
// staged value (spec §3 memoization invariant, §8 "Memoization").
func CachedStage(ctx *runctx.Context, c compute.Computation) (interface{}, error) {
	key := c.Key()
	if v, ok := ctx.StageCacheLookup(key); ok {
		return v, nil
	}
	v, err := Stage(ctx, c)
	if err != nil {
		return nil, err
	}
	ctx.StageCacheStore(key, v)
	return v, nil
}

func stageLeaf(ctx *runctx.Context, c compute.Computation) (interface{}, error) {
	leaf := c.(*compute.Leaf)
	if leaf.Stage == nil {
		return nil, errors.E("stage", "leaf", errors.Invalid, errors.Errorf("leaf computation %q has no Stage function", leaf.Name))
	}
	return leaf.Stage(ctx)
}

// stageTuple recursively stages each element, then wraps them in a
// single Thunk whose function is tuple construction (spec §4.1).
func stageTuple(ctx *runctx.Context, c compute.Computation) (interface{}, error) {
	tup := c.(*compute.Tuple)
	inputs := make([]thunk.Input, len(tup.Elems))
	for i, elem := range tup.Elems {
		staged, err := CachedStage(ctx, elem)
		if err != nil {
			return nil, errors.E("stage", "tuple", err)
		}
		resolved, err := Thunkize(ctx, staged)
		if err != nil {
			return nil, err
		}
		inputs[i] = resolved
	}
	t := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		out := make(values.Tuple, len(ins))
		copy(out, ins)
		return out, nil
	}, inputs...)
	t.Ident = "tuple"
	return t, nil
}

// stageCached stages the inner Computation and marks the result
// persisted, so the scheduler must not free it after first
// consumption (spec §4.1).
func stageCached(ctx *runctx.Context, c compute.Computation) (interface{}, error) {
	cached := c.(*compute.Cached)
	staged, err := CachedStage(ctx, cached.Inner)
	if err != nil {
		return nil, err
	}
	switch v := staged.(type) {
	case *thunk.Thunk:
		v.Cache = true
		v.Persist = true
		return v, nil
	case chunk.AbstractChunk:
		// Already materialized; nothing further to mark.
		return v, nil
	default:
		return nil, errors.E("stage", "cached", errors.Invalid, errors.Errorf("unexpected staged type %T", staged))
	}
}

// stageComputed returns the wrapped chunk directly (spec §4.1).
func stageComputed(_ *runctx.Context, c compute.Computation) (interface{}, error) {
	return c.(*compute.Computed).Chunk, nil
}

// Thunkize implements thunkize(ctx, x) (spec §4.1): it returns x
// unchanged for plain Chunks and Thunks. For a Cat containing any
// Thunk, it fuses the whole grid into a single meta=true Thunk whose
// function receives the per-cell results and rebuilds a resolved Cat,
// preserving the original domain, chunk layout, and chunk type (spec
// §8 scenario 5, "Meta fusion of Cat").
func Thunkize(ctx *runctx.Context, x interface{}) (thunk.Input, error) {
	switch v := x.(type) {
	case *thunk.Thunk:
		return v, nil
	case *chunk.Cat:
		if !v.Deferred() {
			return v, nil
		}
		return fuseCat(v), nil
	case chunk.AbstractChunk:
		return v, nil
	default:
		return nil, errors.E("thunkize", errors.Invalid, errors.Errorf("unstageable value of type %T", x))
	}
}

// fuseCat builds the single meta Thunk that resolves a deferred Cat.
func fuseCat(cat *chunk.Cat) *thunk.Thunk {
	// cellIndex maps each Thunk-input's position in the fused Thunk's
	// Inputs slice back to its position in the grid, so the Thunk's
	// function can fold each resolved cell back in via Cat.Resolved.
	var (
		inputs    []thunk.Input
		cellIndex []int
	)
	for i, cell := range cat.Grid {
		if t, ok := cell.(*thunk.Thunk); ok {
			inputs = append(inputs, t)
			cellIndex = append(cellIndex, i)
		}
	}
	t := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		out := cat
		for i, v := range ins {
			ac, ok := v.(chunk.AbstractChunk)
			if !ok {
				return nil, errors.E("fuseCat", errors.Invalid, errors.Errorf("cell %d resolved to non-chunk value %T", cellIndex[i], v))
			}
			out = out.Resolved(cellIndex[i], ac)
		}
		return out, nil
	}, inputs...)
	t.Meta = true
	t.GetResult = true
	t.Ident = fmt.Sprintf("fuse-cat(%s)", cat.ChunkType)
	return t
}
