package stage

import (
	"context"
	"testing"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/compute"
	"github.com/latticerun/lattice/runctx"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

func constLeaf(name string, v values.T) *compute.Leaf {
	return &compute.Leaf{
		Name: name,
		Stage: func(ctx *runctx.Context) (interface{}, error) {
			return thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
				return v, nil
			}), nil
		},
	}
}

func TestCachedStageMemoizes(t *testing.T) {
	rc := runctx.New("w1")
	leaf := constLeaf("x", 1)
	a, err := CachedStage(rc, leaf)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CachedStage(rc, leaf)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("staging the same Computation twice under the same Context should return the identical node")
	}
}

func TestCachedStageDistinctAcrossContexts(t *testing.T) {
	leaf := constLeaf("x", 1)
	a, err := CachedStage(runctx.New("w1"), leaf)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CachedStage(runctx.New("w1"), leaf)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two different Contexts should never share a staged node")
	}
}

func TestStageTupleWrapsElements(t *testing.T) {
	rc := runctx.New("w1")
	tup := compute.NewTuple(constLeaf("a", 1), constLeaf("b", 2))
	staged, err := Stage(rc, tup)
	if err != nil {
		t.Fatal(err)
	}
	th, ok := staged.(*thunk.Thunk)
	if !ok {
		t.Fatalf("stageTuple should produce a *thunk.Thunk, got %T", staged)
	}
	if len(th.ThunkInputs()) != 2 {
		t.Errorf("tuple thunk should have 2 thunk inputs, got %d", len(th.ThunkInputs()))
	}
}

func TestStageCachedMarksPersist(t *testing.T) {
	rc := runctx.New("w1")
	cached := compute.NewCached(constLeaf("x", 1))
	staged, err := Stage(rc, cached)
	if err != nil {
		t.Fatal(err)
	}
	th, ok := staged.(*thunk.Thunk)
	if !ok {
		t.Fatalf("expected *thunk.Thunk, got %T", staged)
	}
	if !th.Cache || !th.Persist {
		t.Error("stageCached should mark the staged thunk Cache and Persist")
	}
}

func TestThunkizePassesThroughNonDeferred(t *testing.T) {
	rc := runctx.New("w1")
	c := chunk.NewChunk("w1", 1, 1)
	in, err := Thunkize(rc, c)
	if err != nil {
		t.Fatal(err)
	}
	if in != thunk.Input(c) {
		t.Error("Thunkize should pass an already-resolved chunk through unchanged")
	}
}

func TestThunkizeFusesDeferredCat(t *testing.T) {
	inner := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		return chunk.NewChunk("w1", "resolved", 8), nil
	})
	cat := chunk.NewCat("bytes", []int64{1}, nil, []interface{}{inner})
	rc := runctx.New("w1")
	in, err := Thunkize(rc, cat)
	if err != nil {
		t.Fatal(err)
	}
	fused, ok := in.(*thunk.Thunk)
	if !ok {
		t.Fatalf("Thunkize on a deferred Cat should return a *thunk.Thunk, got %T", in)
	}
	if !fused.Meta || !fused.GetResult {
		t.Error("a fused Cat thunk should be meta and get_result")
	}
	if len(fused.ThunkInputs()) != 1 || fused.ThunkInputs()[0] != inner {
		t.Error("fused thunk should depend on the Cat's deferred cell")
	}

	v, err := fused.F(context.Background(), []values.T{chunk.NewChunk("w1", "resolved", 8)})
	if err != nil {
		t.Fatal(err)
	}
	resolvedCat, ok := v.(*chunk.Cat)
	if !ok {
		t.Fatalf("fused thunk's function should return a *chunk.Cat, got %T", v)
	}
	if resolvedCat.Deferred() {
		t.Error("the rebuilt Cat should no longer be Deferred")
	}
	if len(resolvedCat.Domain) != 1 || resolvedCat.Domain[0] != 1 {
		t.Error("the rebuilt Cat should preserve its original domain")
	}
}
