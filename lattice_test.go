package lattice

import (
	"context"
	"testing"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/compute"
	"github.com/latticerun/lattice/runctx"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
	"github.com/latticerun/lattice/worker"
)

func intLeaf(name string, v int) *compute.Leaf {
	return &compute.Leaf{
		Name: name,
		Stage: func(ctx *runctx.Context) (interface{}, error) {
			th := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
				return v, nil
			})
			th.GetResult = true
			return th, nil
		},
	}
}

func TestGatherDefaultLeaf(t *testing.T) {
	v, err := GatherDefault(context.Background(), intLeaf("x", 41))
	if err != nil {
		t.Fatal(err)
	}
	if v != 41 {
		t.Errorf("Gather = %v, want 41", v)
	}
}

// TestTupleComputation verifies spec §8 "Tuple computation": each
// element is staged and run, with the root thunk combining their
// results in order.
func TestTupleComputation(t *testing.T) {
	rc := runctx.New("local")
	tup := compute.NewTuple(intLeaf("a", 1), intLeaf("b", 2), intLeaf("c", 3))
	v, err := Gather(context.Background(), rc, tup, worker.NewLocal("local", 0))
	if err != nil {
		t.Fatal(err)
	}
	out, ok := v.(values.Tuple)
	if !ok {
		t.Fatalf("expected values.Tuple, got %T", v)
	}
	if len(out) != 3 || out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Errorf("unexpected tuple contents: %v", out)
	}
}

// TestCachedReuseAcrossComputes verifies spec §8 "Cached reuse": a
// Cached computation's leaf runs once, and a second Compute under the
// same Context reuses the persisted chunk via the cache-hit
// short-circuit rather than recomputing.
func TestCachedReuseAcrossComputes(t *testing.T) {
	calls := 0
	leaf := &compute.Leaf{
		Name: "expensive",
		Stage: func(ctx *runctx.Context) (interface{}, error) {
			return thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
				calls++
				return "result", nil
			}), nil
		},
	}
	cached := Cached(leaf)
	rc := runctx.New("local")
	w := worker.NewLocal("local", 0)

	a, err := Compute(context.Background(), rc, cached, w)
	if err != nil {
		t.Fatal(err)
	}
	v1, err := a.Gather(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v1 != "result" || calls != 1 {
		t.Fatalf("first compute: v=%v calls=%d", v1, calls)
	}

	b, err := Compute(context.Background(), rc, cached, w)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := b.Gather(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v2 != "result" {
		t.Fatalf("second compute value = %v, want \"result\"", v2)
	}
	if calls != 1 {
		t.Errorf("second compute should reuse the cached result, leaf ran %d times", calls)
	}
}

// TestMetaFusionOfCat verifies spec §8 "Meta fusion of Cat": a Cat
// with a deferred cell fuses into a single meta thunk and resolves
// into a non-deferred Cat once computed.
func TestMetaFusionOfCat(t *testing.T) {
	rc := runctx.New("local")
	w := worker.NewLocal("local", 0)

	catLeaf := &compute.Leaf{
		Name: "cat",
		Stage: func(ctx *runctx.Context) (interface{}, error) {
			cell := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
				return chunk.NewChunk("local", "cell-data", 9), nil
			})
			return chunk.NewCat("bytes", []int64{1}, nil, []interface{}{cell}), nil
		},
	}

	computed, err := Compute(context.Background(), rc, catLeaf, w)
	if err != nil {
		t.Fatal(err)
	}
	cat, ok := computed.Chunk.(*chunk.Cat)
	if !ok {
		t.Fatalf("expected *chunk.Cat, got %T", computed.Chunk)
	}
	if cat.Deferred() {
		t.Error("the computed Cat should no longer be Deferred")
	}
}
