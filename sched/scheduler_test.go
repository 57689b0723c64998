package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/values"
	"github.com/latticerun/lattice/worker"

	"github.com/latticerun/lattice/thunk"
)

func addOne(_ context.Context, ins []values.T) (values.T, error) {
	return ins[0].(int) + 1, nil
}

func sum(_ context.Context, ins []values.T) (values.T, error) {
	total := 0
	for _, v := range ins {
		total += v.(int)
	}
	return total, nil
}

// TestDiamondSharedLeafRunsLeafOnce verifies that a diamond graph
// sharing a single leaf computes the leaf exactly once (spec §8
// "Diamond graph with shared leaf").
func TestDiamondSharedLeafRunsLeafOnce(t *testing.T) {
	calls := 0
	leaf := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		calls++
		return 10, nil
	})
	leaf.GetResult = true
	a := thunk.New(addOne, leaf)
	a.GetResult = true
	b := thunk.New(addOne, leaf)
	b.GetResult = true
	root := thunk.New(sum, a, b)
	root.GetResult = true

	s := New(worker.NewLocal("w1", 0))
	v, _, err := s.Run(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if v != 22 {
		t.Errorf("result = %v, want 22", v)
	}
	if calls != 1 {
		t.Errorf("leaf should run exactly once, ran %d times", calls)
	}
}

// TestFailurePropagation verifies that an error raised by any Thunk's
// function aborts the run and is surfaced to the caller (spec §8
// "Failure propagation").
func TestFailurePropagation(t *testing.T) {
	failing := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		return nil, errors.New("deliberate failure")
	})
	root := thunk.New(sum, failing)
	root.GetResult = true

	s := New(worker.NewLocal("w1", 0))
	_, _, err := s.Run(context.Background(), root)
	if err == nil {
		t.Fatal("expected an error from the failing leaf")
	}
}

// TestAffinityRouting verifies that a Thunk whose sole input is a
// Chunk resident on a particular worker is dispatched to that worker
// (spec §8 "Affinity routing").
func TestAffinityRouting(t *testing.T) {
	w1 := worker.NewLocal("w1", 0)
	w2 := worker.NewLocal("w2", 0)

	produced := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		return 5, nil
	})
	leafResult := w1.DoTask(context.Background(), worker.TaskRequest{ThunkID: 99, F: produced.F})

	consumer := thunk.New(func(ctx context.Context, ins []values.T) (values.T, error) {
		return ins[0], nil
	}, leafResult.Chunk)
	consumer.GetResult = true

	s := New(w1, w2)
	v, _, err := s.Run(context.Background(), consumer)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("result = %v, want 5", v)
	}
}

// TestCacheHitShortCircuit verifies that a Thunk carrying a still-live
// CacheRef is not recomputed (spec §8 "Cached reuse", §3 "Cache
// persistence").
func TestCacheHitShortCircuit(t *testing.T) {
	w := worker.NewLocal("w1", 0)
	calls := 0
	cached := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		calls++
		return 7, nil
	})
	cached.Cache = true
	cached.Persist = true

	s := New(w)
	_, ch, err := s.Run(context.Background(), cached)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("first run should compute once, got %d", calls)
	}
	cached.CacheRef = ch

	s2 := New(w)
	_, _, err = s2.Run(context.Background(), cached)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("second run should reuse the cached result via short-circuit, ran %d times total", calls)
	}
}

// TestMetaRunsInline verifies that a Meta Thunk's function observes
// its inputs directly -- the unmoved chunk handle its input produced,
// rather than a value fetched via a worker round-trip -- and that the
// scheduler still completes normally around it.
func TestMetaRunsInline(t *testing.T) {
	inner := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		return 3, nil
	})
	meta := thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
		return ins[0].(*chunk.Chunk).Value.(int) * 2, nil
	}, inner)
	meta.Meta = true
	meta.GetResult = true

	s := New(worker.NewLocal("w1", 0))
	v, _, err := s.Run(context.Background(), meta)
	if err != nil {
		t.Fatal(err)
	}
	if v != 6 {
		t.Errorf("result = %v, want 6", v)
	}
}
