package sched

import (
	"context"
	"testing"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/chunk"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
)

func noop(_ context.Context, ins []values.T) (values.T, error) { return nil, nil }

func withAffinity(w affinity.Worker) *thunk.Thunk {
	return thunk.New(noop, chunk.NewChunk(w, 1, 1))
}

func TestSelectForWorkerPrefersAffine(t *testing.T) {
	a := withAffinity("w1")
	b := withAffinity("w2")
	ready := []*thunk.Thunk{a, b}
	order := map[*thunk.Thunk]int{a: 0, b: 1}
	idx, ok := selectForWorker(ready, "w2", []affinity.Worker{"w1", "w2"}, order)
	if !ok || ready[idx] != b {
		t.Fatalf("selectForWorker should prefer the affine task b, got idx=%d ok=%v", idx, ok)
	}
}

func TestSelectForWorkerFallsBackToUnaffined(t *testing.T) {
	plain := thunk.New(noop)
	affined := withAffinity("w1")
	ready := []*thunk.Thunk{plain, affined}
	order := map[*thunk.Thunk]int{plain: 0, affined: 1}
	idx, ok := selectForWorker(ready, "w2", []affinity.Worker{"w1", "w2"}, order)
	if !ok || ready[idx] != plain {
		t.Fatalf("selectForWorker should fall back to the unaffined task, got idx=%d ok=%v", idx, ok)
	}
}

func TestSelectForWorkerOrphanedFallsBack(t *testing.T) {
	affined := withAffinity("w9") // not live
	ready := []*thunk.Thunk{affined}
	order := map[*thunk.Thunk]int{affined: 0}
	idx, ok := selectForWorker(ready, "w2", []affinity.Worker{"w1", "w2"}, order)
	if !ok || ready[idx] != affined {
		t.Fatal("a task affined only to dead workers should be pickable by any live worker")
	}
}

func TestSelectForWorkerNoneMatches(t *testing.T) {
	affined := withAffinity("w1")
	ready := []*thunk.Thunk{affined}
	order := map[*thunk.Thunk]int{affined: 0}
	_, ok := selectForWorker(ready, "w2", []affinity.Worker{"w1", "w2"}, order)
	if ok {
		t.Fatal("a task affined to a live worker other than the candidate should not match")
	}
}

// TestPriorityTieBreak exercises spec's priority tie-break law: among
// two ready, non-affine, order-distinct tasks, the one closer to the
// root (smaller order index) is preferred, regardless of ready-list
// position.
func TestPriorityTieBreak(t *testing.T) {
	closer := thunk.New(noop)
	farther := thunk.New(noop)
	// farther appended after closer, so a naive "most recent" scan
	// would wrongly prefer farther.
	ready := []*thunk.Thunk{closer, farther}
	order := map[*thunk.Thunk]int{closer: 0, farther: 5}
	idx, ok := selectForWorker(ready, "w1", []affinity.Worker{"w1"}, order)
	if !ok || ready[idx] != closer {
		t.Fatalf("expected the smaller-order task to win the tie-break, got idx=%d", idx)
	}
}

func TestBestMatchTiesPreferMostRecent(t *testing.T) {
	a := thunk.New(noop)
	b := thunk.New(noop)
	ready := []*thunk.Thunk{a, b}
	order := map[*thunk.Thunk]int{a: 0, b: 0}
	idx, ok := bestMatch(ready, order, func(*thunk.Thunk) bool { return true })
	if !ok || ready[idx] != b {
		t.Fatalf("equal order indices should be broken by ready-list recency, got idx=%d", idx)
	}
}
