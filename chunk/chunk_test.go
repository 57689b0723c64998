package chunk

import (
	"testing"
)

func TestChunkAffinity(t *testing.T) {
	c := NewChunk("w1", 42, 8)
	if !c.Affinity().Has("w1") {
		t.Error("chunk should carry its owning worker's affinity")
	}
	if c.Affinity().Has("w2") {
		t.Error("chunk should not carry an unrelated worker's affinity")
	}
}

func TestChunkDigestStable(t *testing.T) {
	a := NewChunk("w1", "hello", 5)
	b := NewChunk("w1", "hello", 5)
	if a.Digest() != b.Digest() {
		t.Error("chunks with identical worker/value should share a digest")
	}
	c := NewChunk("w1", "goodbye", 7)
	if a.Digest() == c.Digest() {
		t.Error("chunks with different values should have different digests")
	}
}

func TestViewInheritsAffinity(t *testing.T) {
	parent := NewChunk("w1", []byte("0123456789"), 10)
	v := &View{Parent: parent, Offset: 2, Length: 4}
	if !v.Affinity().Has("w1") {
		t.Error("view should inherit its parent's affinity")
	}
	if v.Size() != 4 {
		t.Errorf("view size = %d, want 4", v.Size())
	}
}

type fakeDeferred struct{ id uint64 }

func (f fakeDeferred) ID() uint64 { return f.id }

func TestCatDeferred(t *testing.T) {
	resolved := NewCat("bytes", []int64{2}, nil, []interface{}{
		NewChunk("w1", "a", 1),
		NewChunk("w1", "b", 1),
	})
	if resolved.Deferred() {
		t.Error("a Cat with only resolved cells should not be Deferred")
	}

	deferred := NewCat("bytes", []int64{2}, nil, []interface{}{
		NewChunk("w1", "a", 1),
		fakeDeferred{id: 7},
	})
	if !deferred.Deferred() {
		t.Error("a Cat containing a Deferred cell should be Deferred")
	}
}

func TestCatResolved(t *testing.T) {
	orig := NewCat("bytes", []int64{2}, nil, []interface{}{
		fakeDeferred{id: 1},
		NewChunk("w1", "b", 1),
	})
	replacement := NewChunk("w2", "a", 1)
	next := orig.Resolved(0, replacement)
	if orig.Grid[0] != (fakeDeferred{id: 1}) {
		t.Error("Resolved should not mutate the receiver's grid")
	}
	if next.Grid[0] != replacement {
		t.Error("Resolved should install the replacement at the given index")
	}
	if len(next.Domain) != 1 || next.Domain[0] != 2 {
		t.Error("Resolved should preserve domain metadata")
	}
}

func TestCatAffinityMergesResolvedCells(t *testing.T) {
	cat := NewCat("bytes", []int64{2}, nil, []interface{}{
		NewChunk("w1", "a", 1),
		NewChunk("w2", "b", 1),
	})
	aff := cat.Affinity()
	if !aff.Has("w1") || !aff.Has("w2") {
		t.Errorf("cat affinity %v should include both resolved cells' workers", aff)
	}
}

func TestChunkImplementsAbstractChunk(t *testing.T) {
	var _ AbstractChunk = NewChunk("w1", 1, 1)
	var _ AbstractChunk = &View{Parent: NewChunk("w1", 1, 1)}
	var _ AbstractChunk = NewCat("bytes", nil, nil, nil)
}
