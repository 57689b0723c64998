package affinity

import "testing"

func TestOfEmpty(t *testing.T) {
	if s := Of(""); s != nil {
		t.Errorf("Of(\"\") = %v, want nil", s)
	}
}

func TestMergeHas(t *testing.T) {
	s := Merge(Of("w1"), Of("w2"), nil)
	if !s.Has("w1") || !s.Has("w2") {
		t.Fatalf("merged set %v missing expected workers", s)
	}
	if s.Has("w3") {
		t.Fatalf("merged set %v should not have w3", s)
	}
}

func TestOrphaned(t *testing.T) {
	s := Of("w1")
	if s.Orphaned([]Worker{"w1", "w2"}) {
		t.Error("affinity matching a live worker should not be orphaned")
	}
	if !s.Orphaned([]Worker{"w2", "w3"}) {
		t.Error("affinity matching no live worker should be orphaned")
	}
	var empty Set
	if !empty.Orphaned(nil) {
		t.Error("an empty set is trivially orphaned")
	}
}
