package coverage

import "testing"

func TestMarkCoveredAndIsCovered(t *testing.T) {
	b := New()
	b.MarkCovered(Range{Start: 2, End: 5})
	for i := int64(0); i < 10; i++ {
		want := i >= 2 && i <= 5
		if got := b.IsCovered(i); got != want {
			t.Errorf("IsCovered(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestMissingIn(t *testing.T) {
	b := New()
	b.MarkCoveredPositions([]int64{0, 1, 2, 4, 5, 6, 7, 9})
	// grid has 10 positions (0..9); missing: {3}, {8}
	got := b.MissingIn(Range{Start: 0, End: 9})
	want := []Range{{3, 3}, {8, 8}}
	if len(got) != len(want) {
		t.Fatalf("MissingIn = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MissingIn[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMissingIn_FullyCovered(t *testing.T) {
	b := New()
	b.MarkCovered(Range{Start: 0, End: 9})
	got := b.MissingIn(Range{Start: 0, End: 9})
	if len(got) != 0 {
		t.Errorf("MissingIn on fully covered range = %v, want empty", got)
	}
}

func TestMissingIn_EmptyRange(t *testing.T) {
	b := New()
	if got := b.MissingIn(Range{Start: 5, End: 4}); got != nil {
		t.Errorf("MissingIn on empty range = %v, want nil", got)
	}
}

func TestLongestCoveredPrefix(t *testing.T) {
	b := New()
	b.MarkCoveredPositions([]int64{0, 1, 2, 4, 5})
	if got := b.LongestCoveredPrefix(); got != 3 {
		t.Errorf("LongestCoveredPrefix = %d, want 3", got)
	}
}

func TestLongestCoveredPrefix_ZeroUncovered(t *testing.T) {
	b := New()
	b.MarkCoveredPositions([]int64{1, 2, 3})
	if got := b.LongestCoveredPrefix(); got != 0 {
		t.Errorf("LongestCoveredPrefix = %d, want 0", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New()
	b.MarkCovered(Range{Start: 0, End: 100})
	b.MarkCoveredPositions([]int64{500, 501, 502})
	b.Version = 7

	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data, b.Version)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Cardinality() != b.Cardinality() {
		t.Errorf("cardinality mismatch: got %d want %d", decoded.Cardinality(), b.Cardinality())
	}
	if decoded.Version != 7 {
		t.Errorf("version mismatch: got %d want 7", decoded.Version)
	}
	for _, p := range []int64{0, 50, 100, 500, 502} {
		if !decoded.IsCovered(p) {
			t.Errorf("decoded missing expected position %d", p)
		}
	}
	if decoded.IsCovered(101) {
		t.Errorf("decoded has unexpected position 101 covered")
	}
}

func TestUnion(t *testing.T) {
	a := New()
	a.MarkCovered(Range{Start: 0, End: 2})
	b := New()
	b.MarkCovered(Range{Start: 5, End: 7})
	a.Union(b)
	for _, p := range []int64{0, 1, 2, 5, 6, 7} {
		if !a.IsCovered(p) {
			t.Errorf("Union: expected %d covered", p)
		}
	}
	if a.IsCovered(3) || a.IsCovered(4) {
		t.Errorf("Union: unexpected coverage between ranges")
	}
}

func TestClone_Independent(t *testing.T) {
	a := New()
	a.MarkCovered(Range{Start: 0, End: 1})
	c := a.Clone()
	c.MarkCovered(Range{Start: 5, End: 5})
	if a.IsCovered(5) {
		t.Errorf("mutating clone affected original")
	}
}
