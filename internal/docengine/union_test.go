package docengine

import (
	"bytes"
	"testing"
)

func TestMergeUpdatesIsOrderIndependent(t *testing.T) {
	e := NewUnion()
	a := []byte("x\ny")
	b := []byte("y\nz")
	ab, _ := e.MergeUpdates([][]byte{a, b})
	ba, _ := e.MergeUpdates([][]byte{b, a})
	if !bytes.Equal(ab, ba) {
		t.Fatalf("merge not commutative: %q vs %q", ab, ba)
	}
	if string(ab) != "x\ny\nz" {
		t.Fatalf("unexpected merge: %q", ab)
	}
}

func TestMergeUpdatesIsIdempotent(t *testing.T) {
	e := NewUnion()
	a := []byte("x\ny")
	once, _ := e.MergeUpdates([][]byte{a})
	twice, _ := e.MergeUpdates([][]byte{a, a})
	if !bytes.Equal(once, twice) {
		t.Fatalf("merge not idempotent")
	}
}

func TestMergeUpdatesIsAssociative(t *testing.T) {
	e := NewUnion()
	a, b, c := []byte("1"), []byte("2"), []byte("3")
	ab, _ := e.MergeUpdates([][]byte{a, b})
	left, _ := e.MergeUpdates([][]byte{ab, c})
	bc, _ := e.MergeUpdates([][]byte{b, c})
	right, _ := e.MergeUpdates([][]byte{a, bc})
	if !bytes.Equal(left, right) {
		t.Fatalf("merge not associative: %q vs %q", left, right)
	}
}

func TestAttributionSetAlgebra(t *testing.T) {
	e := NewUnion()
	a := []byte("u1\nu2\nu3")
	b := []byte("u2\nu4")

	excl, _ := e.ExcludeAttributions(a, b)
	if string(excl) != "u1\nu3" {
		t.Fatalf("exclude: %q", excl)
	}
	inter, _ := e.IntersectAttributions(a, b)
	if string(inter) != "u2" {
		t.Fatalf("intersect: %q", inter)
	}
	filt, _ := e.FilterAttributions(a, [][]byte{[]byte("u3"), []byte("u9")})
	if string(filt) != "u3" {
		t.Fatalf("filter: %q", filt)
	}
	merged, _ := e.MergeAttributions([][]byte{a, b})
	if string(merged) != "u1\nu2\nu3\nu4" {
		t.Fatalf("merge: %q", merged)
	}
}

func TestEmptyInputs(t *testing.T) {
	e := NewUnion()
	if out, _ := e.MergeUpdates(nil); out != nil {
		t.Fatalf("merge of nothing should be empty, got %q", out)
	}
	if out, _ := e.ApplyUpdate(nil, []byte("x")); string(out) != "x" {
		t.Fatalf("apply to empty doc: %q", out)
	}
	if sv, _ := e.StateVector(nil); sv != nil {
		t.Fatalf("state vector of empty doc: %q", sv)
	}
}
