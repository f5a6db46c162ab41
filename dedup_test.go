package trucksbus

import (
	"strconv"
	"testing"
)

func TestDedupWindow(t *testing.T) {
	t.Run("second add is rejected", func(t *testing.T) {
		d := NewDedupWindow(10)
		if !d.Add("m1") {
			t.Fatal("first add should report new")
		}
		if d.Add("m1") {
			t.Fatal("second add should report duplicate")
		}
		if !d.Seen("m1") || d.Seen("m2") {
			t.Fatal("Seen mismatch")
		}
	})

	t.Run("clears wholesale on overflow", func(t *testing.T) {
		d := NewDedupWindow(3)
		for _, id := range []string{"a", "b", "c"} {
			d.Add(id)
		}
		if d.Len() != 3 {
			t.Fatalf("expected 3 ids, got %d", d.Len())
		}
		if !d.Add("d") {
			t.Fatal("d should be new")
		}
		if d.Len() != 1 {
			t.Fatalf("expected window cleared to 1 id, got %d", d.Len())
		}
		if d.Seen("a") {
			t.Fatal("a should have been forgotten")
		}
	})

	t.Run("zero capacity uses default", func(t *testing.T) {
		d := NewDedupWindow(0)
		for i := 0; i < 1000; i++ {
			d.Add(strconv.Itoa(i))
		}
		if d.Len() != 1000 {
			t.Fatalf("expected 1000 ids, got %d", d.Len())
		}
	})

	t.Run("reset", func(t *testing.T) {
		d := NewDedupWindow(5)
		d.Add("x")
		d.Reset()
		if d.Seen("x") {
			t.Fatal("reset should forget ids")
		}
	})
}
