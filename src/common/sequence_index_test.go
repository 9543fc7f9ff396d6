package common

import (
	"reflect"
	"testing"
)

func TestSequenceIndexShiftWindow(t *testing.T) {
	s := NewSequenceIndex[string](0)

	s.Add(0, "a")
	s.Add(1, "b")
	s.Add(1, "c")
	s.Add(5, "d")
	s.Add(1000000, "e")

	if s.Len() != 5 {
		t.Fatalf("expected 5 keys, got %d", s.Len())
	}

	removed := []string{}
	s.ShiftWindow(2, func(seq int64, k string) { removed = append(removed, k) })

	if !reflect.DeepEqual(removed, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected removal order %v", removed)
	}

	if s.Floor() != 2 {
		t.Fatalf("expected floor 2, got %d", s.Floor())
	}

	// lower floors are ignored
	s.ShiftWindow(1, func(seq int64, k string) { t.Fatalf("%s removed by lower floor", k) })

	if s.Add(1, "late") {
		t.Fatal("keys below the floor should be refused")
	}

	// a wide jump walks the map instead of the interval
	removed = removed[:0]
	s.ShiftWindow(999999, func(seq int64, k string) { removed = append(removed, k) })
	if !reflect.DeepEqual(removed, []string{"d"}) || s.Len() != 1 {
		t.Fatalf("unexpected state after wide shift: %v, len %d", removed, s.Len())
	}
}

func TestSequenceIndexRangeAndRemove(t *testing.T) {
	s := NewSequenceIndex[int](0)
	for i := 0; i < 10; i++ {
		s.Add(int64(i%5), i)
	}

	if !s.Remove(3, 8) || s.Remove(3, 8) {
		t.Fatal("Remove should succeed exactly once")
	}

	got := []int{}
	s.Range(2, 4, func(seq int64, k int) { got = append(got, k) })

	if !reflect.DeepEqual(got, []int{2, 7, 3}) {
		t.Fatalf("unexpected range %v", got)
	}
}
