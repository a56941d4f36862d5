package ring

import (
	"reflect"
	"testing"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New[int](3)
	if _, ok := b.Last(); ok {
		t.Fatal("empty buffer should have no last entry")
	}
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	if got, want := b.Snapshot(), []int{3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if last, ok := b.Last(); !ok || last != 5 {
		t.Fatalf("Last = %v, %v", last, ok)
	}
}

func TestBufferPartialAndReset(t *testing.T) {
	b := New[string](4)
	b.Add("a")
	b.Add("b")
	if got, want := b.Snapshot(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot = %v, want %v", got, want)
	}
	b.Reset()
	if b.Len() != 0 || len(b.Snapshot()) != 0 {
		t.Fatal("Reset should empty the buffer")
	}
}

func TestNewClampsCapacity(t *testing.T) {
	b := New[int](0)
	b.Add(1)
	b.Add(2)
	if got := b.Snapshot(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("Snapshot = %v, want [2]", got)
	}
}
