package history

import (
	"sync"
	"testing"
)

// TestAppendEvictsOldest verifies FIFO eviction after 51 appends.
func TestAppendEvictsOldest(t *testing.T) {
	b := New[int](50)

	for i := 1; i <= 51; i++ {
		b.Append(i)
	}

	if b.Len() != 50 {
		t.Fatalf("Expected 50 items, got %d", b.Len())
	}

	snap := b.Snapshot()
	if snap[0] != 2 {
		t.Errorf("Expected oldest remaining item 2, got %d", snap[0])
	}
	if snap[len(snap)-1] != 51 {
		t.Errorf("Expected newest item 51, got %d", snap[len(snap)-1])
	}
	for _, v := range snap {
		if v == 1 {
			t.Fatal("First appended item is still present")
		}
	}
}

// TestNeverExceedsCapacity verifies the length invariant over many appends.
func TestNeverExceedsCapacity(t *testing.T) {
	b := New[string](3)

	for i := 0; i < 100; i++ {
		b.Append("x")
		if b.Len() > 3 {
			t.Fatalf("Buffer grew to %d after %d appends", b.Len(), i+1)
		}
	}
}

// TestSnapshotIsCopy verifies that a snapshot does not observe later mutations.
func TestSnapshotIsCopy(t *testing.T) {
	b := New[int](2)
	b.Append(1)
	b.Append(2)

	snap := b.Snapshot()
	b.Append(3)

	if snap[0] != 1 || snap[1] != 2 {
		t.Errorf("Snapshot changed after append: %v", snap)
	}

	snap[0] = 99
	if got := b.Snapshot()[0]; got != 2 {
		t.Errorf("Mutating a snapshot changed the buffer: %d", got)
	}
}

// TestEmptySnapshot verifies that an empty buffer yields an empty, non-nil slice.
func TestEmptySnapshot(t *testing.T) {
	b := New[int](0)

	if b.Capacity() != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, b.Capacity())
	}
	snap := b.Snapshot()
	if snap == nil || len(snap) != 0 {
		t.Errorf("Expected empty non-nil snapshot, got %#v", snap)
	}
}

// TestConcurrentReaders verifies snapshots taken while a writer appends.
func TestConcurrentReaders(t *testing.T) {
	b := New[int](10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Append(i)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := b.Snapshot()
				for j := 1; j < len(snap); j++ {
					if snap[j] != snap[j-1]+1 {
						t.Errorf("Snapshot out of order: %v", snap)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
