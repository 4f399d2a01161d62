package dumbdex

import "testing"

func newTestDumbdex(t *testing.T, maxIndexes uint32) *Dumbdex {
	t.Helper()
	region := 8 + maxIndexes*(IndexEntrySize+FreeEntrySize)
	buf := make([]byte, region)
	return Allocate(buf, maxIndexes)
}

func TestAllocateStartsEmptyWithFullFreeList(t *testing.T) {
	d := newTestDumbdex(t, 4)
	if d.Len() != 0 {
		t.Fatalf("got Len() %d, want 0", d.Len())
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed on fresh dumbdex: %v", err)
	}
}

func TestInsertAssignsBlocksFromOne(t *testing.T) {
	d := newTestDumbdex(t, 4)
	bn, err := d.Insert(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bn != 1 {
		t.Errorf("got block %d, want 1", bn)
	}
}

func TestInsertIsIdempotentOnExactTimestamp(t *testing.T) {
	d := newTestDumbdex(t, 4)
	first, _ := d.Insert(100)
	again, err := d.Insert(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != first {
		t.Errorf("re-insert of the same first_ts returned block %d, want %d", again, first)
	}
	if d.Len() != 1 {
		t.Errorf("got Len() %d, want 1 after idempotent re-insert", d.Len())
	}
}

func TestInsertKeepsIndexSorted(t *testing.T) {
	d := newTestDumbdex(t, 4)
	d.Insert(300)
	d.Insert(100)
	d.Insert(200)

	var prev int64 = -1
	for i := d.Begin(); i < d.End(); i++ {
		ts, _ := d.EntryAt(i)
		if ts <= prev {
			t.Fatalf("index not sorted: entry %d has ts %d after %d", i, ts, prev)
		}
		prev = ts
	}
}

func TestInsertEvictsSmallestWhenFreeListExhausted(t *testing.T) {
	d := newTestDumbdex(t, 2)
	d.Insert(100)
	d.Insert(200)
	if d.Len() != 2 {
		t.Fatalf("got Len() %d, want 2", d.Len())
	}

	// Free list is now exhausted; inserting a third entry must evict the
	// smallest first_ts (100) and reuse its block.
	bn, err := d.Insert(300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("got Len() %d after eviction, want 2", d.Len())
	}
	idx := d.FindLowerBound(100)
	if idx < d.End() {
		if ts, _ := d.EntryAt(idx); ts == 100 {
			t.Fatal("entry 100 should have been evicted")
		}
	}
	if bn == 0 {
		t.Error("evicted block number should be reused, not zero")
	}
}

func TestRemoveReturnsBlockToFreeList(t *testing.T) {
	d := newTestDumbdex(t, 4)
	bn, _ := d.Insert(100)
	d.Remove(100)
	if d.Len() != 0 {
		t.Fatalf("got Len() %d, want 0 after remove", d.Len())
	}

	again, err := d.Insert(200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != bn {
		t.Errorf("freed block %d was not reused, got %d", bn, again)
	}
}

func TestRemoveIsNoopWhenAbsent(t *testing.T) {
	d := newTestDumbdex(t, 4)
	d.Insert(100)
	d.Remove(999)
	if d.Len() != 1 {
		t.Fatalf("got Len() %d, want 1 after removing an absent entry", d.Len())
	}
}

func TestValidateAccountsForEveryBlockNumber(t *testing.T) {
	d := newTestDumbdex(t, 3)
	d.Insert(100)
	d.Insert(200)
	d.Remove(100)
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed on a well-formed dumbdex: %v", err)
	}
}
