package pagepool

import (
	"bytes"
	"testing"
)

func TestAllocateEmbed(t *testing.T) {
	m := NewManager(8, nil)
	w, err := m.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r, ok := w.Upgrade()
	if !ok {
		t.Fatal("Upgrade failed on fresh allocation")
	}
	defer r.Release()
	if r.Len() != 1 {
		t.Fatalf("embed Len = %d, want 1", r.Len())
	}
}

func TestAllocateDirectRoundTrip(t *testing.T) {
	m := NewManager(32, nil)
	payload := bytes.Repeat([]byte{0xAB}, PageSize*3+10)
	w, err := m.Allocate(len(payload))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r, ok := w.Upgrade()
	if !ok {
		t.Fatal("Upgrade failed")
	}
	defer r.Release()

	it := r.Slices(0)
	n := 0
	for {
		page, ok := it.Next()
		if !ok {
			break
		}
		copy(page, payload[n*PageSize:])
		n++
	}
	if n != 4 {
		t.Fatalf("wrote %d pages, want 4", n)
	}

	it = r.Slices(0)
	for i := 0; i < n; i++ {
		page, ok := it.Next()
		if !ok {
			t.Fatalf("read back: page %d missing", i)
		}
		want := payload[i*PageSize:]
		if len(want) > PageSize {
			want = want[:PageSize]
		}
		if !bytes.Equal(page[:len(want)], want) {
			t.Fatalf("read back: page %d content mismatch", i)
		}
	}
}

func TestAllocateRelativeLayout(t *testing.T) {
	m := NewManager(4096, nil)
	size := (entriesPerPage + 5) * PageSize
	w, err := m.Allocate(size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r, ok := w.Upgrade()
	if !ok {
		t.Fatal("Upgrade failed")
	}
	defer r.Release()

	it := r.Slices(0)
	n := 0
	for {
		page, ok := it.Next()
		if !ok {
			break
		}
		page[0] = byte(n)
		n++
	}
	if n != entriesPerPage+5 {
		t.Fatalf("iterated %d pages, want %d", n, entriesPerPage+5)
	}
}

func TestEvictionSkipsPinned(t *testing.T) {
	m := NewManager(2, nil)
	w1, err := m.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate 1: %v", err)
	}
	r1, ok := w1.Upgrade()
	if !ok {
		t.Fatal("Upgrade 1 failed")
	}
	defer r1.Release()

	if _, err := m.Allocate(100); err != nil {
		t.Fatalf("Allocate 2: %v", err)
	}

	// Arena holds 2 pages; both are now used by pinned/unpinned embed
	// allocations. A third allocation must evict the unpinned one but
	// cannot evict the pinned r1.
	if _, err := m.Allocate(100); err != nil {
		t.Fatalf("Allocate 3 should evict unpinned entry: %v", err)
	}

	if _, ok := w1.Upgrade(); !ok {
		t.Fatal("pinned allocation was evicted")
	}
}

func TestOutOfMemoryWhenAllPinned(t *testing.T) {
	m := NewManager(1, nil)
	w, err := m.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r, ok := w.Upgrade()
	if !ok {
		t.Fatal("Upgrade failed")
	}
	defer r.Release()

	if _, err := m.Allocate(100); err != ErrOutOfMemory {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestWeakRefStaleAfterEviction(t *testing.T) {
	m := NewManager(1, nil)
	w, err := m.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	r, ok := w.Upgrade()
	if !ok {
		t.Fatal("Upgrade failed")
	}
	r.Release() // unpin, now evictable

	if _, err := m.Allocate(100); err != nil {
		t.Fatalf("second Allocate: %v", err)
	}

	if _, ok := w.Upgrade(); ok {
		t.Fatal("weak ref upgraded after its allocation was evicted")
	}
}

func TestFreePagesConservedAcrossAllocFree(t *testing.T) {
	m := NewManager(16, nil)
	before := m.FreePages()

	w, err := m.Allocate(PageSize*2 + 1) // 1 header + 3 data pages = 4 pages
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got, want := m.FreePages(), before-4; got != want {
		t.Fatalf("FreePages after allocate = %d, want %d", got, want)
	}

	r, _ := w.Upgrade()
	r.Release() // unpin, but memory stays live until evicted

	// Allocating exactly the remaining free pages (1 header + remaining-1
	// data pages) fits without evicting the now-unpinned entry, and
	// consumes every page in the arena with no leftover.
	remaining := int(m.FreePages())
	if _, err := m.Allocate((remaining - 1) * PageSize); err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if m.FreePages() != 0 {
		t.Fatalf("FreePages = %d, want 0 after saturating arena", m.FreePages())
	}
}
