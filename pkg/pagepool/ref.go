package pagepool

// WeakRef is a non-owning handle to an allocation. It survives eviction
// without pinning anything; Upgrade must be called before every access.
type WeakRef struct {
	cell *refCell
}

// Upgrade produces a strong RefPage if the allocation is still live,
// incrementing its use count so it cannot be evicted while held. The
// caller must call Release when done.
func (w WeakRef) Upgrade() (RefPage, bool) {
	w.cell.mu.Lock()
	h := w.cell.h
	w.cell.mu.Unlock()
	if h == nil {
		return RefPage{}, false
	}
	h.incUse()
	h.updateLRU()
	return RefPage{h: h}, true
}

// RefPage is a strong, pinning reference obtained from WeakRef.Upgrade.
type RefPage struct {
	h *header
}

// Downgrade returns a WeakRef sharing this allocation's referencer cell,
// without releasing the strong reference held by r.
func (r RefPage) Downgrade() WeakRef {
	return WeakRef{cell: r.h.cell}
}

// Release drops the pin taken by Upgrade. Go's GC reclaims the header
// value itself once nothing references it; Release's only job is to
// restore evictability (there is no Drop to do this automatically).
func (r RefPage) Release() {
	if r.h == nil {
		return
	}
	r.h.decUse()
}

// Len reports the payload size in pages.
func (r RefPage) Len() int {
	if r.h == nil {
		return 0
	}
	switch r.h.layout() {
	case layoutEmbed:
		return 1
	default:
		return int(r.h.dataPages)
	}
}

// PageIter walks an allocation's data pages in order starting at a given
// page index, matching the forward access pattern member decoding uses.
type PageIter struct {
	h    *header
	next uint32
}

// Slices returns an iterator over this allocation's pages, starting at
// page index from, and moves the allocation to the LRU front.
func (r RefPage) Slices(from uint32) *PageIter {
	r.h.updateLRU()
	return &PageIter{h: r.h, next: from}
}

// Next returns the next page's bytes, or ok=false once the allocation is
// exhausted.
func (it *PageIter) Next() (data []byte, ok bool) {
	data, ok = it.h.slice(it.next)
	if ok {
		it.next++
	}
	return data, ok
}

// SlicesMut is identical to Slices: pages are always returned as mutable
// byte slices directly over arena memory, since pagepool has no separate
// read-only view (callers that only read simply don't write).
func (r RefPage) SlicesMut(from uint32) *PageIter {
	return r.Slices(from)
}
