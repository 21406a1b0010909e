package pagepool

import (
	"fmt"
	"sync"

	"archivefs/pkg/list"
)

// layout identifies which of the three addressing modes an allocation
// uses: payload embedded in the header page, a single-level map of data
// pages, or a two-level map once the single level would overflow one page.
type layout int

const (
	layoutEmbed layout = iota
	layoutDirect
	layoutRelative
)

// refCell is the shared, nullable pointer to a header that backs both weak
// and strong references. Nulling it is the single point of staleness
// detection: every WeakRef sharing the cell learns about eviction by
// finding it nil on upgrade.
type refCell struct {
	mu sync.Mutex
	h  *header
}

// header is the single-page metadata object fronting a multi-page
// allocation. It owns the embedded map (for direct/relative layouts) or the
// raw payload (for embed layout), both of which live in headerPage — a real
// page reaved from the arena, so "1 + indirPages + dataPages" pages are
// accounted for exactly, even though the header struct itself lives
// off-arena.
type header struct {
	lru  list.Elem[header]
	mgr  *Manager
	cell *refCell

	headerPage pageIndex
	dataPages  uint32
	indirPages uint32
	useCount   uint32
}

func layoutOf(dataPages uint32) layout {
	switch {
	case dataPages == 0:
		return layoutEmbed
	case dataPages <= entriesPerPage:
		return layoutDirect
	default:
		return layoutRelative
	}
}

// calcPageCount returns (dataPages, indirPages) for a payload of the given
// byte size.
func calcPageCount(bytes int) (dataPages, indirPages uint32) {
	if bytes <= PageSize {
		return 0, 0
	}
	dataPages = uint32((bytes + PageSize - 1) / PageSize)
	if dataPages > entriesPerPage {
		indirPages = (dataPages + entriesPerPage - 1) / entriesPerPage
	}
	return dataPages, indirPages
}

// needPages returns the total pages an allocation of the given byte size
// will consume: header + indirection + data.
func needPages(bytes int) uint32 {
	dataPages, indirPages := calcPageCount(bytes)
	return 1 + indirPages + dataPages
}

// allPages returns the total pages this live header currently occupies.
func (h *header) allPages() uint32 {
	return 1 + h.indirPages + h.dataPages
}

func (h *header) layout() layout {
	return layoutOf(h.dataPages)
}

// allocateHeader reserves and wires up a new allocation sized to hold
// bytes, assuming the caller has already ensured enough free pages exist.
func allocateHeader(mgr *Manager, bytes int) *header {
	dataPages, indirPages := calcPageCount(bytes)

	headerPage := mustAllocate(mgr.alloc)
	h := &header{
		mgr:        mgr,
		headerPage: headerPage,
		dataPages:  dataPages,
		indirPages: indirPages,
	}
	h.cell = &refCell{h: h}
	mgr.lru.PushFront(&h.lru, h)

	switch h.layout() {
	case layoutEmbed:
		// Payload lives directly in the header page's bytes; no map.
	case layoutDirect:
		headerBytes := mgr.arena.page(headerPage)
		for i := uint32(0); i < dataPages; i++ {
			p := mustAllocate(mgr.alloc)
			writeMapEntry(headerBytes, i, p)
		}
	case layoutRelative:
		headerBytes := mgr.arena.page(headerPage)
		for i := uint32(0); i < indirPages; i++ {
			writeMapEntry(headerBytes, i, mustAllocate(mgr.alloc))
		}
		for n := uint32(0); n < dataPages; n++ {
			indirBytes := mgr.arena.page(readMapEntry(headerBytes, n/entriesPerPage))
			writeMapEntry(indirBytes, n%entriesPerPage, mustAllocate(mgr.alloc))
		}
	}
	return h
}

func mustAllocate(alloc *pageAllocator) pageIndex {
	p, ok := alloc.allocate()
	if !ok {
		// The page manager always pre-evicts enough pages before calling
		// allocateHeader; reaching this means that precondition was
		// violated.
		panic("pagepool: allocate called without enough pre-reserved pages")
	}
	return p
}

// deallocate unlinks the header from the LRU, nulls its referencer cell
// (the eviction signal every weak holder checks), and frees its pages in
// reverse index order — data pages first, then indirection pages, then the
// header page last — to maximize the chance of hitting the allocator's
// front-coalesce path.
func (h *header) deallocate() {
	list.Unlink(&h.lru)

	h.cell.mu.Lock()
	h.cell.h = nil
	h.cell.mu.Unlock()

	switch h.layout() {
	case layoutEmbed:
		// no data/indirection pages to free
	case layoutDirect:
		headerBytes := h.mgr.arena.page(h.headerPage)
		for i := int(h.dataPages) - 1; i >= 0; i-- {
			h.mgr.alloc.free(readMapEntry(headerBytes, uint32(i)))
		}
	case layoutRelative:
		headerBytes := h.mgr.arena.page(h.headerPage)
		for n := int(h.dataPages) - 1; n >= 0; n-- {
			indirBytes := h.mgr.arena.page(readMapEntry(headerBytes, uint32(n)/entriesPerPage))
			h.mgr.alloc.free(readMapEntry(indirBytes, uint32(n)%entriesPerPage))
		}
		for i := int(h.indirPages) - 1; i >= 0; i-- {
			h.mgr.alloc.free(readMapEntry(headerBytes, uint32(i)))
		}
	}
	h.mgr.alloc.free(h.headerPage)
}

// slice returns page n of the payload. ok is false once n reaches the
// allocation's data page count.
func (h *header) slice(n uint32) (data []byte, ok bool) {
	switch h.layout() {
	case layoutEmbed:
		if n != 0 {
			return nil, false
		}
		return h.mgr.arena.page(h.headerPage), true
	case layoutDirect:
		if n >= h.dataPages {
			return nil, false
		}
		headerBytes := h.mgr.arena.page(h.headerPage)
		return h.mgr.arena.page(readMapEntry(headerBytes, n)), true
	case layoutRelative:
		if n >= h.dataPages {
			return nil, false
		}
		relIndex := n / entriesPerPage
		within := n % entriesPerPage
		headerBytes := h.mgr.arena.page(h.headerPage)
		indirPage := readMapEntry(headerBytes, relIndex)
		indirBytes := h.mgr.arena.page(indirPage)
		return h.mgr.arena.page(readMapEntry(indirBytes, within)), true
	default:
		panic(fmt.Sprintf("pagepool: unknown layout %d", h.layout()))
	}
}

func (h *header) incUse() { h.useCount++ }
func (h *header) decUse() {
	if h.useCount > 0 {
		h.useCount--
	}
}
func (h *header) isUsed() bool { return h.useCount > 0 }

// updateLRU unlinks and re-pushes the header to the LRU front, recording an
// access.
func (h *header) updateLRU() {
	h.mgr.lru.MoveToFront(&h.lru, h)
}
