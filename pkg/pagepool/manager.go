package pagepool

import (
	"archivefs/pkg/budget"
	"archivefs/pkg/list"
)

// Manager is the archive read cache's page manager: a fixed arena, a
// free-page allocator, and an LRU of live allocations evicted tail-to-head
// to make room for new ones.
type Manager struct {
	arena *arena
	alloc *pageAllocator
	lru   *list.List[header]
	bud   *budget.Budget
}

// NewManager builds a page manager over an arena sized for maxPages pages,
// reporting usage against bud (purely for diagnostics/logging; eviction
// itself is driven by actual free-page availability, not the budget).
func NewManager(maxPages uint32, bud *budget.Budget) *Manager {
	if bud == nil {
		bud = budget.New(0)
	}
	return &Manager{
		arena: newArena(maxPages),
		alloc: newPageAllocator(maxPages),
		lru:   list.New[header](),
		bud:   bud,
	}
}

// FreePages reports pages currently unallocated.
func (m *Manager) FreePages() uint32 { return m.alloc.freePages() }

// Allocate reserves enough pages to hold a payload of the given byte size,
// evicting unpinned LRU entries as needed, and returns a weak reference to
// the new allocation. Returns ErrOutOfMemory if eviction cannot free
// enough pages.
func (m *Manager) Allocate(bytes int) (WeakRef, error) {
	need := needPages(bytes)
	if err := m.reserve(need); err != nil {
		return WeakRef{}, err
	}
	h := allocateHeader(m, bytes)
	m.bud.Track(int64(h.allPages()) * PageSize)
	return WeakRef{cell: h.cell}, nil
}

// reserve evicts unpinned allocations, oldest access first, until at least
// need pages are free or no further eviction is possible.
func (m *Manager) reserve(need uint32) error {
	if m.alloc.freePages() >= need {
		return nil
	}
	m.lru.IterReverse(func(h *header) bool {
		if m.alloc.freePages() >= need {
			return false
		}
		if h.isUsed() {
			return true
		}
		m.bud.Release(int64(h.allPages()) * PageSize)
		h.deallocate()
		return true
	})
	if m.alloc.freePages() < need {
		return ErrOutOfMemory
	}
	return nil
}

// Stats reports the manager's current memory usage (ambient diagnostics,
// not part of the core allocation contract).
func (m *Manager) Stats() budget.Stats { return m.bud.Stats() }
