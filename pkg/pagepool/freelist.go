package pagepool

import "archivefs/pkg/list"

// freeRun is a maximal span of consecutive free pages, [start, start+count).
// Allocation always reaves from the front of the run (start++, count--) and
// the run dies when count reaches zero; freeing only ever grows the front
// run in place when the freed page is exactly adjacent — front-only
// coalescing, O(1) and LIFO-biased.
type freeRun struct {
	elem  list.Elem[freeRun]
	start pageIndex
	count uint32
}

// pageAllocator hands out individual pages from a free list seeded with one
// run spanning the whole arena.
type pageAllocator struct {
	runs      *list.List[freeRun]
	freeCount uint32
}

func newPageAllocator(maxPages uint32) *pageAllocator {
	pa := &pageAllocator{runs: list.New[freeRun](), freeCount: maxPages}
	if maxPages > 0 {
		run := &freeRun{start: 0, count: maxPages}
		pa.runs.PushFront(&run.elem, run)
	}
	return pa
}

func (pa *pageAllocator) freePages() uint32 {
	return pa.freeCount
}

// allocate reaves one page from the front run. Returns false iff no free
// pages remain.
func (pa *pageAllocator) allocate() (pageIndex, bool) {
	front := pa.runs.Front()
	if front == nil {
		return 0, false
	}
	p := front.start
	front.start++
	front.count--
	pa.freeCount--
	if front.count == 0 {
		list.Unlink(&front.elem)
	}
	return p, true
}

// free returns a page to the allocator. If it sits immediately before the
// front run's current leading edge, the run is extended in place (O(1));
// otherwise a new single-page run is pushed to the front of the free list.
func (pa *pageAllocator) free(p pageIndex) {
	pa.freeCount++
	if front := pa.runs.Front(); front != nil && p+1 == front.start {
		front.start = p
		front.count++
		return
	}
	run := &freeRun{start: p, count: 1}
	pa.runs.PushFront(&run.elem, run)
}
