package pagepool

import "errors"

// ErrOutOfMemory is returned by Manager.Allocate when eviction cannot free
// enough unpinned pages to satisfy a request.
var ErrOutOfMemory = errors.New("pagepool: out of memory")
