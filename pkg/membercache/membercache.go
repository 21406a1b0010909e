// Package membercache implements the per-archive-member state machine:
// Empty -> Loading -> Loaded, producing readers that share one cooperative
// materialization over the page manager. The cooperative single-threaded
// model needs no synchronization beyond what a single goroutine already
// provides.
package membercache

import (
	"errors"
	"io"

	"archivefs/pkg/pagepool"
)

// ErrOutOfMemory mirrors pagepool.ErrOutOfMemory at this package's
// boundary, so callers don't need to import pagepool just to compare
// errors.
var ErrOutOfMemory = errors.New("membercache: out of memory")

// Opener is a re-openable, sizeable source for one archive member: a thin
// descriptor the cache can open repeatedly to drive a fresh forward-only
// decode.
type Opener interface {
	Size() (int64, error)
	Open() (io.ReadCloser, error)
}

// SeekableRead is the reader contract MakeReader hands back. Close is
// the point a reader holding a strong page reference releases its pin;
// there is no destructor to do this automatically.
type SeekableRead interface {
	io.Reader
	io.Seeker
	io.Closer
}

type state int

const (
	stateEmpty state = iota
	stateLoading
	stateLoaded
)

// Cache is one instance per archive member served through the page
// manager.
type Cache struct {
	mgr    *pagepool.Manager
	opener Opener

	size      int64
	haveSize  bool
	state     state
	loading   *loadingState
	loadedRef pagepool.WeakRef
	loadedLen int64
}

// New builds a Cache for a member backed by opener, using mgr for
// materialization.
func New(mgr *pagepool.Manager, opener Opener) *Cache {
	return &Cache{mgr: mgr, opener: opener}
}

// MakeReader returns a SeekableRead over the member, advancing the state
// machine as needed.
func (c *Cache) MakeReader() (SeekableRead, error) {
	for {
		switch c.state {
		case stateEmpty:
			if !c.haveSize {
				size, err := c.opener.Size()
				if err != nil {
					return nil, err
				}
				c.size = size
				c.haveSize = true
			}
			weak, err := c.mgr.Allocate(int(c.size))
			if err != nil {
				if errors.Is(err, pagepool.ErrOutOfMemory) {
					return nil, ErrOutOfMemory
				}
				return nil, err
			}
			page, ok := weak.Upgrade()
			if !ok {
				// Allocate always hands back a freshly-built, unevicted
				// allocation; a failed upgrade here means an internal
				// bookkeeping bug.
				panic("membercache: fresh allocation failed to upgrade")
			}
			rc, err := c.opener.Open()
			if err != nil {
				page.Release()
				return nil, err
			}
			c.loading = &loadingState{reader: rc, page: page}
			c.state = stateLoading

		case stateLoading:
			if !c.loading.isEOF() {
				return &loadingReader{size: c.size, state: c.loading}, nil
			}
			c.loadedRef = c.loading.page.Downgrade()
			c.loadedLen = c.loading.cachedSize
			c.loading.page.Release()
			c.loading = nil
			c.state = stateLoaded

		case stateLoaded:
			if page, ok := c.loadedRef.Upgrade(); ok {
				return &cacheReader{size: c.loadedLen, page: page}, nil
			}
			c.state = stateEmpty
		}
	}
}

// loadingState owns the single strong page reference during first
// materialization and the forward-only decoder feeding it.
type loadingState struct {
	reader     io.ReadCloser
	page       pagepool.RefPage
	cachedSize int64
}

func (l *loadingState) isEOF() bool { return l.reader == nil }

// readToAtLeast drives the decoder forward until cachedSize reaches
// readTo or the decoder hits EOF, whichever comes first.
func (l *loadingState) readToAtLeast(readTo int64) (int64, error) {
	if l.isEOF() || l.cachedSize >= readTo {
		return l.cachedSize, nil
	}
	it := l.page.SlicesMut(uint32(l.cachedSize / pagepool.PageSize))
	for l.cachedSize < readTo {
		slice, ok := it.Next()
		if !ok {
			l.closeReader()
			return l.cachedSize, nil
		}
		off := int(l.cachedSize % pagepool.PageSize)
		for off < len(slice) {
			n, err := l.reader.Read(slice[off:])
			if n > 0 {
				off += n
				l.cachedSize += int64(n)
			}
			if err == io.EOF || (err == nil && n == 0) {
				l.closeReader()
				return l.cachedSize, nil
			}
			if err != nil {
				l.closeReader()
				return l.cachedSize, err
			}
		}
		off = 0
	}
	return l.cachedSize, nil
}

func (l *loadingState) closeReader() {
	if l.reader != nil {
		l.reader.Close()
		l.reader = nil
	}
}

// cacheReader serves a fully-loaded member: random-access reads straight
// from the allocation's pages.
type cacheReader struct {
	size int64
	pos  int64
	page pagepool.RefPage
}

func (r *cacheReader) Read(buf []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	max := r.size - r.pos
	if int64(len(buf)) < max {
		max = int64(len(buf))
	}
	read := int64(0)
	it := r.page.Slices(uint32(r.pos / pagepool.PageSize))
	skip := int(r.pos % pagepool.PageSize)
	for read < max {
		slice, ok := it.Next()
		if !ok {
			break
		}
		if skip > 0 {
			if skip >= len(slice) {
				skip -= len(slice)
				continue
			}
			slice = slice[skip:]
			skip = 0
		}
		n := int64(len(slice))
		if n > max-read {
			n = max - read
		}
		copy(buf[read:read+n], slice[:n])
		read += n
	}
	r.pos += read
	return int(read), nil
}

func (r *cacheReader) Seek(offset int64, whence int) (int64, error) {
	return seekTo(&r.pos, r.size, offset, whence)
}

func (r *cacheReader) Close() error {
	r.page.Release()
	return nil
}

// loadingReader serves a partially-loaded member, cooperatively driving
// the shared decoder forward on behalf of every reader of this member.
type loadingReader struct {
	size  int64
	pos   int64
	state *loadingState
}

func (r *loadingReader) Read(buf []byte) (int, error) {
	cachedSize, err := r.state.readToAtLeast(r.pos + int64(len(buf)))
	if err != nil {
		return 0, err
	}
	if r.pos >= cachedSize {
		if r.pos >= r.size {
			return 0, io.EOF
		}
		return 0, nil
	}
	max := cachedSize - r.pos
	if int64(len(buf)) < max {
		max = int64(len(buf))
	}
	read := int64(0)
	it := r.state.page.Slices(uint32(r.pos / pagepool.PageSize))
	skip := int(r.pos % pagepool.PageSize)
	for read < max {
		slice, ok := it.Next()
		if !ok {
			break
		}
		if skip > 0 {
			if skip >= len(slice) {
				skip -= len(slice)
				continue
			}
			slice = slice[skip:]
			skip = 0
		}
		n := int64(len(slice))
		if n > max-read {
			n = max - read
		}
		copy(buf[read:read+n], slice[:n])
		read += n
	}
	r.pos += read
	return int(read), nil
}

func (r *loadingReader) Seek(offset int64, whence int) (int64, error) {
	return seekTo(&r.pos, r.size, offset, whence)
}

// Close is a no-op: the loading state's page reference is shared across
// every reader of this member and is released by the first MakeReader
// call that finds the decoder at EOF and demotes the member to Loaded,
// not per-reader.
func (r *loadingReader) Close() error { return nil }

// seekTo implements Start/Current/End seek semantics shared by both
// reader kinds, rejecting any result before zero.
func seekTo(pos *int64, size int64, offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = *pos + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return 0, errInvalidArgument
	}
	if next < 0 {
		return 0, errInvalidArgument
	}
	*pos = next
	return next, nil
}

var errInvalidArgument = errors.New("membercache: invalid argument")
