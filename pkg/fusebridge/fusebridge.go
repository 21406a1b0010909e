// Package fusebridge wires the vfs ports onto github.com/hanwen/go-fuse/v2's
// low-level node API: Lookup/Getattr/Readdir/Open/Read/Release dispatch on
// a dynamically discovered tree, each inode holding a vfs.Entry.
package fusebridge

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"archivefs/pkg/vfs"
)

// node is one tree node, wrapping the vfs.Entry it was resolved to. Every
// dispatch method takes mu before touching the core: the core assumes a
// single cooperative caller, but go-fuse serves requests from a pool of
// goroutines, so every entry point into vfs needs explicit serialization.
type node struct {
	fs.Inode

	mu     *sync.Mutex
	log    *log.Logger
	viewer vfs.Viewer
	entry  vfs.Entry
}

var (
	_ fs.InodeEmbedder = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
)

func newNode(mu *sync.Mutex, logger *log.Logger, viewer vfs.Viewer, e vfs.Entry) *node {
	if viewer != nil {
		e = viewer.View(e)
	}
	return &node{mu: mu, log: logger, viewer: viewer, entry: e}
}

// logFailure logs a non-nil error at debug level along with the call site
// that observed it, since once collapsed to an errno the bridge has no
// other record of what actually went wrong.
func (n *node) logFailure(op string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	_, file, line, _ := runtime.Caller(1)
	n.log.WithFields(log.Fields{
		"op":   op,
		"path": n.entry.Name(),
		"at":   fmt.Sprintf("%s:%d", file, line),
	}).Debug(err)
	return errnoFor(err)
}

func errnoFor(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case vfs.ErrNotFound:
		return syscall.ENOENT
	case vfs.ErrInvalidArgument:
		return syscall.EINVAL
	case vfs.ErrBadHandle:
		return syscall.EBADF
	case vfs.ErrOutOfMemory:
		return syscall.ENOMEM
	case vfs.ErrIO:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

func fillAttr(out *fuse.Attr, a vfs.Attr) {
	out.Size = a.Size
	switch a.Kind {
	case vfs.KindDirectory:
		out.Mode = syscall.S_IFDIR | 0o555
	case vfs.KindSymlink:
		out.Mode = syscall.S_IFLNK | 0o777
	default:
		mode := a.Mode
		if mode == 0 {
			mode = 0o444
		}
		out.Mode = syscall.S_IFREG | mode
	}
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mu.Lock()
	defer n.mu.Unlock()
	attr, err := n.entry.Getattr()
	if err != nil {
		return n.logFailure("getattr", err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.entry.IsDir() {
		return nil, syscall.ENOTDIR
	}
	child, err := n.entry.Dir.Lookup(name)
	if err != nil {
		return nil, n.logFailure("lookup", err)
	}
	attr, err := child.Getattr()
	if err != nil {
		return nil, n.logFailure("lookup", err)
	}
	fillAttr(&out.Attr, attr)

	childNode := newNode(n.mu, n.log, n.viewer, child)
	mode := uint32(syscall.S_IFREG)
	if childNode.entry.IsDir() {
		mode = syscall.S_IFDIR
	}
	inode := n.NewInode(ctx, childNode, fs.StableAttr{Mode: mode})
	return inode, 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.entry.IsDir() {
		return nil, syscall.ENOTDIR
	}
	it, err := n.entry.Dir.Open()
	if err != nil {
		return nil, n.logFailure("readdir", err)
	}
	return &dirStream{mu: n.mu, it: it}, 0
}

// Open rejects anything but a pure read-only request. The underlying
// access-mode check must compare the full O_ACCMODE field against
// O_RDONLY rather than testing O_RDONLY as a bit, since O_RDONLY is zero
// and would otherwise never match.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.entry.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	if (flags & syscall.O_ACCMODE) != syscall.O_RDONLY {
		return nil, 0, syscall.EROFS
	}
	r, err := n.entry.File.Open()
	if err != nil {
		return nil, 0, n.logFailure("open", err)
	}
	return &fileHandle{mu: n.mu, log: n.log, name: n.entry.Name(), r: r}, fuse.FOPEN_KEEP_CACHE, 0
}

// dirStream adapts a vfs.Iter to go-fuse's pull-based HasNext/Next
// protocol, buffering exactly one entry ahead.
type dirStream struct {
	mu   *sync.Mutex
	it   vfs.Iter
	next vfs.Entry
	has  bool
	done bool
}

func (s *dirStream) HasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has || s.done {
		return s.has
	}
	e, ok := s.it.Next()
	if !ok {
		s.done = true
		return false
	}
	s.next = e
	s.has = true
	return true
}

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.next
	s.has = false
	mode := uint32(syscall.S_IFREG)
	if e.IsDir() {
		mode = syscall.S_IFDIR
	}
	return fuse.DirEntry{Name: e.Name(), Mode: mode}, 0
}

func (s *dirStream) Close() {}

// fileHandle is the open-file token returned from node.Open, wrapping the
// vfs.SeekableRead the core hands back.
type fileHandle struct {
	mu   *sync.Mutex
	log  *log.Logger
	name string
	r    vfs.SeekableRead
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) logFailure(op string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	_, file, line, _ := runtime.Caller(1)
	h.log.WithFields(log.Fields{
		"op":   op,
		"path": h.name,
		"at":   fmt.Sprintf("%s:%d", file, line),
	}).Debug(err)
	return errnoFor(err)
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.r.Seek(off, io.SeekStart); err != nil {
		return nil, h.logFailure("read", vfs.ErrInvalidArgument)
	}
	n := 0
	for n < len(dest) {
		m, err := h.r.Read(dest[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, h.logFailure("read", vfs.ErrIO)
		}
		if m == 0 {
			break
		}
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.r.Close()
	return 0
}

// Mount mounts root at mountpoint, substituting directory entries
// recognized by viewer (viewer may be nil for no substitution). A single
// mutex serializes every dispatch method across the whole tree, so the
// core never sees two calls in flight at once despite go-fuse's default
// concurrent dispatch. logger, if nil, defaults to a standard logrus
// logger so every dispatch failure still has somewhere to go.
func Mount(mountpoint string, root vfs.Dir, viewer vfs.Viewer, logger *log.Logger, opts *fs.Options) (*fuse.Server, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	mu := &sync.Mutex{}
	rootNode := newNode(mu, logger, viewer, vfs.DirEntry(root))
	if opts == nil {
		opts = &fs.Options{}
	}
	opts.MountOptions.Name = "archivefs"
	opts.MountOptions.FsName = "archivefs"
	return fs.Mount(mountpoint, rootNode, opts)
}
