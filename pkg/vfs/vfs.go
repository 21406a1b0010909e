// Package vfs defines the ports the kernel filesystem bridge consumes from
// and provides to the core: File/Dir/Entry/SeekableRead/Viewer, plus the
// sentinel error kinds the bridge translates into kernel errno replies.
package vfs

import (
	"errors"
	"io"
)

// Error kinds, independent of any particular bridge's error type.
var (
	ErrNotFound        = errors.New("vfs: not found")
	ErrInvalidArgument = errors.New("vfs: invalid argument")
	ErrBadHandle       = errors.New("vfs: bad handle")
	ErrIO              = errors.New("vfs: io error")
	ErrOutOfMemory     = errors.New("vfs: out of memory")
)

// Kind mirrors the POSIX S_IF* bits the bridge maps 1:1 onto its own kind
// enumeration; unknown bits default to KindRegular.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

// Attr is the attribute record the core returns to the bridge. Ino is
// always 0: inode assignment is external, and the bridge overwrites it.
type Attr struct {
	Ino  uint64
	Kind Kind
	Size uint64
	Mode uint32
}

// SeekableRead composes random-access read, seek, and close: the handle
// returned by File.Open. Close is the bridge's release() signal — for a
// cache-backed handle, that's the point a strong page reference can be
// dropped (there is no implicit Drop to do it for us).
type SeekableRead interface {
	// Read fills buf starting at the reader's current position, returning
	// the number of bytes copied. Returns io.EOF once the position
	// reaches the end of content, matching io.Reader's contract.
	Read(buf []byte) (int, error)

	// Seek repositions per io.Seeker's whence semantics (io.SeekStart,
	// io.SeekCurrent, io.SeekEnd). A result before zero fails with an
	// error, which the bridge reports as ErrInvalidArgument.
	Seek(offset int64, whence int) (int64, error)

	io.Closer
}

// File is a leaf node: something openable for reading.
type File interface {
	Name() string
	Getattr() (Attr, error)
	Open() (SeekableRead, error)
}

// Dir is an interior node: something listable and searchable by name.
// Open and Lookup both yield whole child Entry values (not just attrs) so
// the bridge can register them directly without a second round trip.
type Dir interface {
	Name() string
	Getattr() (Attr, error)
	Open() (Iter, error)
	Lookup(name string) (Entry, error)
}

// Entry is exactly one of File or Dir — the sum type the bridge registers
// against an inode.
type Entry struct {
	File File
	Dir  Dir
}

// FileEntry wraps f as a file Entry.
func FileEntry(f File) Entry { return Entry{File: f} }

// DirEntry wraps d as a directory Entry.
func DirEntry(d Dir) Entry { return Entry{Dir: d} }

func (e Entry) IsDir() bool { return e.Dir != nil }

func (e Entry) Name() string {
	if e.IsDir() {
		return e.Dir.Name()
	}
	return e.File.Name()
}

func (e Entry) Getattr() (Attr, error) {
	if e.IsDir() {
		return e.Dir.Getattr()
	}
	return e.File.Getattr()
}

// Iter walks a directory's children in order, yielding full Entry values.
type Iter interface {
	Next() (Entry, bool)
}

// Viewer may substitute an Entry with a different projection — the hook
// that turns a recognized archive file into its browsable contents.
type Viewer interface {
	View(e Entry) Entry
}
