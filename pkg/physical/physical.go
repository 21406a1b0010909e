// Package physical adapts the real filesystem (os.File, os.ReadDir) to the
// vfs.File/vfs.Dir ports, for source paths that aren't themselves
// recognized archives.
package physical

import (
	"os"
	"path/filepath"

	"archivefs/pkg/vfs"
)

// File wraps a single real file.
type File struct {
	path string
}

// NewFile builds a File rooted at path.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) Name() string { return filepath.Base(f.path) }

func (f *File) Getattr() (vfs.Attr, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return vfs.Attr{}, err
	}
	return toAttr(info), nil
}

func (f *File) Open() (vfs.SeekableRead, error) {
	return os.Open(f.path)
}

// Dir wraps a real directory.
type Dir struct {
	path string
}

// NewDir builds a Dir rooted at path.
func NewDir(path string) *Dir { return &Dir{path: path} }

func (d *Dir) Name() string { return filepath.Base(d.path) }

func (d *Dir) Getattr() (vfs.Attr, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return vfs.Attr{}, err
	}
	return toAttr(info), nil
}

func (d *Dir) Open() (vfs.Iter, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	return &dirIter{path: d.path, entries: entries}, nil
}

func (d *Dir) Lookup(name string) (vfs.Entry, error) {
	path := filepath.Join(d.path, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return vfs.Entry{}, vfs.ErrNotFound
	}
	if err != nil {
		return vfs.Entry{}, err
	}
	return entryFor(path, info), nil
}

type dirIter struct {
	path    string
	entries []os.DirEntry
	pos     int
}

func (it *dirIter) Next() (vfs.Entry, bool) {
	if it.pos >= len(it.entries) {
		return vfs.Entry{}, false
	}
	de := it.entries[it.pos]
	it.pos++
	info, err := de.Info()
	if err != nil {
		// Racing removal or an unreadable entry; skip it rather than
		// fail the whole listing.
		return it.Next()
	}
	return entryFor(filepath.Join(it.path, de.Name()), info), true
}

func entryFor(path string, info os.FileInfo) vfs.Entry {
	if info.IsDir() {
		return vfs.DirEntry(NewDir(path))
	}
	return vfs.FileEntry(NewFile(path))
}

func toAttr(info os.FileInfo) vfs.Attr {
	kind := vfs.KindRegular
	switch {
	case info.IsDir():
		kind = vfs.KindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		kind = vfs.KindSymlink
	}
	return vfs.Attr{
		Kind: kind,
		Size: uint64(info.Size()),
		Mode: uint32(info.Mode().Perm()),
	}
}
