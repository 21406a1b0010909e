// Package archivefs is the archive-view integration: it recognizes
// archive-extension files and substitutes directory entries, memoizing
// each archive's directory listing and routing per-file reads through the
// member cache.
package archivefs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"archivefs/pkg/archivefmt"
	"archivefs/pkg/membercache"
	"archivefs/pkg/pagepool"
	"archivefs/pkg/vfs"
)

// dirEntry is one flattened (path, attr) pair discovered while walking an
// archive, including synthesized parent directories.
type dirEntry struct {
	path string
	attr vfs.Attr
}

// shared is the memoized listing state every Dir/File derived from one
// archive mount shares by reference, so the archive is walked at most
// once per mount.
type shared struct {
	archive vfs.File
	format  archivefmt.Format
	mgr     *pagepool.Manager
	attr    vfs.Attr
	dents   []dirEntry
	walked  bool
	caches  map[string]*membercache.Cache
}

func (s *shared) ensureWalked() error {
	if s.walked {
		return nil
	}
	rootAttr, err := s.archive.Getattr()
	if err != nil {
		return err
	}
	rootAttr.Kind = vfs.KindDirectory
	s.attr = rootAttr

	r, err := s.archive.Open()
	if err != nil {
		return err
	}
	dec, err := openDecoder(s.format, r)
	if err != nil {
		return err
	}
	defer dec.Close()

	var dents []dirEntry
	seenDirs := map[string]bool{}
	for {
		ent, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		isDir := strings.HasSuffix(ent.Path, "/") || ent.Mode.IsDir()
		p := strings.TrimSuffix(normalizePath(ent.Path), "/")
		if p == "" {
			continue
		}

		for _, parent := range parentChain(p) {
			if !seenDirs[parent] {
				seenDirs[parent] = true
				dents = append(dents, dirEntry{path: parent, attr: vfs.Attr{Kind: vfs.KindDirectory}})
			}
		}

		if isDir {
			if !seenDirs[p] {
				seenDirs[p] = true
				dents = append(dents, dirEntry{path: p, attr: vfs.Attr{Kind: vfs.KindDirectory}})
			}
		} else {
			dents = append(dents, dirEntry{
				path: p,
				attr: vfs.Attr{Kind: vfs.KindRegular, Size: uint64(ent.Size), Mode: uint32(ent.Mode.Perm())},
			})
		}
	}
	sort.Slice(dents, func(i, j int) bool { return dents[i].path < dents[j].path })
	s.dents = dents
	s.walked = true
	return nil
}

// parentChain returns p's proper ancestors, root-most first: "a/b/c" ->
// ["a", "a/b"].
func parentChain(p string) []string {
	var out []string
	dir := path.Dir(p)
	for dir != "." && dir != "/" && dir != "" {
		out = append([]string{dir}, out...)
		dir = path.Dir(dir)
	}
	return out
}

func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func openDecoder(format archivefmt.Format, r vfs.SeekableRead) (archivefmt.Decoder, error) {
	var closer io.Closer = r
	switch format {
	case archivefmt.FormatZip:
		size, err := r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		ra, ok := r.(io.ReaderAt)
		if !ok {
			ra = &seekerReaderAt{r: r}
		}
		return archivefmt.OpenZip(ra, size, closer)
	case archivefmt.FormatRar:
		return archivefmt.OpenRar(r, closer)
	default:
		return nil, os.ErrInvalid
	}
}

// seekerReaderAt adapts a Seek+Read source into io.ReaderAt by seeking
// before every read. Safe under the single-threaded cooperative model:
// nothing else touches r concurrently.
type seekerReaderAt struct {
	r vfs.SeekableRead
}

func (s *seekerReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		n, err := s.r.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Dir is an archive directory projection: either the archive root or a
// subdirectory discovered while walking it.
type Dir struct {
	sh   *shared
	path string // "" for the archive root
}

// NewDir builds the root Dir for an archive file recognized by format.
func NewDir(archive vfs.File, format archivefmt.Format, mgr *pagepool.Manager) *Dir {
	return &Dir{sh: &shared{archive: archive, format: format, mgr: mgr}}
}

func (d *Dir) Name() string {
	if d.path == "" {
		return d.sh.archive.Name()
	}
	return path.Base(d.path)
}

func (d *Dir) Getattr() (vfs.Attr, error) {
	if err := d.sh.ensureWalked(); err != nil {
		return vfs.Attr{}, err
	}
	if d.path == "" {
		return d.sh.attr, nil
	}
	for _, e := range d.sh.dents {
		if e.path == d.path {
			return e.attr, nil
		}
	}
	return vfs.Attr{}, vfs.ErrNotFound
}

func (d *Dir) Lookup(name string) (vfs.Entry, error) {
	if err := d.sh.ensureWalked(); err != nil {
		return vfs.Entry{}, err
	}
	target := name
	if d.path != "" {
		target = d.path + "/" + name
	}
	for _, e := range d.sh.dents {
		if e.path == target {
			return d.entryFor(e), nil
		}
	}
	return vfs.Entry{}, vfs.ErrNotFound
}

func (d *Dir) Open() (vfs.Iter, error) {
	if err := d.sh.ensureWalked(); err != nil {
		return nil, err
	}
	return &dirIter{d: d}, nil
}

func (d *Dir) entryFor(e dirEntry) vfs.Entry {
	if e.attr.Kind == vfs.KindDirectory {
		return vfs.DirEntry(&Dir{sh: d.sh, path: e.path})
	}
	return vfs.FileEntry(d.sh.cacheFileFor(e.path, e.attr))
}

// cacheFileFor returns the memoized member cache for path, creating one on
// first lookup so repeated resolution of the same path (a listing followed
// by separate opens, or a re-LOOKUP after dentry-cache expiry) reuses the
// same Cache instead of re-materializing the member from scratch.
func (s *shared) cacheFileFor(p string, attr vfs.Attr) *CacheFile {
	if s.caches == nil {
		s.caches = make(map[string]*membercache.Cache)
	}
	cache, ok := s.caches[p]
	if !ok {
		file := &archivedFile{sh: s, path: p, attr: attr}
		cache = membercache.New(s.mgr, file)
		s.caches[p] = cache
	}
	return &CacheFile{attr: attr, name: path.Base(p), cache: cache}
}

type dirIter struct {
	d *Dir
	i int
}

func (it *dirIter) Next() (vfs.Entry, bool) {
	dents := it.d.sh.dents
	for it.i < len(dents) {
		e := dents[it.i]
		it.i++
		if isDirectChild(it.d.path, e.path) {
			return it.d.entryFor(e), true
		}
	}
	return vfs.Entry{}, false
}

func isDirectChild(parent, candidate string) bool {
	if parent == "" {
		return !strings.Contains(candidate, "/")
	}
	return path.Dir(candidate) == parent
}

// archivedFile is the non-cached view of a member: attrs plus a fresh
// open of the archive to stream its data from scratch. It implements
// membercache.Opener.
type archivedFile struct {
	sh   *shared
	path string
	attr vfs.Attr
}

func (f *archivedFile) Size() (int64, error) { return int64(f.attr.Size), nil }

// Open opens a fresh decoder over the archive and streams just this
// member's data.
func (f *archivedFile) Open() (io.ReadCloser, error) {
	r, err := f.sh.archive.Open()
	if err != nil {
		return nil, err
	}
	dec, err := openDecoder(f.sh.format, r)
	if err != nil {
		return nil, err
	}
	for {
		ent, err := dec.Next()
		if err == io.EOF {
			dec.Close()
			return nil, vfs.ErrNotFound
		}
		if err != nil {
			dec.Close()
			return nil, err
		}
		if strings.TrimSuffix(normalizePath(ent.Path), "/") == f.path {
			return archivefmt.NewSparseReader(dec), nil
		}
	}
}

// CacheFile is the member-cache-backed file handle the bridge actually
// sees. Its cache is shared across every CacheFile resolved for the same
// path, via shared.caches.
type CacheFile struct {
	name  string
	attr  vfs.Attr
	cache *membercache.Cache
}

func (f *CacheFile) Name() string { return f.name }

func (f *CacheFile) Getattr() (vfs.Attr, error) { return f.attr, nil }

func (f *CacheFile) Open() (vfs.SeekableRead, error) {
	r, err := f.cache.MakeReader()
	if err != nil {
		if err == membercache.ErrOutOfMemory {
			return nil, vfs.ErrOutOfMemory
		}
		return nil, err
	}
	return r, nil
}

// Viewer recognizes archive-extension files and substitutes their
// directory projection.
type Viewer struct {
	mgr *pagepool.Manager
}

// NewViewer builds a Viewer backed by a page manager sized for the
// mount's memory budget.
func NewViewer(mgr *pagepool.Manager) *Viewer {
	return &Viewer{mgr: mgr}
}

func (v *Viewer) View(e vfs.Entry) vfs.Entry {
	if e.IsDir() {
		return e
	}
	format := archivefmt.DetectFormat(e.File.Name())
	if format == archivefmt.FormatUnknown {
		return e
	}
	return vfs.DirEntry(NewDir(e.File, format, v.mgr))
}
