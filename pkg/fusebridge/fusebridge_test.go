package fusebridge

import (
	"bytes"
	"context"
	"sync"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"archivefs/pkg/vfs"
)

func TestErrnoForMapsSentinels(t *testing.T) {
	cases := map[error]syscall.Errno{
		nil:                    0,
		vfs.ErrNotFound:        syscall.ENOENT,
		vfs.ErrInvalidArgument: syscall.EINVAL,
		vfs.ErrBadHandle:       syscall.EBADF,
		vfs.ErrOutOfMemory:     syscall.ENOMEM,
		vfs.ErrIO:              syscall.EIO,
	}
	for err, want := range cases {
		if got := errnoFor(err); got != want {
			t.Errorf("errnoFor(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestFillAttrByKind(t *testing.T) {
	var out fuse.Attr
	fillAttr(&out, vfs.Attr{Kind: vfs.KindDirectory, Size: 0})
	if out.Mode&syscall.S_IFDIR == 0 {
		t.Fatalf("directory attr missing S_IFDIR bit: %o", out.Mode)
	}

	fillAttr(&out, vfs.Attr{Kind: vfs.KindRegular, Size: 42, Mode: 0o640})
	if out.Mode&syscall.S_IFREG == 0 {
		t.Fatalf("regular attr missing S_IFREG bit: %o", out.Mode)
	}
	if out.Mode&0o777 != 0o640 {
		t.Fatalf("regular attr permission bits = %o, want 0640", out.Mode&0o777)
	}
	if out.Size != 42 {
		t.Fatalf("size = %d, want 42", out.Size)
	}
}

type fakeFile struct{ name string }

func (f *fakeFile) Name() string { return f.name }
func (f *fakeFile) Getattr() (vfs.Attr, error) {
	return vfs.Attr{Kind: vfs.KindRegular}, nil
}
func (f *fakeFile) Open() (vfs.SeekableRead, error) { return nil, nil }

type fixedIter struct {
	entries []vfs.Entry
	i       int
}

func (it *fixedIter) Next() (vfs.Entry, bool) {
	if it.i >= len(it.entries) {
		return vfs.Entry{}, false
	}
	e := it.entries[it.i]
	it.i++
	return e, true
}

func TestDirStreamYieldsEntriesInOrder(t *testing.T) {
	entries := []vfs.Entry{
		vfs.FileEntry(&fakeFile{name: "a"}),
		vfs.FileEntry(&fakeFile{name: "b"}),
	}
	ds := &dirStream{mu: &sync.Mutex{}, it: &fixedIter{entries: entries}}

	var got []string
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != 0 {
			t.Fatalf("Next errno = %v", errno)
		}
		got = append(got, e.Name)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b]", got)
	}
	if ds.HasNext() {
		t.Fatal("HasNext true after stream exhausted")
	}
}

type fakeSeekableRead struct {
	*bytes.Reader
	closed bool
}

func (r *fakeSeekableRead) Close() error { r.closed = true; return nil }

func TestFileHandleReadSeeksThenReads(t *testing.T) {
	sr := &fakeSeekableRead{Reader: bytes.NewReader([]byte("hello world"))}
	h := &fileHandle{mu: &sync.Mutex{}, log: log.StandardLogger(), name: "member", r: sr}

	buf := make([]byte, 5)
	res, errno := h.Read(context.Background(), buf, 6)
	if errno != 0 {
		t.Fatalf("Read errno = %v", errno)
	}
	rbuf := make([]byte, 5)
	n, status := res.Bytes(rbuf)
	if status != fuse.OK {
		t.Fatalf("ReadResult status = %v", status)
	}
	if string(n) != "world" {
		t.Fatalf("Read content = %q, want %q", n, "world")
	}

	if errno := h.Release(context.Background()); errno != 0 {
		t.Fatalf("Release errno = %v", errno)
	}
	if !sr.closed {
		t.Fatal("Release did not close the underlying reader")
	}
}
