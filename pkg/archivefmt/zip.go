package archivefmt

import (
	"archive/zip"
	"io"
)

// zipDecoder walks a *zip.Reader's central directory in order. ZIP stores
// its directory at the end of the file, so unlike the RAR decoder this
// one needs random access to the backing source (an io.ReaderAt) rather
// than a pure forward stream — but each entry's own data is still only
// ever read forward, matching the Decoder contract's per-entry streaming.
type zipDecoder struct {
	closer io.Closer
	files  []*zip.File
	idx    int

	cur    io.ReadCloser
	curOff int64
}

// OpenZip opens a ZIP archive for decoding. closer, if non-nil, is closed
// alongside the decoder (callers pass the underlying file handle here).
func OpenZip(r io.ReaderAt, size int64, closer io.Closer) (Decoder, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return &zipDecoder{closer: closer, files: zr.File, idx: -1}, nil
}

func (d *zipDecoder) Next() (Entry, error) {
	d.closeCurrent()
	d.idx++
	if d.idx >= len(d.files) {
		return Entry{}, io.EOF
	}
	f := d.files[d.idx]
	return Entry{
		Path: f.Name,
		Size: int64(f.UncompressedSize64),
		Mode: f.Mode(),
	}, nil
}

func (d *zipDecoder) ReadBlock(buf []byte) (int, int64, error) {
	if d.idx < 0 || d.idx >= len(d.files) {
		return 0, 0, errNoCurrentEntry
	}
	if d.cur == nil {
		rc, err := d.files[d.idx].Open()
		if err != nil {
			return 0, 0, err
		}
		d.cur = rc
		d.curOff = 0
	}
	n, err := d.cur.Read(buf)
	offset := d.curOff
	d.curOff += int64(n)
	return n, offset, err
}

func (d *zipDecoder) closeCurrent() {
	if d.cur != nil {
		d.cur.Close()
		d.cur = nil
	}
}

func (d *zipDecoder) Close() error {
	d.closeCurrent()
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
