package archivefmt

import (
	"io"

	"github.com/nwaples/rardecode/v2"
)

// rarDecoder walks a RAR archive as a genuine forward stream: both the
// directory and each entry's data arrive in one pass over r, matching the
// Decoder contract's model directly (no random access needed, unlike
// zipDecoder).
type rarDecoder struct {
	closer  io.Closer
	rr      *rardecode.Reader
	curOff  int64
	haveCur bool
}

// OpenRar opens a RAR archive for decoding. closer, if non-nil, is closed
// alongside the decoder.
func OpenRar(r io.Reader, closer io.Closer) (Decoder, error) {
	rr, err := rardecode.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &rarDecoder{closer: closer, rr: rr}, nil
}

func (d *rarDecoder) Next() (Entry, error) {
	h, err := d.rr.Next()
	if err != nil {
		return Entry{}, err
	}
	d.curOff = 0
	d.haveCur = true
	return Entry{
		Path: h.Name,
		Size: h.UnPackedSize,
		Mode: h.Mode(),
	}, nil
}

func (d *rarDecoder) ReadBlock(buf []byte) (int, int64, error) {
	if !d.haveCur {
		return 0, 0, errNoCurrentEntry
	}
	n, err := d.rr.Read(buf)
	offset := d.curOff
	d.curOff += int64(n)
	return n, offset, err
}

func (d *rarDecoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
