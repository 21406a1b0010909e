// Package archivefmt adapts concrete archive codecs (ZIP via the standard
// library, RAR via github.com/nwaples/rardecode/v2) behind a single
// Decoder interface modeled on libarchive's forward-streaming contract:
// advance to the next entry, then pull its data as a sequence of blocks
// carrying a logical offset.
//
// Real decoders here never report a jumping logical offset — neither ZIP
// nor RAR model sparse members — but SparseReader implements the general
// zero-fill contract anyway, so a future decoder for a format that does
// support sparse entries needs no reader-side changes.
package archivefmt

import (
	"errors"
	"io"
	"os"
	"path"
	"strings"
)

// Entry describes one archive member as reported by Next.
type Entry struct {
	Path string
	Size int64
	Mode os.FileMode
}

// Decoder walks an archive's entries in order, yielding each entry's data
// as a forward-only stream of blocks.
type Decoder interface {
	// Next advances to the next entry, returning io.EOF once exhausted.
	// The previous entry's data no longer need be fully consumed.
	Next() (Entry, error)

	// ReadBlock reads the next block of the current entry's data into buf,
	// returning how many bytes were read and the logical offset at which
	// that data begins. offset may exceed the running total delivered so
	// far — the gap is a sparse hole the caller must zero-fill. Returns
	// io.EOF once the current entry's data is exhausted.
	ReadBlock(buf []byte) (n int, offset int64, err error)

	Close() error
}

// Format identifies a supported archive codec.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatRar
)

// DetectFormat maps a file name's extension to a Format, case-insensitive.
func DetectFormat(name string) Format {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "zip":
		return FormatZip
	case "rar":
		return FormatRar
	default:
		return FormatUnknown
	}
}

var errNoCurrentEntry = errors.New("archivefmt: ReadBlock called before Next returned an entry")

// SparseReader adapts a Decoder's current-entry block stream into a plain
// io.Reader, zero-filling any gap a jumping logical offset leaves behind.
type SparseReader struct {
	dec Decoder
	pos int64

	block    []byte
	blockOff int64
	zeros    int64
	done     bool
}

// NewSparseReader wraps dec's current entry as a flat byte stream.
func NewSparseReader(dec Decoder) *SparseReader {
	return &SparseReader{dec: dec}
}

func (s *SparseReader) Read(p []byte) (int, error) {
	if s.done && s.zeros == 0 && len(s.block) == 0 {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) {
		if s.zeros > 0 {
			n := int64(len(p) - total)
			if n > s.zeros {
				n = s.zeros
			}
			for i := int64(0); i < n; i++ {
				p[total+int(i)] = 0
			}
			total += int(n)
			s.zeros -= n
			s.pos += n
			continue
		}
		if len(s.block) > 0 {
			n := copy(p[total:], s.block)
			s.block = s.block[n:]
			total += n
			s.pos += int64(n)
			continue
		}
		if s.done {
			break
		}
		buf := make([]byte, 32*1024)
		n, offset, err := s.dec.ReadBlock(buf)
		if n > 0 {
			if offset > s.pos {
				s.zeros = offset - s.pos
			}
			s.block = buf[:n]
		}
		if err == io.EOF {
			s.done = true
		} else if err != nil {
			return total, err
		}
		if n == 0 && s.zeros == 0 {
			if s.done {
				break
			}
		}
	}
	if total == 0 && s.done {
		return 0, io.EOF
	}
	return total, nil
}

// Close closes the underlying decoder.
func (s *SparseReader) Close() error { return s.dec.Close() }
