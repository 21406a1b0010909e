package archivefmt

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"archive.zip": FormatZip,
		"ARCHIVE.ZIP": FormatZip,
		"archive.rar": FormatRar,
		"archive.txt": FormatUnknown,
		"noext":       FormatUnknown,
	}
	for name, want := range cases {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestZipDecoderWalksAllEntries(t *testing.T) {
	data := buildTestZip(t, map[string]string{
		"small": "hello",
		"large": "world, a bit longer than hello",
	})
	dec, err := OpenZip(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatalf("OpenZip: %v", err)
	}
	defer dec.Close()

	got := map[string]string{}
	for {
		ent, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sr := NewSparseReader(dec)
		content, err := io.ReadAll(sr)
		if err != nil {
			t.Fatalf("ReadAll(%s): %v", ent.Path, err)
		}
		got[ent.Path] = string(content)
	}
	if got["small"] != "hello" || got["large"] != "world, a bit longer than hello" {
		t.Fatalf("unexpected contents: %#v", got)
	}
}

type jumpyDecoder struct {
	blocks []struct {
		data   []byte
		offset int64
	}
	i        int
	nextDone bool
}

func (d *jumpyDecoder) Next() (Entry, error) {
	if d.nextDone {
		return Entry{}, io.EOF
	}
	d.nextDone = true
	return Entry{Path: "sparse", Size: 10}, nil
}

func (d *jumpyDecoder) ReadBlock(buf []byte) (int, int64, error) {
	if d.i >= len(d.blocks) {
		return 0, 0, io.EOF
	}
	b := d.blocks[d.i]
	d.i++
	n := copy(buf, b.data)
	return n, b.offset, nil
}

func (d *jumpyDecoder) Close() error { return nil }

func TestSparseReaderZeroFillsGaps(t *testing.T) {
	dec := &jumpyDecoder{
		blocks: []struct {
			data   []byte
			offset int64
		}{
			{data: []byte("AB"), offset: 0},
			{data: []byte("CD"), offset: 6}, // gap of 4 zero bytes
		},
	}
	dec.Next()
	sr := NewSparseReader(dec)
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte("AB\x00\x00\x00\x00CD")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
