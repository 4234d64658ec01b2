// Package trickplay reads and writes scrub-preview indexes: a fixed header,
// a table of composite images and the concatenated image bytes.
package trickplay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Magic is the file signature, "STORYsb" followed by 0x1a.
var Magic = [8]byte{0x53, 0x54, 0x4F, 0x52, 0x59, 0x73, 0x62, 0x1a}

const (
	Version    = 0
	HeaderSize = 64
	EntrySize  = 20
	// Ext is appended to the media file name to name its index.
	Ext = ".sbb"

	terminator = 0xFFFFFFFF
)

var ErrInvalidIndex = errors.New("invalid trick-play index")

// Header describes the tiles inside every composite image.
type Header struct {
	TileWidth  uint32
	TileHeight uint32
	FPS        float64
	Rows       uint32
	Columns    uint32
}

// Composite is one grid image and the span of media time it covers.
type Composite struct {
	Data     []byte
	Duration float64
}

type Entry struct {
	Index    uint32
	Offset   uint32
	Length   uint32
	Duration float64
}

type Index struct {
	Header
	Entries []Entry
	// End is the offset one past the last image byte.
	End uint32
}

// Encode writes the header, the entry table, its terminator and then the
// image bytes in table order.
func Encode(w io.Writer, h Header, images []Composite) error {
	bw := bufio.NewWriter(w)

	var hdr [HeaderSize]byte
	copy(hdr[0:8], Magic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], Version)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(images)))
	binary.LittleEndian.PutUint32(hdr[16:20], h.TileWidth)
	binary.LittleEndian.PutUint32(hdr[20:24], h.TileHeight)
	binary.LittleEndian.PutUint64(hdr[24:32], math.Float64bits(h.FPS))
	binary.LittleEndian.PutUint32(hdr[32:36], h.Rows)
	binary.LittleEndian.PutUint32(hdr[36:40], h.Columns)
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	offset := uint64(HeaderSize + EntrySize*len(images) + EntrySize)
	for i, img := range images {
		if err := writeEntry(bw, uint32(i), uint32(offset), uint32(len(img.Data)), img.Duration); err != nil {
			return err
		}
		offset += uint64(len(img.Data))
		if offset > math.MaxUint32 {
			return fmt.Errorf("%w: data exceeds 4GiB", ErrInvalidIndex)
		}
	}
	if err := writeEntry(bw, terminator, uint32(offset), 0, 0); err != nil {
		return err
	}

	for _, img := range images {
		if _, err := bw.Write(img.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeEntry(w io.Writer, index, offset, length uint32, duration float64) error {
	var e [EntrySize]byte
	binary.LittleEndian.PutUint32(e[0:4], index)
	binary.LittleEndian.PutUint32(e[4:8], offset)
	binary.LittleEndian.PutUint32(e[8:12], length)
	binary.LittleEndian.PutUint64(e[12:20], math.Float64bits(duration))
	_, err := w.Write(e[:])
	return err
}

// Decode parses and validates an index held in memory.
func Decode(data []byte) (*Index, error) {
	if len(data) < HeaderSize+EntrySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidIndex, len(data))
	}
	if !bytes.Equal(data[0:8], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidIndex)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidIndex, v)
	}
	count := binary.LittleEndian.Uint32(data[12:16])

	idx := &Index{
		Header: Header{
			TileWidth:  binary.LittleEndian.Uint32(data[16:20]),
			TileHeight: binary.LittleEndian.Uint32(data[20:24]),
			FPS:        math.Float64frombits(binary.LittleEndian.Uint64(data[24:32])),
			Rows:       binary.LittleEndian.Uint32(data[32:36]),
			Columns:    binary.LittleEndian.Uint32(data[36:40]),
		},
	}

	tableEnd := uint64(HeaderSize) + uint64(EntrySize)*(uint64(count)+1)
	if uint64(len(data)) < tableEnd {
		return nil, fmt.Errorf("%w: table truncated", ErrInvalidIndex)
	}

	idx.Entries = make([]Entry, 0, count)
	for i := uint32(0); i <= count; i++ {
		e := readEntry(data[HeaderSize+EntrySize*int(i):])
		if i == count {
			if e.Index != terminator {
				return nil, fmt.Errorf("%w: missing terminator", ErrInvalidIndex)
			}
			idx.End = e.Offset
			break
		}
		if e.Index != i {
			return nil, fmt.Errorf("%w: entry %d has index %d", ErrInvalidIndex, i, e.Index)
		}
		idx.Entries = append(idx.Entries, e)
	}

	if uint64(idx.End) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: data truncated", ErrInvalidIndex)
	}
	for _, e := range idx.Entries {
		if uint64(e.Offset) < tableEnd || uint64(e.Offset)+uint64(e.Length) > uint64(idx.End) {
			return nil, fmt.Errorf("%w: entry %d out of range", ErrInvalidIndex, e.Index)
		}
	}
	return idx, nil
}

func readEntry(b []byte) Entry {
	return Entry{
		Index:    binary.LittleEndian.Uint32(b[0:4]),
		Offset:   binary.LittleEndian.Uint32(b[4:8]),
		Length:   binary.LittleEndian.Uint32(b[8:12]),
		Duration: math.Float64frombits(binary.LittleEndian.Uint64(b[12:20])),
	}
}

// Image returns the bytes of composite i from the decoded file data.
func (idx *Index) Image(data []byte, i int) ([]byte, error) {
	if i < 0 || i >= len(idx.Entries) {
		return nil, fmt.Errorf("%w: no image %d", ErrInvalidIndex, i)
	}
	e := idx.Entries[i]
	return data[e.Offset : e.Offset+e.Length], nil
}

// WriteFile encodes into a temporary file next to path and renames it into
// place, so a reader never sees a partial index.
func WriteFile(path string, h Header, images []Composite) error {
	return writeAtomic(path, func(w io.Writer) error {
		return Encode(w, h, images)
	})
}

func writeAtomic(path string, encode func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := encode(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}
