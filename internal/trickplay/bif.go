package trickplay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// BIFMagic opens a BIF file, the Roku trick-mode format: one JPEG per frame
// behind a timestamp table. Older TV clients read it instead of the
// composite index.
var BIFMagic = [8]byte{0x89, 0x42, 0x49, 0x46, 0x0d, 0x0a, 0x1a, 0x0a}

const (
	BIFVersion    = 0
	BIFHeaderSize = 64
	BIFEntrySize  = 8
)

// BIFIndex is a decoded BIF table. Frame i is shown from i*Interval.
type BIFIndex struct {
	Interval time.Duration
	Offsets  []uint32
	End      uint32
}

// EncodeBIF writes frames, each already a JPEG, spaced interval apart.
func EncodeBIF(w io.Writer, interval time.Duration, frames [][]byte) error {
	ms := interval.Milliseconds()
	if ms <= 0 || ms > math.MaxUint32 {
		return fmt.Errorf("%w: bif interval %s", ErrInvalidIndex, interval)
	}
	bw := bufio.NewWriter(w)

	var hdr [BIFHeaderSize]byte
	copy(hdr[0:8], BIFMagic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], BIFVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(frames)))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(ms))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var entry [BIFEntrySize]byte
	offset := uint64(BIFHeaderSize + BIFEntrySize*(len(frames)+1))
	for i, f := range frames {
		binary.LittleEndian.PutUint32(entry[0:4], uint32(i))
		binary.LittleEndian.PutUint32(entry[4:8], uint32(offset))
		if _, err := bw.Write(entry[:]); err != nil {
			return err
		}
		offset += uint64(len(f))
		if offset > math.MaxUint32 {
			return fmt.Errorf("%w: data exceeds 4GiB", ErrInvalidIndex)
		}
	}
	binary.LittleEndian.PutUint32(entry[0:4], terminator)
	binary.LittleEndian.PutUint32(entry[4:8], uint32(offset))
	if _, err := bw.Write(entry[:]); err != nil {
		return err
	}

	for _, f := range frames {
		if _, err := bw.Write(f); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func DecodeBIF(data []byte) (*BIFIndex, error) {
	if len(data) < BIFHeaderSize+BIFEntrySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidIndex, len(data))
	}
	if !bytes.Equal(data[0:8], BIFMagic[:]) {
		return nil, fmt.Errorf("%w: bad bif magic", ErrInvalidIndex)
	}
	count := uint64(binary.LittleEndian.Uint32(data[12:16]))
	idx := &BIFIndex{
		Interval: time.Duration(binary.LittleEndian.Uint32(data[16:20])) * time.Millisecond,
	}

	tableEnd := uint64(BIFHeaderSize) + uint64(BIFEntrySize)*(count+1)
	if uint64(len(data)) < tableEnd {
		return nil, fmt.Errorf("%w: bif table truncated", ErrInvalidIndex)
	}
	idx.Offsets = make([]uint32, 0, count)
	for i := uint64(0); i <= count; i++ {
		e := data[BIFHeaderSize+BIFEntrySize*i:]
		stamp := binary.LittleEndian.Uint32(e[0:4])
		offset := binary.LittleEndian.Uint32(e[4:8])
		if i == count {
			if stamp != terminator {
				return nil, fmt.Errorf("%w: missing bif terminator", ErrInvalidIndex)
			}
			idx.End = offset
			break
		}
		if uint64(stamp) != i {
			return nil, fmt.Errorf("%w: bif entry %d has timestamp %d", ErrInvalidIndex, i, stamp)
		}
		if prev := len(idx.Offsets); uint64(offset) < tableEnd || (prev > 0 && offset < idx.Offsets[prev-1]) {
			return nil, fmt.Errorf("%w: bif entry %d out of order", ErrInvalidIndex, i)
		}
		idx.Offsets = append(idx.Offsets, offset)
	}
	if uint64(idx.End) > uint64(len(data)) || (len(idx.Offsets) > 0 && idx.End < idx.Offsets[len(idx.Offsets)-1]) {
		return nil, fmt.Errorf("%w: bif data truncated", ErrInvalidIndex)
	}
	return idx, nil
}

// Frame returns the JPEG bytes of frame i.
func (idx *BIFIndex) Frame(data []byte, i int) ([]byte, error) {
	if i < 0 || i >= len(idx.Offsets) {
		return nil, fmt.Errorf("%w: no bif frame %d", ErrInvalidIndex, i)
	}
	end := idx.End
	if i+1 < len(idx.Offsets) {
		end = idx.Offsets[i+1]
	}
	return data[idx.Offsets[i]:end], nil
}

// WriteBIFFile is WriteFile for the BIF format.
func WriteBIFFile(path string, interval time.Duration, frames [][]byte) error {
	return writeAtomic(path, func(w io.Writer) error {
		return EncodeBIF(w, interval, frames)
	})
}
