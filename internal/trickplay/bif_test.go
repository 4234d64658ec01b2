package trickplay

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBIF_Layout(t *testing.T) {
	frames := [][]byte{[]byte("jpeg-one"), []byte("two"), []byte("three!")}
	var buf bytes.Buffer
	require.NoError(t, EncodeBIF(&buf, 10*time.Second, frames))
	data := buf.Bytes()

	assert.Equal(t, BIFMagic[:], data[0:8])
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[8:12]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[12:16]))
	assert.Equal(t, uint32(10000), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, make([]byte, BIFHeaderSize-20), data[20:BIFHeaderSize])

	first := uint32(BIFHeaderSize + BIFEntrySize*4)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[64:68]))
	assert.Equal(t, first, binary.LittleEndian.Uint32(data[68:72]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(data[88:92]))
	assert.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(data[92:96]))

	idx, err := DecodeBIF(data)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, idx.Interval)
	assert.Equal(t, []uint32{first, first + 8, first + 11}, idx.Offsets)
	for i, want := range frames {
		got, err := idx.Frame(data, i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = idx.Frame(data, 3)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestEncodeBIF_RejectsSubMillisecondInterval(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, EncodeBIF(&buf, time.Microsecond, nil), ErrInvalidIndex)
}

func TestDecodeBIF_Rejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeBIF(&buf, time.Second, [][]byte{[]byte("abc"), []byte("def")}))
	good := buf.Bytes()

	badMagic := bytes.Clone(good)
	badMagic[1] = 'X'
	wrongStamp := bytes.Clone(good)
	binary.LittleEndian.PutUint32(wrongStamp[72:76], 7)

	tests := map[string][]byte{
		"short":           good[:40],
		"bad magic":       badMagic,
		"truncated table": good[:BIFHeaderSize+BIFEntrySize],
		"truncated data":  good[:len(good)-1],
		"wrong timestamp": wrongStamp,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBIF(data)
			assert.ErrorIs(t, err, ErrInvalidIndex)
		})
	}
}

func TestWriteBIFFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7-Ride.mp4.bif")
	require.NoError(t, WriteBIFFile(path, 5*time.Second, [][]byte{[]byte("x")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx, err := DecodeBIF(data)
	require.NoError(t, err)
	assert.Len(t, idx.Offsets, 1)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestGrid_Tiles(t *testing.T) {
	g := Grid{TileWidth: 40, TileHeight: 20}
	frame := image.NewRGBA(image.Rect(0, 0, 160, 90))
	for y := range 90 {
		for x := range 160 {
			frame.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}

	tiles, err := g.Tiles([]image.Image{frame, frame})
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(tiles[0]))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 20, cfg.Height)

	_, err = Grid{}.Tiles([]image.Image{frame})
	assert.Error(t, err)
}
