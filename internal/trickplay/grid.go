package trickplay

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type Grid struct {
	TileWidth  int
	TileHeight int
	Rows       int
	Columns    int
	Quality    int
}

func (g Grid) PerComposite() int {
	return g.Rows * g.Columns
}

// Header describes g for frames captured every interval seconds.
func (g Grid) Header(interval float64) Header {
	var fps float64
	if interval > 0 {
		fps = 1 / interval
	}
	return Header{
		TileWidth:  uint32(g.TileWidth),
		TileHeight: uint32(g.TileHeight),
		FPS:        fps,
		Rows:       uint32(g.Rows),
		Columns:    uint32(g.Columns),
	}
}

// Pack scales frames to the tile size and lays them out row-major on
// composites of Rows x Columns tiles. The last composite may be partly
// empty. Each composite covers interval seconds per frame it holds.
func (g Grid) Pack(frames []image.Image, interval float64) ([]Composite, error) {
	per := g.PerComposite()
	if per <= 0 || g.TileWidth <= 0 || g.TileHeight <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d of %dx%d tiles", g.Rows, g.Columns, g.TileWidth, g.TileHeight)
	}
	quality := g.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}

	var composites []Composite
	for start := 0; start < len(frames); start += per {
		end := min(start+per, len(frames))
		canvas := image.NewRGBA(image.Rect(0, 0, g.Columns*g.TileWidth, g.Rows*g.TileHeight))

		for i, frame := range frames[start:end] {
			x := (i % g.Columns) * g.TileWidth
			y := (i / g.Columns) * g.TileHeight
			dst := image.Rect(x, y, x+g.TileWidth, y+g.TileHeight)
			draw.ApproxBiLinear.Scale(canvas, dst, frame, frame.Bounds(), draw.Src, nil)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode composite %d: %w", len(composites), err)
		}
		composites = append(composites, Composite{
			Data:     buf.Bytes(),
			Duration: float64(end-start) * interval,
		})
	}
	return composites, nil
}

// Tiles scales every frame to the tile size and encodes it as a JPEG on its
// own, for formats that index single frames.
func (g Grid) Tiles(frames []image.Image) ([][]byte, error) {
	if g.TileWidth <= 0 || g.TileHeight <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", g.TileWidth, g.TileHeight)
	}
	quality := g.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}

	tiles := make([][]byte, 0, len(frames))
	for i, frame := range frames {
		tile := image.NewRGBA(image.Rect(0, 0, g.TileWidth, g.TileHeight))
		draw.ApproxBiLinear.Scale(tile, tile.Bounds(), frame, frame.Bounds(), draw.Src, nil)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, tile, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode tile %d: %w", i, err)
		}
		tiles = append(tiles, buf.Bytes())
	}
	return tiles, nil
}

// LoadFrames decodes frame images from disk in the given order.
func LoadFrames(paths []string) ([]image.Image, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := loadFrame(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func loadFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

// TileCount decodes a composite and reports how many tiles of the header's
// size it can hold. It accepts JPEG, PNG and WEBP composites.
func TileCount(data []byte, h Header) (int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	if h.TileWidth == 0 || h.TileHeight == 0 {
		return 0, nil
	}
	return (cfg.Width / int(h.TileWidth)) * (cfg.Height / int(h.TileHeight)), nil
}
