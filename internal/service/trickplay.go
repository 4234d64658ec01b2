package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/bnema/piplay/internal/trickplay"
)

type TrickplaySource string

const (
	TrickplayFrames     TrickplaySource = "frames"
	TrickplayStoryboard TrickplaySource = "storyboard"

	TrickplayTick = time.Second
)

type TrickplayConfig struct {
	MediaDir string
	Source   TrickplaySource
	// Interval is the number of seconds between two extracted frames.
	Interval float64
	Grid     trickplay.Grid
	// BIF also writes a Roku .bif file when frames are extracted locally.
	BIF bool
}

// TrickplayGenerator drains the generation queue, writing one scrubbing
// index next to each item's media files.
type TrickplayGenerator struct {
	library    *Library
	queue      *Queue[int64]
	converter  port.MediaConverter
	storyboard port.StoryboardSource
	cfg        TrickplayConfig
}

func NewTrickplayGenerator(library *Library, queue *Queue[int64], converter port.MediaConverter, storyboard port.StoryboardSource, cfg TrickplayConfig) *TrickplayGenerator {
	if cfg.Source == "" {
		cfg.Source = TrickplayFrames
	}
	return &TrickplayGenerator{
		library:    library,
		queue:      queue,
		converter:  converter,
		storyboard: storyboard,
		cfg:        cfg,
	}
}

func (g *TrickplayGenerator) Run(ctx context.Context) error {
	logger.Info.Printf("trickplay generator started (%s)", g.cfg.Source)
	return g.queue.Drain(ctx, TrickplayTick, g.Process)
}

func (g *TrickplayGenerator) ArtifactPath(item domain.MediaItem) string {
	return filepath.Join(g.cfg.MediaDir, item.TrickplayName())
}

// HasArtifact reports whether the item's index is already on disk.
func (g *TrickplayGenerator) HasArtifact(item domain.MediaItem) bool {
	_, err := os.Stat(g.ArtifactPath(item))
	return err == nil
}

// BIFPath is where the single-frame trick-mode file of item goes.
func (g *TrickplayGenerator) BIFPath(item domain.MediaItem) string {
	return filepath.Join(g.cfg.MediaDir, item.BIFName())
}

type trickplayOutput struct {
	header     trickplay.Header
	composites []trickplay.Composite
	// frames is only set when the frames were extracted locally.
	frames []image.Image
}

// Process writes the index for one item unless it already exists.
func (g *TrickplayGenerator) Process(ctx context.Context, id int64) {
	item, ok := g.library.Get(id)
	if !ok {
		logger.Debug.Printf("trickplay: item %d no longer in library", id)
		return
	}
	if g.HasArtifact(item) {
		logger.Debug.Printf("trickplay: item %d already has an index", id)
		return
	}

	start := time.Now()
	out, err := g.build(ctx, item)
	if err != nil {
		logger.Error.Printf("trickplay: item %d: %v", id, err)
		return
	}

	path := g.ArtifactPath(item)
	if err := trickplay.WriteFile(path, out.header, out.composites); err != nil {
		logger.Error.Printf("trickplay: item %d: %v", id, err)
		return
	}
	written := []string{path}
	if g.cfg.BIF && len(out.frames) > 0 {
		if err := g.writeBIF(item, out.frames); err != nil {
			logger.Warn.Printf("trickplay: item %d bif: %v", id, err)
		} else {
			written = append(written, g.BIFPath(item))
		}
	}

	if _, ok := g.library.Get(id); !ok {
		for _, p := range written {
			_ = os.Remove(p)
		}
		logger.Info.Printf("trickplay: item %d removed during generation, index discarded", id)
		return
	}
	logger.Info.Printf("trickplay: wrote %s (%d images) in %s", filepath.Base(path), len(out.composites), time.Since(start).Round(time.Millisecond))
}

func (g *TrickplayGenerator) writeBIF(item domain.MediaItem, frames []image.Image) error {
	tiles, err := g.cfg.Grid.Tiles(frames)
	if err != nil {
		return err
	}
	interval := time.Duration(g.cfg.Interval * float64(time.Second))
	return trickplay.WriteBIFFile(g.BIFPath(item), interval, tiles)
}

func (g *TrickplayGenerator) build(ctx context.Context, item domain.MediaItem) (trickplayOutput, error) {
	if g.cfg.Source == TrickplayStoryboard && item.External() && g.storyboard != nil {
		header, composites, err := g.fromStoryboard(ctx, item)
		return trickplayOutput{header: header, composites: composites}, err
	}
	return g.fromFrames(ctx, item)
}

func (g *TrickplayGenerator) fromFrames(ctx context.Context, item domain.MediaItem) (trickplayOutput, error) {
	source, ok := item.ScrubSource()
	if !ok {
		return trickplayOutput{}, errors.New("no rendition on disk")
	}
	if g.cfg.Interval <= 0 {
		return trickplayOutput{}, fmt.Errorf("invalid frame interval %v", g.cfg.Interval)
	}

	tmp, err := os.MkdirTemp("", "trickplay-*")
	if err != nil {
		return trickplayOutput{}, err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	grid := g.cfg.Grid
	paths, err := g.converter.ExtractFrames(ctx, filepath.Join(g.cfg.MediaDir, source), tmp, g.cfg.Interval, grid.TileWidth, grid.TileHeight)
	if err != nil {
		return trickplayOutput{}, err
	}
	frames, err := trickplay.LoadFrames(paths)
	if err != nil {
		return trickplayOutput{}, err
	}
	composites, err := grid.Pack(frames, g.cfg.Interval)
	if err != nil {
		return trickplayOutput{}, err
	}
	return trickplayOutput{header: grid.Header(g.cfg.Interval), composites: composites, frames: frames}, nil
}

// fromStoryboard uses the platform's pre-packed thumbnail track. A fragment
// that fails to download or decode is skipped.
func (g *TrickplayGenerator) fromStoryboard(ctx context.Context, item domain.MediaItem) (trickplay.Header, []trickplay.Composite, error) {
	sb, err := g.storyboard.Storyboard(ctx, item.URL)
	if err != nil {
		return trickplay.Header{}, nil, err
	}
	header := trickplay.Header{
		TileWidth:  uint32(sb.Width),
		TileHeight: uint32(sb.Height),
		FPS:        sb.FPS,
		Rows:       uint32(sb.Rows),
		Columns:    uint32(sb.Columns),
	}

	var composites []trickplay.Composite
	for i, frag := range sb.Fragments {
		data, err := g.storyboard.Fragment(ctx, frag.URL)
		if err != nil {
			logger.Warn.Printf("trickplay: item %d fragment %d/%d: %v", item.ID, i+1, len(sb.Fragments), err)
			continue
		}
		if n, err := trickplay.TileCount(data, header); err != nil || n == 0 {
			logger.Warn.Printf("trickplay: item %d fragment %d is not a usable image", item.ID, i+1)
			continue
		}
		composites = append(composites, trickplay.Composite{Data: data, Duration: frag.Duration})
	}
	if len(composites) == 0 {
		return trickplay.Header{}, nil, errors.New("storyboard has no usable fragments")
	}
	return header, composites, nil
}
