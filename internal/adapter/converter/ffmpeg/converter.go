package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
)

var (
	ErrEmptyPath   = errors.New("empty path")
	ErrInvalidPath = errors.New("path contains null byte")
)

type Converter struct {
	ffmpeg  string
	ffprobe string
	threads int
}

func NewConverter() *Converter {
	return &Converter{ffmpeg: "ffmpeg", ffprobe: "ffprobe", threads: 2}
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

// ExtractFrames grabs one frame every interval seconds, scaled to
// width x height, as numbered JPEG files in outputDir.
func (c *Converter) ExtractFrames(ctx context.Context, inputPath, outputDir string, interval float64, width, height int) ([]string, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputDir); err != nil {
		return nil, fmt.Errorf("invalid output dir: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid frame interval %v", interval)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}

	args := []string{
		"-v", "error",
		"-i", inputPath,
		"-threads", strconv.Itoa(c.threads),
		"-r", strconv.FormatFloat(1/interval, 'f', -1, 64),
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-y",
		filepath.Join(outputDir, "%08d.jpg"),
	}
	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frames: %w: %s", err, strings.TrimSpace(string(out)))
	}

	frames, err := filepath.Glob(filepath.Join(outputDir, "*.jpg"))
	if err != nil {
		return nil, err
	}
	slices.Sort(frames)
	logger.Debug.Printf("extracted %d frames from %s", len(frames), logger.SanitizeForLog(filepath.Base(inputPath)))
	return frames, nil
}

func (c *Converter) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	output, err := exec.CommandContext(ctx, c.ffprobe, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*domain.ProbeResult, error) {
	var probe domain.ProbeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if probe.VideoStream() == nil {
		return nil, fmt.Errorf("no video stream found")
	}
	return &probe, nil
}

var _ port.MediaConverter = (*Converter)(nil)
