package port

import (
	"context"

	"github.com/bnema/piplay/internal/domain"
)

type MediaConverter interface {
	// ExtractFrames writes one JPEG every interval seconds into outputDir and
	// returns their paths in ascending time order.
	ExtractFrames(ctx context.Context, inputPath, outputDir string, interval float64, width, height int) ([]string, error)
	Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error)
}
