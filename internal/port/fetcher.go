package port

import (
	"context"

	"github.com/bnema/piplay/internal/domain"
)

type TransferPhase string

const (
	PhaseDownloading    TransferPhase = "downloading"
	PhaseFinished       TransferPhase = "finished"
	PhasePostProcessing TransferPhase = "postprocessing"
)

// TransferUpdate is one progress callback from the download tool.
type TransferUpdate struct {
	Phase           TransferPhase
	DownloadedBytes int64
	TotalBytes      int64
	ETASeconds      int
	Speed           float64
	ElapsedSeconds  float64
}

// Fraction is the share of the current transfer already on disk.
func (u TransferUpdate) Fraction() float64 {
	if u.TotalBytes <= 0 {
		return 0
	}
	return float64(u.DownloadedBytes) / float64(u.TotalBytes)
}

type FetchRequest struct {
	URL        string
	Height     int
	OutputPath string
}

// MediaFetcher downloads one rendition of a remote video to OutputPath.
type MediaFetcher interface {
	Fetch(ctx context.Context, req FetchRequest, progress func(TransferUpdate)) error
}

// PlaylistEntry is one position of the authoritative external list.
type PlaylistEntry struct {
	VideoID        string
	PlaylistItemID string
}

type PlaylistSource interface {
	Playlist(ctx context.Context, playlistURL string) ([]PlaylistEntry, error)
}

type MetadataSource interface {
	Metadata(ctx context.Context, url string) (*domain.VideoMetadata, error)
}

// Storyboard is a pre-chunked thumbnail track published by the hosting platform.
type Storyboard struct {
	Width     int
	Height    int
	FPS       float64
	Rows      int
	Columns   int
	Fragments []StoryboardFragment
}

type StoryboardFragment struct {
	URL      string
	Duration float64
}

type StoryboardSource interface {
	Storyboard(ctx context.Context, url string) (*Storyboard, error)
	// Fragment downloads one composite image of a storyboard.
	Fragment(ctx context.Context, url string) ([]byte, error)
}
