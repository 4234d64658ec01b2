// Package ytdlp drives the yt-dlp tool for downloads, playlist listings,
// video metadata and storyboard tracks.
package ytdlp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/infrastructure/logger"
	"github.com/bnema/piplay/internal/port"
	"github.com/lrstanley/go-ytdlp"
)

const (
	progressInterval = 100 * time.Millisecond
	maxFragmentSize  = 16 << 20
)

type Client struct {
	cookieFile string
	http       *http.Client
}

func NewClient(cookieFile string) *Client {
	return &Client{
		cookieFile: cookieFile,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) base() *ytdlp.Command {
	cmd := ytdlp.New()
	if c.cookieFile != "" {
		if _, err := os.Stat(c.cookieFile); err == nil {
			cmd = cmd.Cookies(c.cookieFile)
		}
	}
	return cmd
}

// command is for single-video operations.
func (c *Client) command() *ytdlp.Command {
	return c.base().NoPlaylist()
}

// FormatFor selects the best mp4 video no taller than height merged with
// the best m4a audio track.
func FormatFor(height int) string {
	return fmt.Sprintf("bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4]/best[height<=%d]",
		height, height, height)
}

func (c *Client) Fetch(ctx context.Context, req port.FetchRequest, progress func(port.TransferUpdate)) error {
	cmd := c.command().
		Format(FormatFor(req.Height)).
		MergeOutputFormat("mp4").
		SponsorblockRemove("sponsor,preview").
		MarkWatched().
		Output(req.OutputPath).
		ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			if progress != nil {
				progress(toTransferUpdate(update))
			}
		})

	if _, err := cmd.Run(ctx, req.URL); err != nil {
		return fmt.Errorf("yt-dlp download %s at %dp: %w", logger.SanitizeURL(req.URL), req.Height, err)
	}
	return nil
}

func toTransferUpdate(update ytdlp.ProgressUpdate) port.TransferUpdate {
	u := port.TransferUpdate{
		Phase:           port.PhaseDownloading,
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}
	switch update.Status {
	case ytdlp.ProgressStatusFinished:
		u.Phase = port.PhaseFinished
	case ytdlp.ProgressStatusPostProcessing:
		u.Phase = port.PhasePostProcessing
	}
	if eta := update.ETA(); eta > 0 {
		u.ETASeconds = int(eta.Seconds())
	}
	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started).Seconds()
		u.ElapsedSeconds = elapsed
		if elapsed > 0 {
			u.Speed = float64(update.DownloadedBytes) / elapsed
		}
	}
	return u
}

func (c *Client) dumpJSON(ctx context.Context, url string, flat bool) ([]byte, error) {
	cmd := c.command().SkipDownload().DumpSingleJSON()
	if flat {
		cmd = c.base().FlatPlaylist().DumpSingleJSON()
	}
	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp info %s: %w", logger.SanitizeURL(url), err)
	}
	return []byte(res.Stdout), nil
}

func (c *Client) Playlist(ctx context.Context, playlistURL string) ([]port.PlaylistEntry, error) {
	out, err := c.dumpJSON(ctx, playlistURL, true)
	if err != nil {
		return nil, err
	}
	return parsePlaylist(out)
}

func (c *Client) Metadata(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	out, err := c.dumpJSON(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return parseMetadata(out)
}

func (c *Client) Storyboard(ctx context.Context, url string) (*port.Storyboard, error) {
	out, err := c.dumpJSON(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return parseStoryboard(out, "sb0")
}

func (c *Client) Fragment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fragment download: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFragmentSize))
}

// Version reports the installed yt-dlp version, or "unknown".
func (c *Client) Version(ctx context.Context) string {
	return versionOf(ytdlp.New().Version(ctx))
}

func versionOf(res *ytdlp.Result, err error) string {
	if err != nil {
		logger.Warn.Printf("yt-dlp version: %v", err)
		return "unknown"
	}
	if v := strings.TrimSpace(res.Stdout); v != "" {
		return v
	}
	return "unknown"
}

var (
	_ port.MediaFetcher     = (*Client)(nil)
	_ port.PlaylistSource   = (*Client)(nil)
	_ port.MetadataSource   = (*Client)(nil)
	_ port.StoryboardSource = (*Client)(nil)
)
