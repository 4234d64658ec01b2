package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

type Status int

const (
	StatusInit Status = iota + 1
	StatusDownloadingPrimary
	StatusDownloadingSecondary
	StatusEncoding
	StatusComplete
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusDownloadingPrimary:
		return "downloading-primary"
	case StatusDownloadingSecondary:
		return "downloading-secondary"
	case StatusEncoding:
		return "encoding"
	case StatusComplete:
		return "complete"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Active reports whether the item is being worked on by the download worker.
func (s Status) Active() bool {
	return s == StatusDownloadingPrimary || s == StatusDownloadingSecondary || s == StatusEncoding
}

// Downloading reports whether the transient progress record is meaningful.
func (s Status) Downloading() bool {
	return s == StatusDownloadingPrimary || s == StatusDownloadingSecondary
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// The machine only moves forward; Deleted is reachable from anywhere and is terminal.
func (s Status) CanTransition(next Status) bool {
	if s == StatusDeleted {
		return false
	}
	if next == StatusDeleted {
		return true
	}
	return next >= s && next <= StatusComplete
}

type Source string

const (
	SourceYouTube    Source = "youtube"
	SourceFileUpload Source = "file-upload"
)

// Progress is the transient download sub-record. It is never persisted.
type Progress struct {
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	Progress        float64 `json:"progress"`
	ETA             int     `json:"eta"`
	Speed           float64 `json:"speed"`
	Elapsed         float64 `json:"elapsed"`
}

type SponsorSegment struct {
	Category string  `json:"category"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

type SponsorBlock struct {
	Segments  []SponsorSegment `json:"segments"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// Enrichment holds cache-only fields fetched lazily from the hosting platform.
// They are never written to the durable store and may be stale or empty.
type Enrichment struct {
	ChannelName     string        `json:"channelName"`
	ChannelImageURL string        `json:"channelImageUrl"`
	Date            string        `json:"date"`
	Views           int64         `json:"views"`
	Likes           int64         `json:"likes"`
	Rating          string        `json:"rating"`
	SponsorBlock    *SponsorBlock `json:"sponsorblock"`
	PlaylistItemID  string        `json:"playlistItemId"`
}

type MediaItem struct {
	ID          int64     `json:"id"`
	Order       int       `json:"order"`
	VideoID     string    `json:"videoId"`
	Source      Source    `json:"source"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	Filesize    int64     `json:"filesize"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"`
	Position    float64   `json:"position"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bitrate     int       `json:"tbr"`
	FPS         int       `json:"fps"`
	VideoCodec  string    `json:"vcodec"`
	Status      Status    `json:"status"`
	Renditions  []int     `json:"renditions"`
	Progress    *Progress `json:"progress"`
	Enrichment
}

// NewExternalItem builds an Init item for a video listed by the hosting platform.
func NewExternalItem(meta VideoMetadata) MediaItem {
	return MediaItem{
		VideoID:     meta.VideoID,
		Source:      SourceYouTube,
		URL:         meta.URL,
		Filename:    SafeFilename(meta.Title, meta.Ext),
		Filesize:    meta.FilesizeApprox,
		Title:       meta.Title,
		Description: meta.Description,
		Duration:    meta.Duration,
		Width:       meta.Width,
		Height:      meta.Height,
		Bitrate:     meta.Bitrate,
		FPS:         meta.FPS,
		VideoCodec:  meta.VideoCodec,
		Status:      StatusInit,
		Renditions:  []int{},
		Enrichment:  Enrichment{Rating: "none", PlaylistItemID: meta.PlaylistItemID},
	}
}

// Clone returns a deep copy so callers never share mutable state with the store.
func (m MediaItem) Clone() MediaItem {
	c := m
	c.Renditions = slices.Clone(m.Renditions)
	if c.Renditions == nil {
		c.Renditions = []int{}
	}
	if m.Progress != nil {
		p := *m.Progress
		c.Progress = &p
	}
	if m.SponsorBlock != nil {
		sb := *m.SponsorBlock
		sb.Segments = slices.Clone(m.SponsorBlock.Segments)
		c.SponsorBlock = &sb
	}
	return c
}

// Advance moves the item to next, enforcing the forward-only lifecycle.
// Leaving the downloading states drops the progress record.
func (m *MediaItem) Advance(next Status) error {
	if !m.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, next)
	}
	m.Status = next
	if !next.Downloading() {
		m.Progress = nil
	}
	return nil
}

func (m MediaItem) External() bool {
	return m.Source == SourceYouTube && m.VideoID != ""
}

// RenditionName is the on-disk file name of one rendition of the item.
func (m MediaItem) RenditionName(height int) string {
	return fmt.Sprintf("%d-%dp-%s", m.ID, height, m.Filename)
}

// ScrubSource is the rendition used for trick-play frames: the smallest one.
func (m MediaItem) ScrubSource() (string, bool) {
	if len(m.Renditions) == 0 {
		return "", false
	}
	return m.RenditionName(slices.Min(m.Renditions)), true
}

// TrickplayName is the file name of the item's trick-play index artifact.
func (m MediaItem) TrickplayName() string {
	return fmt.Sprintf("%d-%s.sbb", m.ID, m.Filename)
}

// BIFName is the file name of the item's single-frame trick-mode file.
func (m MediaItem) BIFName() string {
	return fmt.Sprintf("%d-%s.bif", m.ID, m.Filename)
}

// OwnsFile reports whether name is one of the files this item keeps on disk.
func (m MediaItem) OwnsFile(name string) bool {
	return strings.HasPrefix(name, fmt.Sprintf("%d-", m.ID)) && strings.Contains(name, m.Filename)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SafeFilename turns a title into an ASCII file name with the given extension.
func SafeFilename(title, ext string) string {
	base := unsafeFilenameChars.ReplaceAllString(title, "_")
	if base == "" {
		base = "video"
	}
	if ext == "" {
		ext = "mp4"
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}

// VideoMetadata is what the hosting platform reports about a video before download.
type VideoMetadata struct {
	VideoID        string
	PlaylistItemID string
	URL            string
	Title          string
	Description    string
	Ext            string
	FilesizeApprox int64
	Duration       int
	Width          int
	Height         int
	Bitrate        int
	FPS            int
	VideoCodec     string
	ThumbnailURL   string
	ChannelName    string
	ChannelImage   string
	UploadDate     string
	Views          int64
	Likes          int64
}

// LogEntry is one durable event recorded against an item.
type LogEntry struct {
	ID        int64  `json:"id"`
	ItemID    int64  `json:"video_id"`
	Action    string `json:"action"`
	Data      string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}
