package ytdlp

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/port"
)

type infoJSON struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	WebpageURL     string       `json:"webpage_url"`
	Ext            string       `json:"ext"`
	Duration       float64      `json:"duration"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	TBR            float64      `json:"tbr"`
	FPS            float64      `json:"fps"`
	VCodec         string       `json:"vcodec"`
	Filesize       int64        `json:"filesize"`
	FilesizeApprox int64        `json:"filesize_approx"`
	Thumbnail      string       `json:"thumbnail"`
	Channel        string       `json:"channel"`
	Uploader       string       `json:"uploader"`
	UploadDate     string       `json:"upload_date"`
	ViewCount      int64        `json:"view_count"`
	LikeCount      int64        `json:"like_count"`
	Formats        []formatJSON `json:"formats"`
	Entries        []entryJSON  `json:"entries"`
}

type entryJSON struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type formatJSON struct {
	FormatID  string         `json:"format_id"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	FPS       float64        `json:"fps"`
	Rows      int            `json:"rows"`
	Columns   int            `json:"columns"`
	Fragments []fragmentJSON `json:"fragments"`
}

type fragmentJSON struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

func parsePlaylist(out []byte) ([]port.PlaylistEntry, error) {
	var info infoJSON
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	entries := make([]port.PlaylistEntry, 0, len(info.Entries))
	for _, e := range info.Entries {
		if e.ID == "" {
			continue
		}
		entries = append(entries, port.PlaylistEntry{VideoID: e.ID})
	}
	return entries, nil
}

func parseMetadata(out []byte) (*domain.VideoMetadata, error) {
	var info infoJSON
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("parse metadata: missing video id")
	}

	size := info.Filesize
	if size == 0 {
		size = info.FilesizeApprox
	}
	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	return &domain.VideoMetadata{
		VideoID:        info.ID,
		URL:            info.WebpageURL,
		Title:          info.Title,
		Description:    info.Description,
		Ext:            info.Ext,
		FilesizeApprox: size,
		Duration:       int(math.Round(info.Duration)),
		Width:          info.Width,
		Height:         info.Height,
		Bitrate:        int(math.Round(info.TBR)),
		FPS:            int(math.Round(info.FPS)),
		VideoCodec:     info.VCodec,
		ThumbnailURL:   info.Thumbnail,
		ChannelName:    channel,
		UploadDate:     info.UploadDate,
		Views:          info.ViewCount,
		Likes:          info.LikeCount,
	}, nil
}

func parseStoryboard(out []byte, formatID string) (*port.Storyboard, error) {
	var info infoJSON
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse storyboard: %w", err)
	}
	for _, f := range info.Formats {
		if f.FormatID != formatID {
			continue
		}
		sb := &port.Storyboard{
			Width:   f.Width,
			Height:  f.Height,
			FPS:     f.FPS,
			Rows:    f.Rows,
			Columns: f.Columns,
		}
		for _, frag := range f.Fragments {
			sb.Fragments = append(sb.Fragments, port.StoryboardFragment{URL: frag.URL, Duration: frag.Duration})
		}
		return sb, nil
	}
	return nil, fmt.Errorf("storyboard %s not found for %s", formatID, info.ID)
}
