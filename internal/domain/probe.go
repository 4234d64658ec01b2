package domain

import (
	"fmt"
	"math"
	"strconv"
)

type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ProbeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	BitRate      string `json:"bit_rate"`
}

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

func (p *ProbeResult) VideoStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "video" {
			return &p.Streams[i]
		}
	}
	return nil
}

// ApplyTo copies the video stream attributes onto an uploaded item. Stream values
// win over container values; bitrate is stored in kbit/s.
func (p *ProbeResult) ApplyTo(m *MediaItem) error {
	vs := p.VideoStream()
	if vs == nil {
		return fmt.Errorf("no video stream found")
	}
	m.Width = vs.Width
	m.Height = vs.Height
	m.VideoCodec = vs.CodecName
	m.FPS = int(math.Round(ParseFrameRate(vs.AvgFrameRate)))

	duration := ParseDuration(vs.Duration)
	if duration == 0 {
		duration = ParseDuration(p.Format.Duration)
	}
	m.Duration = int(math.Round(duration))

	bitrate := ParseDuration(vs.BitRate)
	if bitrate == 0 {
		bitrate = ParseDuration(p.Format.BitRate)
	}
	m.Bitrate = int(math.Round(bitrate * 0.001))
	return nil
}

func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	return 0
}

// ParseDuration parses an ffprobe decimal field; "N/A" and garbage yield zero.
func ParseDuration(durationStr string) float64 {
	if durationStr == "" || durationStr == "N/A" {
		return 0
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0
	}
	return duration
}
