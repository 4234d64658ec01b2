// Package protocol defines the messages exchanged with clients over the
// synchronization channel: JSON text frames dispatched by namespace and
// binary frames carrying a fixed preamble.
package protocol

import (
	"github.com/bnema/piplay/internal/domain"
)

type Namespace string

const (
	NamespaceInit       Namespace = "init"
	NamespaceUp         Namespace = "up"
	NamespaceSettings   Namespace = "settings"
	NamespaceVideos     Namespace = "videos"
	NamespacePlayer     Namespace = "player"
	NamespaceLogs       Namespace = "logs"
	NamespacePing       Namespace = "ping"
	NamespaceFileUpload Namespace = "file-upload"
)

// Outbound is a server-originated message. The hub stamps the process-wide
// sequence number right before the message is queued.
type Outbound interface {
	Stamp(messageID uint64)
}

type Header struct {
	Namespace Namespace `json:"namespace"`
	MessageID uint64    `json:"messageId"`
}

func (h *Header) Stamp(messageID uint64) {
	h.MessageID = messageID
}

type Versions struct {
	Server string `json:"piworkoutServer"`
	YtDlp  string `json:"ytDlp"`
}

type InitData struct {
	Settings  map[string]string  `json:"settings"`
	Connected bool               `json:"connected"`
	Videos    []domain.MediaItem `json:"videos"`
	Player    domain.PlayerState `json:"player"`
	Versions  Versions           `json:"versions"`
}

type InitMessage struct {
	Header
	Data InitData `json:"data"`
}

func NewInit(data InitData) *InitMessage {
	if data.Videos == nil {
		data.Videos = []domain.MediaItem{}
	}
	return &InitMessage{Header: Header{Namespace: NamespaceInit}, Data: data}
}

// VideoListMessage carries the whole ordered library.
type VideoListMessage struct {
	Header
	Videos []domain.MediaItem `json:"videos"`
}

func NewVideoList(items []domain.MediaItem) *VideoListMessage {
	if items == nil {
		items = []domain.MediaItem{}
	}
	return &VideoListMessage{Header: Header{Namespace: NamespaceVideos}, Videos: items}
}

// VideoMessage carries a single changed item.
type VideoMessage struct {
	Header
	Video  domain.MediaItem `json:"video"`
	Source string           `json:"source,omitempty"`
}

func NewVideo(item domain.MediaItem, source string) *VideoMessage {
	return &VideoMessage{Header: Header{Namespace: NamespaceVideos}, Video: item, Source: source}
}

type SettingsMessage struct {
	Header
	Settings map[string]string `json:"settings"`
}

func NewSettings(settings map[string]string) *SettingsMessage {
	return &SettingsMessage{Header: Header{Namespace: NamespaceSettings}, Settings: settings}
}

type PlayerMessage struct {
	Header
	Player domain.PlayerState `json:"player"`
}

func NewPlayer(state domain.PlayerState) *PlayerMessage {
	return &PlayerMessage{Header: Header{Namespace: NamespacePlayer}, Player: state}
}

type LogsMessage struct {
	Header
	Items []domain.LogEntry `json:"items"`
}

func NewLogs(items []domain.LogEntry) *LogsMessage {
	if items == nil {
		items = []domain.LogEntry{}
	}
	return &LogsMessage{Header: Header{Namespace: NamespaceLogs}, Items: items}
}

type PingMessage struct {
	Header
	UUID string `json:"uuid"`
}

func NewPing(uuid string) *PingMessage {
	return &PingMessage{Header: Header{Namespace: NamespacePing}, UUID: uuid}
}

// UploadMessage acknowledges upload progress to the uploading client.
type UploadMessage struct {
	Header
	UUID     string `json:"uuid"`
	Status   string `json:"status"`
	Received int64  `json:"received"`
	VideoID  int64  `json:"videoId,omitempty"`
}

func NewUpload(uuid, status string, received int64, videoID int64) *UploadMessage {
	return &UploadMessage{
		Header:   Header{Namespace: NamespaceFileUpload},
		UUID:     uuid,
		Status:   status,
		Received: received,
		VideoID:  videoID,
	}
}
