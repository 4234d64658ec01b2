package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownNamespace = errors.New("unknown namespace")
	ErrMalformed        = errors.New("malformed message")
)

// Inbound is one decoded client request. The concrete types below are the
// closed set of variants; dispatchers switch on them.
type Inbound interface {
	Namespace() Namespace
}

// UpRequest is the client keepalive.
type UpRequest struct{}

type SettingsRequest struct {
	Method string
	Data   map[string]string
}

type VideosAction string

const (
	VideosRefresh           VideosAction = "refresh"
	VideosOrder             VideosAction = "order"
	VideosRemove            VideosAction = "remove"
	VideosAdd               VideosAction = "add"
	VideosPlayerInformation VideosAction = "playerInformation"
)

type VideosRequest struct {
	Action VideosAction
	ID     int64
	Order  []int64
	URL    string
}

type PlayerAction string

const (
	PlayerProgress PlayerAction = "progress"
	PlayerPlay     PlayerAction = "play"
	PlayerPause    PlayerAction = "pause"
	PlayerEnded    PlayerAction = "ended"
	PlayerStop     PlayerAction = "stop"
)

type PlayerRequest struct {
	Action  PlayerAction
	Time    float64
	VideoID int64
}

type LogsRequest struct {
	Method  string
	VideoID int64
	Action  string
	Data    string
}

type PingRequest struct {
	UUID string
}

// UploadRequest is a binary file-upload chunk.
type UploadRequest struct {
	Chunk UploadChunk
}

func (UpRequest) Namespace() Namespace       { return NamespaceUp }
func (SettingsRequest) Namespace() Namespace { return NamespaceSettings }
func (VideosRequest) Namespace() Namespace   { return NamespaceVideos }
func (PlayerRequest) Namespace() Namespace   { return NamespacePlayer }
func (LogsRequest) Namespace() Namespace     { return NamespaceLogs }
func (PingRequest) Namespace() Namespace     { return NamespacePing }
func (UploadRequest) Namespace() Namespace   { return NamespaceFileUpload }

type envelope struct {
	Namespace Namespace       `json:"namespace"`
	Method    string          `json:"method"`
	Action    string          `json:"action"`
	ID        json.RawMessage `json:"id"`
	VideoID   json.RawMessage `json:"videoId"`
	Order     []int64         `json:"order"`
	URL       string          `json:"url"`
	Time      float64         `json:"time"`
	UUID      string          `json:"uuid"`
	Data      json.RawMessage `json:"data"`
}

// DecodeText parses a JSON text frame into its variant. An unrecognised
// namespace yields ErrUnknownNamespace so callers can log and move on.
func DecodeText(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Namespace {
	case NamespaceUp:
		return UpRequest{}, nil

	case NamespaceSettings:
		req := SettingsRequest{Method: env.Method, Data: map[string]string{}}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			settings, err := decodeSettings(env.Data)
			if err != nil {
				return nil, err
			}
			req.Data = settings
		}
		return req, nil

	case NamespaceVideos:
		id, err := decodeID(env.ID)
		if err != nil {
			return nil, err
		}
		return VideosRequest{Action: VideosAction(env.Action), ID: id, Order: env.Order, URL: env.URL}, nil

	case NamespacePlayer:
		id, err := decodeID(env.VideoID)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			if id, err = decodeID(env.ID); err != nil {
				return nil, err
			}
		}
		return PlayerRequest{Action: PlayerAction(env.Action), Time: env.Time, VideoID: id}, nil

	case NamespaceLogs:
		id, err := decodeID(env.VideoID)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			if id, err = decodeID(env.ID); err != nil {
				return nil, err
			}
		}
		return LogsRequest{Method: env.Method, VideoID: id, Action: env.Action, Data: rawText(env.Data)}, nil

	case NamespacePing:
		return PingRequest{UUID: env.UUID}, nil

	case "":
		return nil, fmt.Errorf("%w: missing namespace", ErrMalformed)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, env.Namespace)
}

// decodeID accepts ids sent either as numbers or as numeric strings.
func decodeID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		id, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: id %s", ErrMalformed, raw)
		}
		return id, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: id %s", ErrMalformed, raw)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrMalformed, s)
	}
	return id, nil
}

// decodeSettings flattens scalar setting values to their string form.
func decodeSettings(raw json.RawMessage) (map[string]string, error) {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrMalformed, err)
	}
	settings := make(map[string]string, len(values))
	for k, v := range values {
		settings[k] = rawText(v)
	}
	return settings, nil
}

// rawText unquotes JSON strings and keeps any other JSON value verbatim.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
