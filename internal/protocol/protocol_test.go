package protocol

import (
	"encoding/json"
	"testing"

	"github.com/bnema/piplay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Inbound
	}{
		{"up", `{"namespace":"up"}`, UpRequest{}},
		{
			"settings put",
			`{"namespace":"settings","method":"PUT","data":{"videoQuality":"1080p","audioDelay":40}}`,
			SettingsRequest{Method: "PUT", Data: map[string]string{"videoQuality": "1080p", "audioDelay": "40"}},
		},
		{
			"videos order",
			`{"namespace":"videos","action":"order","order":[3,1,2]}`,
			VideosRequest{Action: VideosOrder, Order: []int64{3, 1, 2}},
		},
		{
			"videos remove with string id",
			`{"namespace":"videos","action":"remove","id":"7"}`,
			VideosRequest{Action: VideosRemove, ID: 7},
		},
		{
			"videos add",
			`{"namespace":"videos","action":"add","url":"https://www.youtube.com/watch?v=abc"}`,
			VideosRequest{Action: VideosAdd, URL: "https://www.youtube.com/watch?v=abc"},
		},
		{
			"player progress",
			`{"namespace":"player","action":"progress","time":12.5,"videoId":4}`,
			PlayerRequest{Action: PlayerProgress, Time: 12.5, VideoID: 4},
		},
		{
			"logs create with object data",
			`{"namespace":"logs","method":"POST","id":3,"action":"onPlay","data":{"t":1}}`,
			LogsRequest{Method: "POST", VideoID: 3, Action: "onPlay", Data: `{"t":1}`},
		},
		{"ping", `{"namespace":"ping","uuid":"abc"}`, PingRequest{UUID: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeText_Errors(t *testing.T) {
	_, err := DecodeText([]byte(`{"namespace":"routines","method":"GET"}`))
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	_, err = DecodeText([]byte(`{"method":"GET"}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeText([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeText([]byte(`{"namespace":"videos","action":"remove","id":"seven"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOutbound_CarriesMessageID(t *testing.T) {
	msg := NewVideoList(nil)
	msg.Stamp(42)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "videos", decoded["namespace"])
	assert.Equal(t, float64(42), decoded["messageId"])
	assert.Equal(t, []any{}, decoded["videos"])
}

func TestOutbound_VideoCarriesSource(t *testing.T) {
	msg := NewVideo(domain.MediaItem{ID: 5, Renditions: []int{}}, "downloader")
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"source":"downloader"`)
	assert.Contains(t, string(raw), `"video":{"id":5`)
}

func TestPreamble(t *testing.T) {
	frame := append(EncodePreamble(Preamble{Version: "1.0", Namespace: NamespaceFileUpload}), 1, 2, 3)
	require.Len(t, frame, PreambleSize+3)

	p, payload, err := DecodePreamble(frame)
	require.NoError(t, err)
	assert.Equal(t, "1.0", p.Version)
	assert.Equal(t, NamespaceFileUpload, p.Namespace)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestPreamble_Rejects(t *testing.T) {
	_, _, err := DecodePreamble([]byte{0x89, 'w'})
	assert.ErrorIs(t, err, ErrBadPreamble)

	frame := EncodePreamble(Preamble{Namespace: NamespaceFileUpload})
	frame[1] = 'x'
	_, _, err = DecodePreamble(frame)
	assert.ErrorIs(t, err, ErrBadPreamble)
}

func TestUploadChunk_Store(t *testing.T) {
	frame := EncodeUploadChunk("1", UploadChunk{
		UUID:   "0b5a4c62-4f5e-4a8e-9d0f-6a1f3b1d2e3c",
		Action: UploadStore,
		Part:   2,
		Start:  1024,
		Total:  4096,
		Data:   []byte("hello"),
	})

	// field positions are relative to the start of the frame
	assert.Equal(t, byte('s'), frame[80])
	assert.Equal(t, byte(2), frame[88])
	assert.Equal(t, byte('h'), frame[108])

	in, err := DecodeBinary(frame)
	require.NoError(t, err)
	req, ok := in.(UploadRequest)
	require.True(t, ok)
	assert.Equal(t, "0b5a4c62-4f5e-4a8e-9d0f-6a1f3b1d2e3c", req.Chunk.UUID)
	assert.Equal(t, UploadStore, req.Chunk.Action)
	assert.Equal(t, uint32(2), req.Chunk.Part)
	assert.Equal(t, uint32(1024), req.Chunk.Start)
	assert.Equal(t, uint32(5), req.Chunk.Length)
	assert.Equal(t, uint64(4096), req.Chunk.Total)
	assert.Equal(t, []byte("hello"), req.Chunk.Data)
}

func TestUploadChunk_Complete(t *testing.T) {
	frame := EncodeUploadChunk("1", UploadChunk{UUID: "u", Action: UploadComplete, Name: "holiday.mp4"})

	in, err := DecodeBinary(frame)
	require.NoError(t, err)
	req := in.(UploadRequest)
	assert.Equal(t, UploadComplete, req.Chunk.Action)
	assert.Equal(t, "holiday.mp4", req.Chunk.Name)
}

func TestUploadChunk_Truncated(t *testing.T) {
	frame := EncodeUploadChunk("1", UploadChunk{UUID: "u", Action: UploadStore, Data: []byte("hello")})
	_, err := DecodeBinary(frame[:len(frame)-2])
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeBinary(EncodePreamble(Preamble{Namespace: "image"}))
	assert.ErrorIs(t, err, ErrUnknownNamespace)
}
