package service

import (
	"context"
	"testing"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayer_ControllerSavesPosition(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	item := ytItem("A")
	item.Duration = 300
	item, err := lib.Insert(ctx, item, -1, nil)
	require.NoError(t, err)

	hub := NewHub(8)
	tv := hub.Connect()
	phone := hub.Connect()
	p := NewPlayer(lib, hub)

	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPlay, VideoID: item.ID}))
	assert.Equal(t, tv.ID, p.Controller())
	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerProgress, Time: 42.5, VideoID: item.ID}))
	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPause, Time: 42.5, VideoID: item.ID}))

	got, _ := lib.Get(item.ID)
	assert.Equal(t, 42.5, got.Position)
	assert.Equal(t, "", p.Controller())
	assert.Equal(t, domain.PlayerState{Time: 42.5, VideoID: item.ID, Status: domain.PlayerPaused}, p.State())

	assert.Empty(t, drain(tv))
	relayed := drain(phone)
	require.Len(t, relayed, 3)
	assert.Equal(t, domain.PlayerPaused, relayed[2].(*protocol.PlayerMessage).Player.Status)
}

func TestPlayer_NonControllerDoesNotSave(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	item, err := lib.Insert(ctx, ytItem("A"), -1, nil)
	require.NoError(t, err)

	hub := NewHub(8)
	tv := hub.Connect()
	phone := hub.Connect()
	p := NewPlayer(lib, hub)

	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPlay, VideoID: item.ID}))
	require.NoError(t, p.Handle(ctx, phone, protocol.PlayerRequest{Action: protocol.PlayerStop, Time: 10, VideoID: item.ID}))

	got, _ := lib.Get(item.ID)
	assert.Zero(t, got.Position)
	assert.Equal(t, domain.PlayerStopped, p.State().Status)
}

func TestPlayer_EndedSavesDuration(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	ctx := context.Background()
	item := ytItem("A")
	item.Duration = 300
	item, err := lib.Insert(ctx, item, -1, nil)
	require.NoError(t, err)

	hub := NewHub(8)
	tv := hub.Connect()
	p := NewPlayer(lib, hub)

	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPlay, VideoID: item.ID}))
	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerEnded, Time: 298.7, VideoID: item.ID}))

	got, _ := lib.Get(item.ID)
	assert.Equal(t, 300.0, got.Position)
}

func TestPlayer_MissingItemAndUnknownAction(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	hub := NewHub(8)
	tv := hub.Connect()
	p := NewPlayer(lib, hub)
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPlay, VideoID: 99}))
	assert.NoError(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: protocol.PlayerPause, VideoID: 99}))
	assert.Error(t, p.Handle(ctx, tv, protocol.PlayerRequest{Action: "rewind"}))
}

func TestPlayer_DisconnectReleasesControl(t *testing.T) {
	lib, _, _ := newTestLibrary(t)
	hub := NewHub(8)
	tv := hub.Connect()
	p := NewPlayer(lib, hub)

	require.NoError(t, p.Handle(context.Background(), tv, protocol.PlayerRequest{Action: protocol.PlayerPlay, VideoID: 1}))
	p.Disconnected(tv)
	assert.Equal(t, "", p.Controller())
}
