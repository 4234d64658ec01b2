// Package mocks provides testify mocks for the port interfaces.
package mocks

import (
	"context"

	"github.com/bnema/piplay/internal/domain"
	"github.com/bnema/piplay/internal/port"
	"github.com/stretchr/testify/mock"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

type PlaylistSourceMock struct {
	mock.Mock
}

func NewPlaylistSourceMock(t testingT) *PlaylistSourceMock {
	m := &PlaylistSourceMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *PlaylistSourceMock) Playlist(ctx context.Context, playlistURL string) ([]port.PlaylistEntry, error) {
	args := m.Called(ctx, playlistURL)
	entries, _ := args.Get(0).([]port.PlaylistEntry)
	return entries, args.Error(1)
}

type MetadataSourceMock struct {
	mock.Mock
}

func NewMetadataSourceMock(t testingT) *MetadataSourceMock {
	m := &MetadataSourceMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MetadataSourceMock) Metadata(ctx context.Context, url string) (*domain.VideoMetadata, error) {
	args := m.Called(ctx, url)
	meta, _ := args.Get(0).(*domain.VideoMetadata)
	return meta, args.Error(1)
}

type MediaConverterMock struct {
	mock.Mock
}

func NewMediaConverterMock(t testingT) *MediaConverterMock {
	m := &MediaConverterMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MediaConverterMock) ExtractFrames(ctx context.Context, inputPath, outputDir string, interval float64, width, height int) ([]string, error) {
	args := m.Called(ctx, inputPath, outputDir, interval, width, height)
	paths, _ := args.Get(0).([]string)
	return paths, args.Error(1)
}

func (m *MediaConverterMock) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	args := m.Called(ctx, inputPath)
	res, _ := args.Get(0).(*domain.ProbeResult)
	return res, args.Error(1)
}

var (
	_ port.PlaylistSource = (*PlaylistSourceMock)(nil)
	_ port.MetadataSource = (*MetadataSourceMock)(nil)
	_ port.MediaConverter = (*MediaConverterMock)(nil)
)
