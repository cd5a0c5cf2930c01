package routing

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downlee/downlee/internal/domain"
	"github.com/downlee/downlee/internal/infra/logger"
	"github.com/downlee/downlee/internal/store"
)

func testTable(t *testing.T) (*Table, *store.Store, string) {
	t.Helper()
	log := logger.NewWriter(io.Discard, logger.LevelError)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	defaultDir := t.TempDir()
	return NewTable(s, defaultDir, log), s, defaultDir
}

func TestKindForMIME(t *testing.T) {
	assert.Equal(t, MediaImages, KindForMIME("image/png"))
	assert.Equal(t, MediaVideos, KindForMIME("video/mp4"))
	assert.Equal(t, MediaDocuments, KindForMIME("application/pdf"))
	assert.Equal(t, MediaDocuments, KindForMIME(""))
}

func TestResolveDestinationDefault(t *testing.T) {
	table, _, defaultDir := testTable(t)

	dir := table.ResolveDestination("youtube", MediaVideos)
	assert.Equal(t, filepath.Join(defaultDir, "Videos"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveDestinationMapped(t *testing.T) {
	table, s, _ := testTable(t)

	mapped := filepath.Join(t.TempDir(), "yt")
	_, err := s.CreateRoute(&domain.SourceRoute{SourceTag: "youtube", Folder: mapped})
	require.NoError(t, err)

	dir := table.ResolveDestination("youtube", MediaVideos)
	assert.Equal(t, mapped, dir)
}

func TestResolveDestinationInaccessibleFallsBack(t *testing.T) {
	table, s, defaultDir := testTable(t)

	// Neither the folder nor its parent exists.
	_, err := s.CreateRoute(&domain.SourceRoute{SourceTag: "vimeo", Folder: "/nonexistent/depths/vm"})
	require.NoError(t, err)

	dir := table.ResolveDestination("vimeo", MediaDocuments)
	assert.Equal(t, filepath.Join(defaultDir, "Documents"), dir)
}

func TestPreferredQualityAndRestriction(t *testing.T) {
	table, s, _ := testTable(t)

	_, err := s.CreateRoute(&domain.SourceRoute{
		SourceTag: "youtube", Folder: t.TempDir(), Quality: "720p", AccessRestricted: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "720p", table.PreferredQuality("youtube"))
	assert.Empty(t, table.PreferredQuality("unmapped"))

	assert.True(t, table.IsAccessRestricted("youtube"))
	assert.False(t, table.IsAccessRestricted("unmapped"))
}

func TestLocateArtifact(t *testing.T) {
	table, _, defaultDir := testTable(t)

	videoDir := filepath.Join(defaultDir, "Videos")
	require.NoError(t, os.MkdirAll(videoDir, 0755))
	path := filepath.Join(videoDir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	got, ok := table.LocateArtifact(&domain.Job{SourceTag: "youtube", File: "clip.mp4"})
	assert.True(t, ok)
	assert.Equal(t, path, got)

	_, ok = table.LocateArtifact(&domain.Job{SourceTag: "youtube", File: "missing.mp4"})
	assert.False(t, ok)
}
