package database

import (
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yd "github.com/Firdaussi/youtube-downloader"
)

func openDatabase(t *testing.T) *HistoryDatabase {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "history.sqlite3"))
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(d.Close)
	return d
}

func TestHistoryDatabase_SaveFind(t *testing.T) {
	assert := assert_.New(t)

	d := openDatabase(t)
	saved := yd.HistoryEntry{
		PlaylistID:    "PL1",
		PlaylistTitle: "My Playlist",
		Status:        "completed",
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		DownloadPath:  "/downloads/My Playlist",
	}
	assert.NoError(d.Save(saved))

	found, err := d.Find("PL1")
	assert.NoError(err)
	require.NotNil(t, found)
	assert.Equal(saved.PlaylistTitle, found.PlaylistTitle)
	assert.Equal(saved.Status, found.Status)

	missing, err := d.Find("PL2")
	assert.NoError(err)
	assert.Nil(missing)
}

func TestHistoryDatabase_UpsertAndDuplicates(t *testing.T) {
	assert := assert_.New(t)

	d := openDatabase(t)
	entry := yd.HistoryEntry{PlaylistID: "PL1", Status: "failed", Timestamp: time.Now()}
	assert.NoError(d.Save(entry))
	assert.False(d.IsDuplicate("PL1"), "a failed attempt is not a duplicate")

	entry.Status = "completed"
	assert.NoError(d.Save(entry))
	assert.True(d.IsDuplicate("PL1"))

	list, err := d.List()
	assert.NoError(err)
	assert.Len(list, 1, "save should upsert, not append")
}
