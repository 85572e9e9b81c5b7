package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/montesim/internal/database"
)

func newFileDB(t *testing.T, dir, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshotDatabase(t *testing.T) {
	dir := t.TempDir()
	db := newFileDB(t, dir, "history")

	_, err := db.Conn().Exec(`
		INSERT INTO daily_prices (ticker, date, open, high, low, close, adj_close, volume)
		VALUES ('AAA', 1704153600, 100, 101, 99, 100.5, 100.5, 1000)
	`)
	require.NoError(t, err)

	svc := NewBackupService(nil, nil, dir, zerolog.Nop())
	target := filepath.Join(dir, "snapshot.db")
	require.NoError(t, svc.snapshotDatabase(context.Background(), db, target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// Snapshot is a standalone database with the row intact.
	snap, err := database.New(database.Config{Path: target, Name: "history"})
	require.NoError(t, err)
	defer snap.Close()

	var count int
	require.NoError(t, snap.Conn().QueryRow(
		`SELECT COUNT(*) FROM daily_prices WHERE ticker = 'AAA'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCreateArchiveAndChecksum(t *testing.T) {
	dir := t.TempDir()
	svc := NewBackupService(nil, nil, dir, zerolog.Nop())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.db"), []byte("history-bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.db"), []byte("results-bytes"), 0644))

	archivePath := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, svc.createArchive(archivePath, dir, []string{"history.db", "results.db"}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	contents := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		contents[hdr.Name] = string(data)
	}

	assert.Equal(t, "history-bytes", contents["history.db"])
	assert.Equal(t, "results-bytes", contents["results.db"])

	sum, err := svc.calculateChecksum(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sum, "sha256:"))

	sum2, err := svc.calculateChecksum(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	assert.NotEqual(t, sum, sum2)
}

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	svc := NewBackupService(nil, nil, dir, zerolog.Nop())

	path := filepath.Join(dir, "backup-metadata.json")
	require.NoError(t, svc.writeMetadata(path, BackupMetadata{
		Timestamp: time.Date(2026, 1, 8, 14, 30, 0, 0, time.UTC),
		Version:   "1.0.0",
		Databases: []DatabaseMetadata{
			{Name: "history", Filename: "history.db", SizeBytes: 42, Checksum: "sha256:abc"},
		},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"history.db"`)
	assert.Contains(t, string(data), `"sha256:abc"`)
}
