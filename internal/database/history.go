// Package database is a sqlite-backed HistoryRepository for installs that
// want queryable download history instead of the default bbolt file.
package database

import (
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	yd "github.com/Firdaussi/youtube-downloader"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type HistoryDatabase struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

func Open(path string) (*HistoryDatabase, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	return &HistoryDatabase{db: db, log: zap.S().Named("database")}, nil
}

func (d *HistoryDatabase) Migrate() error {
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(d.db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch err {
	case nil:
		d.log.Info("database migration complete")
	case migrate.ErrNoChange:
		d.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

func (d *HistoryDatabase) Close() {
	_ = d.db.Close()
}

type historyRow struct {
	PlaylistID    string    `db:"playlist_id"`
	PlaylistTitle string    `db:"playlist_title"`
	Status        string    `db:"status"`
	Timestamp     time.Time `db:"timestamp"`
	DownloadPath  string    `db:"download_path"`
}

func (r historyRow) entry() yd.HistoryEntry {
	return yd.HistoryEntry{
		PlaylistID:    r.PlaylistID,
		PlaylistTitle: r.PlaylistTitle,
		Status:        r.Status,
		Timestamp:     r.Timestamp,
		DownloadPath:  r.DownloadPath,
	}
}

// IsDuplicate reports whether a completed attempt is recorded for the id.
func (d *HistoryDatabase) IsDuplicate(playlistID string) bool {
	var count int
	err := d.db.Get(&count,
		`SELECT COUNT(*) FROM history WHERE playlist_id = ? AND status = 'completed'`, playlistID)
	if err != nil {
		d.log.Warnw("duplicate check failed", "playlist_id", playlistID, "error", err)
		return false
	}
	return count > 0
}

// Save upserts the entry; the latest attempt for an id wins.
func (d *HistoryDatabase) Save(entry yd.HistoryEntry) error {
	_, err := d.db.Exec(`
		INSERT INTO history (playlist_id, playlist_title, status, timestamp, download_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(playlist_id) DO UPDATE SET
			playlist_title = excluded.playlist_title,
			status = excluded.status,
			timestamp = excluded.timestamp,
			download_path = excluded.download_path`,
		entry.PlaylistID, entry.PlaylistTitle, entry.Status, entry.Timestamp, entry.DownloadPath)
	return err
}

// Find returns (nil, nil) when no entry exists for the id.
func (d *HistoryDatabase) Find(playlistID string) (*yd.HistoryEntry, error) {
	var row historyRow
	if err := d.db.Get(&row, `SELECT * FROM history WHERE playlist_id = ? LIMIT 1`, playlistID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	entry := row.entry()
	return &entry, nil
}

// List returns all entries, most recent first.
func (d *HistoryDatabase) List() ([]yd.HistoryEntry, error) {
	var rows []historyRow
	if err := d.db.Select(&rows, `SELECT * FROM history ORDER BY timestamp DESC`); err != nil {
		return nil, err
	}
	entries := make([]yd.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}
