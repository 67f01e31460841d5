// Package library caches the user's saved tracks in a local SQLite
// database so scheduled runs can sample the library without re-paging the
// catalog every time.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"cratebot/models"
)

type Store struct {
	db *sql.DB
}

// Fetcher supplies the library snapshot from the catalog; the Spotify
// client satisfies it.
type Fetcher interface {
	SavedTracks(ctx context.Context) ([]models.Track, error)
}

func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infof("Library cache initialized at %s", dbPath)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS saved_tracks (
			id TEXT PRIMARY KEY,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			album TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL DEFAULT 0,
			popularity INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS cache_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// RefreshIfStale re-pulls the saved-track snapshot from the catalog when the
// cache is older than maxAge (or empty). A fresh cache is left untouched.
func (s *Store) RefreshIfStale(ctx context.Context, fetcher Fetcher, maxAge time.Duration) error {
	age, known := s.age()
	count, err := s.Count()
	if err != nil {
		return err
	}
	if known && age < maxAge && count > 0 {
		log.Debugf("Library cache is %s old (%d tracks), skipping refresh", age.Round(time.Minute), count)
		return nil
	}

	tracks, err := fetcher.SavedTracks(ctx)
	if err != nil {
		// A stale cache still beats no sample at all.
		if count > 0 {
			log.Warnf("Library refresh failed, using stale cache of %d tracks: %v", count, err)
			return nil
		}
		return fmt.Errorf("library refresh failed with empty cache: %w", err)
	}

	if err := s.replaceAll(tracks); err != nil {
		return err
	}
	log.Infof("Library cache refreshed with %d saved tracks", len(tracks))
	return nil
}

func (s *Store) replaceAll(tracks []models.Track) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM saved_tracks`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO saved_tracks
		(id, artist, title, album, year, popularity) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if _, err := stmt.Exec(t.ID, t.Artist, t.Title, t.Album, t.Year, t.Popularity); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO cache_meta (key, value) VALUES ('refreshed_at', ?)`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) age() (time.Duration, bool) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM cache_meta WHERE key = 'refreshed_at'`).Scan(&raw)
	if err != nil {
		return 0, false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, false
	}
	return time.Since(at), true
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM saved_tracks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Sample draws up to n saved tracks uniformly at random without replacement.
func (s *Store) Sample(n int) ([]models.Track, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, artist, title, album, year, popularity
		 FROM saved_tracks ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.Artist, &t.Title, &t.Album, &t.Year, &t.Popularity); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
