// Package history keeps a log of tuning cycles in SQLite.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/itohio/goatu/pkg/relays"
	"github.com/itohio/goatu/pkg/telemetry"
	"github.com/itohio/goatu/pkg/tuning"
)

// Kind identifies the tuning procedure that produced an entry.
type Kind string

const (
	Full   Kind = "FULL"
	Memory Kind = "MEMORY"
)

// Entry is one recorded tuning cycle.
type Entry struct {
	ID           int64
	Time         time.Time
	Kind         Kind
	FrequencyKHz uint16
	Relays       relays.Config
	SWR          float32
	Errors       tuning.Errors
	Comparisons  int
	Stored       bool
}

// EntryOf builds an entry from the result frame of a tune command.
func EntryOf(kind Kind, f telemetry.Frame) Entry {
	return Entry{
		Time:         f.Timestamp,
		Kind:         kind,
		FrequencyKHz: f.FrequencyKHz,
		Relays:       f.Relays,
		SWR:          f.SWR,
		Errors:       f.Errors,
		Comparisons:  f.Comparisons,
		Stored:       f.Stored,
	}
}

// Stats summarizes the history.
type Stats struct {
	Total    int
	Failed   int
	Stored   int
	AvgSWR   float64 // over successful cycles
	LastTune time.Time
}

// Store persists entries, keeping at most maxRecords of them.
type Store struct {
	db         *sql.DB
	path       string
	maxRecords int
}

// Open opens or creates the history database at path.
func Open(path string, maxRecords int) (*Store, error) {
	if path == "" {
		path = "./atu-history.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path, maxRecords: maxRecords}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tunes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('FULL', 'MEMORY')),
		freq_khz INTEGER NOT NULL,
		relay_word INTEGER NOT NULL,
		swr REAL NOT NULL,
		errors INTEGER NOT NULL DEFAULT 0,
		comparisons INTEGER NOT NULL DEFAULT 0,
		stored BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_tunes_timestamp ON tunes(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_tunes_freq ON tunes(freq_khz);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Add records e and prunes the oldest entries beyond the limit.
func (s *Store) Add(e Entry) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO tunes (timestamp, kind, freq_khz, relay_word, swr, errors, comparisons, stored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UnixMicro(), string(e.Kind), e.FrequencyKHz, e.Relays.Pack(),
		e.SWR, uint8(e.Errors), e.Comparisons, e.Stored,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get entry ID: %w", err)
	}

	if err := s.prune(tx); err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entry: %w", err)
	}
	return id, nil
}

func (s *Store) prune(tx *sql.Tx) error {
	if s.maxRecords <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM tunes").Scan(&count); err != nil {
		return err
	}
	if count <= s.maxRecords {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM tunes
		WHERE id IN (
			SELECT id FROM tunes
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)`, count-s.maxRecords)
	return err
}

const selectEntries = `SELECT id, timestamp, kind, freq_khz, relay_word, swr, errors, comparisons, stored FROM tunes`

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(selectEntries+" ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanEntries(rows)
}

// Near returns up to limit entries within spanKHz of freqKHz, newest first.
func (s *Store) Near(freqKHz, spanKHz uint16, limit int) ([]Entry, error) {
	lo := int(freqKHz) - int(spanKHz)
	hi := int(freqKHz) + int(spanKHz)
	rows, err := s.db.Query(selectEntries+" WHERE freq_khz BETWEEN ? AND ? ORDER BY timestamp DESC, id DESC LIMIT ?", lo, hi, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			micros int64
			kind   string
			word   uint16
			errs   uint8
		)
		if err := rows.Scan(&e.ID, &micros, &kind, &e.FrequencyKHz, &word, &e.SWR, &errs, &e.Comparisons, &e.Stored); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Time = time.UnixMicro(micros)
		e.Kind = Kind(kind)
		e.Relays = relays.Unpack(word)
		e.Errors = tuning.Errors(errs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes all recorded entries.
func (s *Store) Stats() (Stats, error) {
	var (
		st     Stats
		avg    sql.NullFloat64
		last   sql.NullInt64
		stored sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN errors != 0 THEN 1 ELSE 0 END), 0),
			SUM(CASE WHEN stored THEN 1 ELSE 0 END),
			AVG(CASE WHEN errors = 0 THEN swr END),
			MAX(timestamp)
		FROM tunes`).Scan(&st.Total, &st.Failed, &stored, &avg, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	st.Stored = int(stored.Int64)
	st.AvgSWR = avg.Float64
	if last.Valid {
		st.LastTune = time.UnixMicro(last.Int64)
	}
	return st, nil
}
