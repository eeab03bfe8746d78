// Package journal keeps a small SQLite history of firmware uploads and
// bank commits so a simulated device can come back up on the bank it
// last committed to.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Upload is one completed image transfer.
type Upload struct {
	Bank   string // "A" or "B"
	Image  string // user1.bin / user2.bin
	Size   int
	Digest string // blake2b-256, hex
	Peer   string
	At     time.Time
}

// Commit is one accepted reboot into a bank.
type Commit struct {
	Bank string
	Peer string
	At   time.Time
}

// Journal wraps the history database.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path.  ":memory:" is accepted
// for tests.
func Open(path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	for _, stmt := range []string{ddlUploads, ddlCommits} {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

// RecordUpload appends a completed upload.
func (j *Journal) RecordUpload(u Upload) error {
	_, err := j.db.Exec(
		`INSERT INTO uploads (bank, image, size_bytes, digest, peer, at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Bank, u.Image, u.Size, u.Digest, u.Peer, u.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record upload: %w", err)
	}
	return nil
}

// RecordCommit appends an accepted commit.
func (j *Journal) RecordCommit(c Commit) error {
	_, err := j.db.Exec(`INSERT INTO commits (bank, peer, at) VALUES (?, ?, ?)`,
		c.Bank, c.Peer, c.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record commit: %w", err)
	}
	return nil
}

// LastCommit returns the most recent commit.  ok is false when the
// journal has none.
func (j *Journal) LastCommit() (c Commit, ok bool, err error) {
	var ms int64
	row := j.db.QueryRow(`SELECT bank, peer, at FROM commits ORDER BY id DESC LIMIT 1`)
	switch err := row.Scan(&c.Bank, &c.Peer, &ms); {
	case errors.Is(err, sql.ErrNoRows):
		return Commit{}, false, nil
	case err != nil:
		return Commit{}, false, fmt.Errorf("journal: last commit: %w", err)
	}
	c.At = time.UnixMilli(ms)
	return c, true, nil
}

// Uploads returns up to limit uploads, newest first.
func (j *Journal) Uploads(limit int) ([]Upload, error) {
	rows, err := j.db.Query(
		`SELECT bank, image, size_bytes, digest, peer, at FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var u Upload
		var ms int64
		if err := rows.Scan(&u.Bank, &u.Image, &u.Size, &u.Digest, &u.Peer, &ms); err != nil {
			return nil, fmt.Errorf("journal: uploads: %w", err)
		}
		u.At = time.UnixMilli(ms)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── DDL statements ────────────────────────────────────────────────────

const ddlUploads = `
CREATE TABLE IF NOT EXISTS uploads (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    bank       TEXT    NOT NULL,
    image      TEXT    NOT NULL,
    size_bytes INTEGER NOT NULL,
    digest     TEXT    NOT NULL DEFAULT '',
    peer       TEXT    NOT NULL DEFAULT '',
    at         INTEGER NOT NULL          -- Unix milliseconds
);
`

const ddlCommits = `
CREATE TABLE IF NOT EXISTS commits (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    bank TEXT    NOT NULL,
    peer TEXT    NOT NULL DEFAULT '',
    at   INTEGER NOT NULL                -- Unix milliseconds
);
`
