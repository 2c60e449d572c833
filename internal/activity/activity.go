// Package activity keeps a durable log of gateway events (pairings,
// transfers, deletions) backing the dashboard's recent-activity feed.
package activity

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event names recorded by the gateway.
const (
	EventDevicePaired  = "device_paired"
	EventDeviceRevoked = "device_revoked"
	EventUpload        = "upload"
	EventDownload      = "download"
	EventDelete        = "delete"
	EventRename        = "rename"
)

// Entry is one recorded gateway event.
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"` // RFC 3339
	Event     string `json:"event"`
	DeviceID  string `json:"device_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Log is a sqlite-backed append-only event log.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the activity database at dsn.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create activity table: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one event. deviceID and detail may be empty.
func (l *Log) Record(event, deviceID, detail string) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	_, err := l.db.Exec(
		"INSERT INTO activity (timestamp, event, device_id, detail) VALUES (?, ?, ?, ?)",
		ts, event, deviceID, detail)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(
		"SELECT id, timestamp, event, device_id, detail FROM activity ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Event, &e.DeviceID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
