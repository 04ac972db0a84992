// Package db keeps an sqlite audit log of destructive queue operations.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/epalmerini/burrow/internal/xdg"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Actions recorded in the audit log.
const (
	ActionDropAll   = "drop-all"
	ActionDrop      = "drop"
	ActionRepublish = "republish"
)

// Store defines the interface for audit persistence
type Store interface {
	InsertAction(ctx context.Context, rec *ActionRecord) error
	ListActions(ctx context.Context, queueID string, limit int64) ([]ActionRecord, error)
	Close() error
}

// ActionRecord is one destructive operation and its outcome.
type ActionRecord struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	QueueID   string    `json:"queueId"`
	ReadQueue string    `json:"readQueue"`
	MessageID string    `json:"messageId,omitempty"`
	BrokerURL string    `json:"brokerUrl,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewStore opens the audit database at customPath, or burrow.db in the XDG
// data directory when customPath is empty.
func NewStore(customPath string) (*SQLiteStore, error) {
	dbPath := customPath
	if dbPath == "" {
		dataDir, err := xdg.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, "burrow.db")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to set pragmas: %w", err), db.Close())
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize schema: %w", err), db.Close())
	}

	return &SQLiteStore{db: db}, nil
}

// SanitizeAMQPURL removes password from AMQP URL for storage
func SanitizeAMQPURL(amqpURL string) string {
	u, err := url.Parse(amqpURL)
	if err != nil {
		return amqpURL
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func (s *SQLiteStore) InsertAction(ctx context.Context, rec *ActionRecord) error {
	const insert = `
INSERT INTO actions (id, action, queue_id, read_queue, message_id, broker_url, success, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, insert,
		rec.ID, rec.Action, rec.QueueID, rec.ReadQueue,
		toNullString(rec.MessageID), toNullString(SanitizeAMQPURL(rec.BrokerURL)),
		rec.Success, toNullString(rec.Error), rec.CreatedAt.UTC(),
	)
	return err
}

// ListActions returns the most recent records first. An empty queueID lists
// every queue.
func (s *SQLiteStore) ListActions(ctx context.Context, queueID string, limit int64) (_ []ActionRecord, err error) {
	const list = `
SELECT id, action, queue_id, read_queue, message_id, broker_url, success, error, created_at
FROM actions
WHERE ? = '' OR queue_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, list, queueID, queueID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var records []ActionRecord
	for rows.Next() {
		var (
			r                          ActionRecord
			messageID, brokerURL, errS sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Action, &r.QueueID, &r.ReadQueue, &messageID, &brokerURL,
			&r.Success, &errS, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.MessageID = messageID.String
		r.BrokerURL = brokerURL.String
		r.Error = errS.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
