// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/peerchat-tui/internal/model"
)

// =============================================================================
// PREVIEW CACHE
// =============================================================================

// cacheSchema holds one row per conversation, the whole record stored as a
// JSON payload. The cache is a pure warm-start optimization: it is never
// consulted after the first network load succeeds, and any failure to read
// or write it is non-fatal.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Cache persists conversation previews between sessions.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (and creates if missing) the preview cache at path.
// The parent directory is created as needed.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// A single writer keeps WAL contention away.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Save replaces the cached conversation set. Runs in a single transaction
// so a crash never leaves a half-written list.
func (c *Cache) Save(convs []*model.Conversation) error {
	if c == nil || c.db == nil {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO conversations (id, payload, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, conv := range convs {
		payload, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(conv.ID, string(payload), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns the cached conversation set, most recent activity first.
// Rows that fail to decode are skipped.
func (c *Cache) Load() ([]*model.Conversation, error) {
	if c == nil || c.db == nil {
		return nil, nil
	}

	rows, err := c.db.Query(`SELECT payload FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			continue
		}
		convs = append(convs, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	model.SortConversations(convs)
	return convs, nil
}
