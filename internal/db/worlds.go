// CLAUDE:SUMMARY World persistence — journaled world rows and read-back for aggregates
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/hidesis/internal/engine"
)

// WorldRecord is the journaled view of a world.
type WorldRecord struct {
	ID          string          `json:"id"`
	Theme       string          `json:"theme"`
	Tags        []string        `json:"tags"`
	MemberCount int             `json:"member_count"`
	Finalized   bool            `json:"finalized"`
	Body        json.RawMessage `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SaveWorld upserts the world row. Called at creation and at finalize.
func (db *DB) SaveWorld(w *engine.World) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling world: %w", err)
	}
	tags, err := json.Marshal(w.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO worlds (id, theme, tags, member_count, finalized, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			member_count = excluded.member_count,
			finalized = excluded.finalized,
			body = excluded.body`,
		w.ID, w.Theme, string(tags), len(w.Members), w.Summary != nil, string(body), w.CreatedAt)
	return err
}

// GetWorldRecord returns one journaled world.
func (db *DB) GetWorldRecord(id string) (*WorldRecord, error) {
	row := db.QueryRow(`
		SELECT id, theme, tags, member_count, finalized, body, created_at
		FROM worlds WHERE id = ?`, id)
	return scanWorld(row)
}

// ListWorlds returns recent worlds, newest first.
func (db *DB) ListWorlds(limit int) ([]*WorldRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, theme, tags, member_count, finalized, body, created_at
		FROM worlds
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorldRecord
	for rows.Next() {
		w, err := scanWorldRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorld(row *sql.Row) (*WorldRecord, error) {
	var w WorldRecord
	var tags, body string
	err := row.Scan(&w.ID, &w.Theme, &tags, &w.MemberCount, &w.Finalized, &body, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &w.Tags); err != nil {
		return nil, fmt.Errorf("parsing tags: %w", err)
	}
	w.Body = json.RawMessage(body)
	return &w, nil
}

func scanWorldRow(rows *sql.Rows) (*WorldRecord, error) {
	var w WorldRecord
	var tags, body string
	if err := rows.Scan(&w.ID, &w.Theme, &tags, &w.MemberCount, &w.Finalized, &body, &w.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &w.Tags); err != nil {
		return nil, fmt.Errorf("parsing tags: %w", err)
	}
	w.Body = json.RawMessage(body)
	return &w, nil
}
