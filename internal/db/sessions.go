// CLAUDE:SUMMARY Session and turn persistence — write-through journal for the in-memory arena, forensic read-back queries
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/hidesis/internal/engine"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SessionRecord is the journaled view of a session. Body carries the full
// serialized session (minus the secret seed, which is never persisted).
type SessionRecord struct {
	ID             string          `json:"id"`
	Wallet         string          `json:"wallet,omitempty"`
	Mode           string          `json:"mode"`
	WorldID        string          `json:"world_id,omitempty"`
	SchemaVersion  int             `json:"schema_version"`
	SeedCommitment string          `json:"seed_commitment"`
	Status         string          `json:"status"`
	Dignity        int             `json:"dignity"`
	Relation       int             `json:"relation"`
	Pollution      int             `json:"pollution"`
	TruthUnlocked  bool            `json:"truth_unlocked"`
	Ending         int             `json:"ending"`
	Body           json.RawMessage `json:"body"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TurnRecord is the journaled view of one turn.
type TurnRecord struct {
	SessionID  string          `json:"session_id"`
	TurnIndex  int             `json:"turn_index"`
	NodeID     int             `json:"node_id"`
	ChoiceID   *int            `json:"choice_id,omitempty"`
	DrawnID    *int            `json:"drawn_id,omitempty"`
	FirstClear *bool           `json:"first_clear,omitempty"`
	Body       json.RawMessage `json:"body"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SaveSession upserts the session row. Called on every state transition.
func (db *DB) SaveSession(s *engine.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO sessions (id, wallet, mode, world_id, schema_version, seed_commitment,
			status, dignity, relation, pollution, truth_unlocked, ending, body, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			dignity = excluded.dignity,
			relation = excluded.relation,
			pollution = excluded.pollution,
			truth_unlocked = excluded.truth_unlocked,
			ending = excluded.ending,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		s.ID, s.Wallet, string(s.Mode), s.WorldID, s.SchemaVersion, s.SeedCommitment,
		string(s.Status), s.Dignity, s.Relation, s.Pollution, s.TruthUnlocked,
		int(s.Ending), string(body), s.StartedAt, s.UpdatedAt)
	return err
}

// SaveTurn upserts one turn row: once at quote, once more at commit.
func (db *DB) SaveTurn(sessionID string, t *engine.Turn) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}
	var drawn *int
	var clear *bool
	if t.Outcome != nil {
		drawn = &t.Outcome.DrawnChoiceID
		clear = &t.Outcome.FirstClear
	}
	_, err = db.Exec(`
		INSERT INTO turns (session_id, turn_index, node_id, choice_id, drawn_id, first_clear, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(session_id, turn_index) DO UPDATE SET
			choice_id = excluded.choice_id,
			drawn_id = excluded.drawn_id,
			first_clear = excluded.first_clear,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		sessionID, t.Index, int(t.Quote.NodeID), t.ChoiceID, drawn, clear, string(body))
	return err
}

// GetSessionRecord returns one journaled session.
func (db *DB) GetSessionRecord(id string) (*SessionRecord, error) {
	return scanSession(db.QueryRow(`
		SELECT id, wallet, mode, world_id, schema_version, seed_commitment,
			status, dignity, relation, pollution, truth_unlocked, ending, body, started_at, updated_at
		FROM sessions WHERE id = ?`, id))
}

// ListSessionsByWallet returns a wallet's sessions, newest first.
func (db *DB) ListSessionsByWallet(wallet string, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, wallet, mode, world_id, schema_version, seed_commitment,
			status, dignity, relation, pollution, truth_unlocked, ending, body, started_at, updated_at
		FROM sessions WHERE wallet = ?
		ORDER BY started_at DESC
		LIMIT ?`, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// ListSessionsByWorld returns every member session journaled for a world.
func (db *DB) ListSessionsByWorld(worldID string) ([]*SessionRecord, error) {
	rows, err := db.Query(`
		SELECT id, wallet, mode, world_id, schema_version, seed_commitment,
			status, dignity, relation, pollution, truth_unlocked, ending, body, started_at, updated_at
		FROM sessions WHERE world_id = ?
		ORDER BY started_at ASC`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// ListTurns returns a session's journaled turns in order.
func (db *DB) ListTurns(sessionID string) ([]*TurnRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, turn_index, node_id, choice_id, drawn_id, first_clear, body, updated_at
		FROM turns WHERE session_id = ?
		ORDER BY turn_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var t TurnRecord
		var body string
		if err := rows.Scan(&t.SessionID, &t.TurnIndex, &t.NodeID, &t.ChoiceID,
			&t.DrawnID, &t.FirstClear, &body, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Body = json.RawMessage(body)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var s SessionRecord
	var body string
	err := row.Scan(&s.ID, &s.Wallet, &s.Mode, &s.WorldID, &s.SchemaVersion, &s.SeedCommitment,
		&s.Status, &s.Dignity, &s.Relation, &s.Pollution, &s.TruthUnlocked, &s.Ending,
		&body, &s.StartedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Body = json.RawMessage(body)
	return &s, nil
}

func scanSessionRows(rows *sql.Rows) ([]*SessionRecord, error) {
	var out []*SessionRecord
	for rows.Next() {
		var s SessionRecord
		var body string
		if err := rows.Scan(&s.ID, &s.Wallet, &s.Mode, &s.WorldID, &s.SchemaVersion, &s.SeedCommitment,
			&s.Status, &s.Dignity, &s.Relation, &s.Pollution, &s.TruthUnlocked, &s.Ending,
			&body, &s.StartedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Body = json.RawMessage(body)
		out = append(out, &s)
	}
	return out, rows.Err()
}
