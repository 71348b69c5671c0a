// Package ledger provides an append-only history of serial link traffic.
// It is an audit trail only; nothing in it is used to restore state.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandSent    EventType = "command_sent"
	EventCommandFailed  EventType = "command_failed"
	EventAckMatched     EventType = "ack_matched"
	EventAckMismatch    EventType = "ack_mismatch"
	EventStatus         EventType = "status"
	EventStatusInvalid  EventType = "status_invalid"
	EventUnsolicited    EventType = "unsolicited"
	EventUnknownPending EventType = "unknown_pending"
	EventExpired        EventType = "expired"
	EventOverflow       EventType = "overflow"
	EventPhaseChanged   EventType = "phase_changed"
	EventDesiredChanged EventType = "desired_changed"
	EventReboot         EventType = "reboot"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	CommandID string         `json:"command_id,omitempty"`
	Token     string         `json:"token,omitempty"`
	Line      string         `json:"line,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. A zero Timestamp is set to now.
func (l *Ledger) Append(e Entry) error {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	_, err := l.db.Exec(
		`INSERT INTO link_events (event_type, timestamp, command_id, token, line, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.EventType), ts.UTC().UnixMilli(), e.CommandID, e.Token, e.Line, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", e.EventType, err)
	}
	return nil
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, command_id, token, line, payload
		FROM link_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ByCommand returns every entry recorded for one command id, oldest first
func (l *Ledger) ByCommand(commandID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, command_id, token, line, payload
		FROM link_events
		WHERE command_id = ?
		ORDER BY id ASC
	`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountSince counts entries of a type newer than since
func (l *Ledger) CountSince(eventType EventType, since time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM link_events
		WHERE event_type = ? AND timestamp >= ?
	`, string(eventType), since.UTC().UnixMilli()).Scan(&n)
	return n, err
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM link_events WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var commandID, token, line, payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &commandID, &token, &line, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.CommandID = commandID.String
		entry.Token = token.String
		entry.Line = line.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
