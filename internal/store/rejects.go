package store

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// maxRejectPayload caps the stored copy of a dropped message.
	maxRejectPayload = 2 * 1024
	// maxRejects is how many rejected events are kept.
	maxRejects = 500
)

// Reject is a dropped inbound message.
type Reject struct {
	ID         int64  `json:"id"`
	Source     string `json:"source"`
	Reason     string `json:"reason"`
	Payload    string `json:"payload"`
	RejectedAt int64  `json:"rejectedAt"` // unix millis
}

// RecordReject stores a dropped message and trims the log to the newest
// maxRejects entries. Payloads are stored as valid UTF-8 and truncated to
// 2KB on a rune boundary.
func (db *DB) RecordReject(source, reason, payload string) error {
	payload = clip(strings.ToValidUTF8(payload, "\uFFFD"), maxRejectPayload)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("record reject: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rejected_events (source, reason, payload, rejected_at)
		VALUES (?, ?, ?, ?)
	`, source, reason, payload, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("record reject: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM rejected_events WHERE id NOT IN (
			SELECT id FROM rejected_events ORDER BY id DESC LIMIT ?
		)
	`, maxRejects); err != nil {
		return fmt.Errorf("trim rejects: %w", err)
	}
	return tx.Commit()
}

// RecentRejects returns up to limit rejected messages, newest first.
func (db *DB) RecentRejects(limit int) ([]Reject, error) {
	if limit <= 0 || limit > maxRejects {
		limit = maxRejects
	}
	rows, err := db.Query(`
		SELECT id, source, reason, payload, rejected_at
		FROM rejected_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rejects: %w", err)
	}
	defer rows.Close()

	var out []Reject
	for rows.Next() {
		var r Reject
		if err := rows.Scan(&r.ID, &r.Source, &r.Reason, &r.Payload, &r.RejectedAt); err != nil {
			return nil, fmt.Errorf("scan reject: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRejects returns the number of stored rejects.
func (db *DB) CountRejects() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM rejected_events").Scan(&n)
	return n, err
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
