// Package ledger keeps the persisted set of already-handled event keys so that a
// restart or a realtime reconnect does not re-trigger the same siren or highlight.
package ledger

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ledger is an append-only set of dedup keys backed by the handled_events table
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	handled map[string]bool
}

// New loads the existing keys into memory
func New(db *sql.DB, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		db:      db,
		logger:  logger,
		handled: make(map[string]bool),
	}

	rows, err := db.Query(`SELECT event_key FROM handled_events`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan ledger key: %w", err)
		}
		l.handled[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}

	logger.Debug("Ledger loaded", zap.Int("keys", len(l.handled)))
	return l, nil
}

// TryAcquire records key as handled and reports whether this was the first time.
// A persistence failure still counts the key in memory, so a live session never
// fires twice; the key is simply not remembered across a restart.
func (l *Ledger) TryAcquire(key, eventType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handled[key] {
		return false
	}
	l.handled[key] = true

	_, err := l.db.Exec(`
		INSERT INTO handled_events (event_key, event_type, handled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(event_key) DO NOTHING
	`, key, eventType, time.Now().UTC())
	if err != nil {
		l.logger.Error("Failed to persist handled key", zap.Error(err), zap.String("key", key))
	}
	return true
}

// Seen reports whether key was already handled
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handled[key]
}

// Acknowledge marks key as acknowledged. The key stays in the ledger.
func (l *Ledger) Acknowledge(key, eventType string) error {
	l.mu.Lock()
	l.handled[key] = true
	l.mu.Unlock()

	now := time.Now().UTC()
	_, err := l.db.Exec(`
		INSERT INTO handled_events (event_key, event_type, handled_at, acknowledged_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_key) DO UPDATE SET acknowledged_at = excluded.acknowledged_at
	`, key, eventType, now, now)
	if err != nil {
		return fmt.Errorf("failed to acknowledge %s: %w", key, err)
	}
	return nil
}

// Acknowledged reports whether key was explicitly acknowledged
func (l *Ledger) Acknowledged(key string) (bool, error) {
	var ackAt sql.NullTime
	err := l.db.QueryRow(`SELECT acknowledged_at FROM handled_events WHERE event_key = ?`, key).Scan(&ackAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return ackAt.Valid, nil
}

// Len returns the number of handled keys
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handled)
}
