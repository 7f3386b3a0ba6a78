package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"go.uber.org/zap"
)

// Inserter persists an event remotely and returns the stored row
type Inserter interface {
	InsertEvent(ctx context.Context, event models.AlarmEvent) (*models.AlarmEvent, error)
}

// Entry is an outbox row
type Entry struct {
	ID         int64
	Event      models.AlarmEvent
	RetryCount int
	CreatedAt  time.Time
}

// FlushResult summarizes one replay pass
type FlushResult struct {
	Delivered []models.AlarmEvent
	Remaining int
}

// Outbox is the durable local queue of alarm events pending remote delivery.
// Delivery is at-least-once: a crash between a successful insert and Remove
// replays the event again.
type Outbox struct {
	db      *sql.DB
	logger  *zap.Logger
	flushMu sync.Mutex
}

// NewOutbox creates a new outbox over the agent database
func NewOutbox(db *sql.DB, logger *zap.Logger) *Outbox {
	return &Outbox{
		db:     db,
		logger: logger,
	}
}

// Enqueue persists an event for later replay
func (o *Outbox) Enqueue(event models.AlarmEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = o.db.Exec(`
		INSERT INTO outbox_events (event_data, event_type, dedup_key, created_at, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`, string(eventData), string(event.Type), event.DedupKey(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}

	o.logger.Debug("Event enqueued",
		zap.String("type", string(event.Type)),
		zap.String("dedup_key", event.DedupKey()),
	)
	return nil
}

// Pending returns up to limit queued entries in enumeration order
func (o *Outbox) Pending(limit int) ([]Entry, error) {
	rows, err := o.db.Query(`
		SELECT id, event_data, retry_count, created_at
		FROM outbox_events
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var corrupted []int64
	for rows.Next() {
		var entry Entry
		var eventData string
		if err := rows.Scan(&entry.ID, &eventData, &entry.RetryCount, &entry.CreatedAt); err != nil {
			o.logger.Error("Failed to scan outbox row", zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(eventData), &entry.Event); err != nil {
			o.logger.Error("Dropping corrupted outbox entry",
				zap.Error(err),
				zap.Int64("id", entry.ID),
				zap.String("event_data", eventData),
			)
			corrupted = append(corrupted, entry.ID)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}

	for _, id := range corrupted {
		if err := o.Remove(id); err != nil {
			o.logger.Error("Failed to remove corrupted entry", zap.Error(err), zap.Int64("id", id))
		}
	}

	return entries, nil
}

// Remove deletes a delivered entry
func (o *Outbox) Remove(id int64) error {
	if _, err := o.db.Exec("DELETE FROM outbox_events WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	return nil
}

// MarkFailed keeps the entry queued and records the failed attempt
func (o *Outbox) MarkFailed(id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := o.db.Exec(`
		UPDATE outbox_events
		SET retry_count = retry_count + 1, last_attempt = ?, last_error = ?
		WHERE id = ?
	`, time.Now().UTC(), msg, id)
	if err != nil {
		return fmt.Errorf("failed to record retry: %w", err)
	}
	return nil
}

// Count returns the number of queued entries
func (o *Outbox) Count() (int, error) {
	var count int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM outbox_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return count, nil
}

// Flush replays every queued entry through store. Entries that fail stay queued.
func (o *Outbox) Flush(ctx context.Context, store Inserter) (FlushResult, error) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	var result FlushResult

	total, err := o.Count()
	if err != nil {
		return result, err
	}
	if total == 0 {
		return result, nil
	}

	entries, err := o.Pending(total)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		stored, err := store.InsertEvent(ctx, entry.Event)
		if err != nil {
			o.logger.Warn("Replay failed, keeping entry queued",
				zap.Error(err),
				zap.Int64("id", entry.ID),
				zap.Int("retry_count", entry.RetryCount+1),
			)
			if markErr := o.MarkFailed(entry.ID, err); markErr != nil {
				o.logger.Error("Failed to record replay failure", zap.Error(markErr))
			}
			continue
		}

		if err := o.Remove(entry.ID); err != nil {
			// the row stays and will be inserted again on the next flush
			o.logger.Error("Failed to remove replayed entry", zap.Error(err), zap.Int64("id", entry.ID))
			continue
		}

		delivered := entry.Event
		if stored != nil {
			delivered = *stored
		}
		result.Delivered = append(result.Delivered, delivered)
	}

	result.Remaining, err = o.Count()
	if err != nil {
		return result, err
	}

	if len(result.Delivered) > 0 {
		o.logger.Info("Outbox flushed",
			zap.Int("delivered", len(result.Delivered)),
			zap.Int("remaining", result.Remaining),
		)
	}
	return result, nil
}

// CleanupOldEvents drops entries older than olderThan that failed more than 10 times.
// This is the only path that discards an undelivered event.
func (o *Outbox) CleanupOldEvents(olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := o.db.Exec(`
		DELETE FROM outbox_events
		WHERE created_at < ? AND retry_count > 10
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old events: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		o.logger.Warn("Discarded undeliverable outbox events",
			zap.Int64("count", rowsAffected),
		)
	}

	return nil
}
