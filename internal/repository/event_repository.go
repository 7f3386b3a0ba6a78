package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const eventColumns = `id, type, service_id, company, client_name, plate, service_kind,
	lat, lng, address, timestamp, metadata, created_at`

// EventRepository reads and writes the alarm_event table
type EventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEventRepository(db *sql.DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores ev and returns the stored row. A zero timestamp is assigned by the
// database.
func (r *EventRepository) Insert(ctx context.Context, ev models.AlarmEvent) (*models.AlarmEvent, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("type is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	var metadata []byte
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = raw
	}

	var timestamp any
	if !ev.Timestamp.IsZero() {
		timestamp = ev.Timestamp.UTC()
	}

	query := `
		INSERT INTO alarm_event (id, type, service_id, company, client_name, plate, service_kind,
			lat, lng, address, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), $12)
		RETURNING ` + eventColumns

	row := r.db.QueryRowContext(ctx, query,
		ev.ID,
		string(ev.Type),
		ev.ServiceID,
		ev.Company,
		ev.ClientName,
		ev.Plate,
		ev.ServiceKind,
		ev.Lat,
		ev.Lng,
		ev.Address,
		timestamp,
		metadata,
	)

	stored, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alarm event: %w", err)
	}
	return stored, nil
}

// List returns events matching filter, newest first. With filter.Since set the page
// is the oldest rows created after it, so a poller cursor never skips an insert.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.AlarmEvent, error) {
	var where []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.ServiceID != "" {
		add("service_id = $%d", filter.ServiceID)
	}
	if filter.Company != "" {
		add("company = $%d", filter.Company)
	}
	if !filter.Since.IsZero() {
		add("created_at > $%d", filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM alarm_event`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	order := "timestamp DESC"
	if !filter.Since.IsZero() {
		order = "created_at ASC"
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY %s LIMIT $%d`, order, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarm events: %w", err)
	}
	defer rows.Close()

	var events []models.AlarmEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarm events: %w", err)
	}
	return events, nil
}

// LatestByType returns the most recent event of eventType for a service, or nil
func (r *EventRepository) LatestByType(ctx context.Context, serviceID string, eventType models.EventType) (*models.AlarmEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM alarm_event
		WHERE service_id = $1 AND type = $2
		ORDER BY timestamp DESC
		LIMIT 1`

	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, serviceID, string(eventType)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s event: %w", eventType, err)
	}
	return ev, nil
}

// ExistsSince reports whether an event of eventType was recorded for the service at
// or after since
func (r *EventRepository) ExistsSince(ctx context.Context, serviceID string, eventType models.EventType, since time.Time) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM alarm_event
		WHERE service_id = $1 AND type = $2 AND timestamp >= $3
	)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, serviceID, string(eventType), since.UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s events: %w", eventType, err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*models.AlarmEvent, error) {
	var ev models.AlarmEvent
	var eventType string
	var serviceID, company, clientName, plate, serviceKind, address sql.NullString
	var lat, lng sql.NullFloat64
	var metadata []byte
	var createdAt time.Time

	err := s.Scan(
		&ev.ID,
		&eventType,
		&serviceID,
		&company,
		&clientName,
		&plate,
		&serviceKind,
		&lat,
		&lng,
		&address,
		&ev.Timestamp,
		&metadata,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Type = models.EventType(eventType)
	ev.ServiceID = nullString(serviceID)
	ev.Company = nullString(company)
	ev.ClientName = nullString(clientName)
	ev.Plate = nullString(plate)
	ev.ServiceKind = nullString(serviceKind)
	ev.Address = nullString(address)
	ev.Lat = nullFloat(lat)
	ev.Lng = nullFloat(lng)
	ev.Timestamp = ev.Timestamp.UTC()
	created := createdAt.UTC()
	ev.CreatedAt = &created

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
		if len(ev.Metadata) == 0 {
			ev.Metadata = nil
		}
	}
	return &ev, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
