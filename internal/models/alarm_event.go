package models

import (
	"encoding/json"
	"time"
)

// EventType is the kind of alarm event
type EventType string

const (
	EventStart         EventType = "start"
	EventPanic         EventType = "panic"
	EventCheckin       EventType = "checkin"
	EventCheckinOK     EventType = "checkin_ok"
	EventCheckinMissed EventType = "checkin_missed"
	EventHeartbeat     EventType = "heartbeat"
)

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventPanic, EventCheckin, EventCheckinOK, EventCheckinMissed, EventHeartbeat:
		return true
	}
	return false
}

// IsHighPriority reports whether an emitted event of this type triggers a push fan-out
func (t EventType) IsHighPriority() bool {
	switch t {
	case EventPanic, EventStart, EventCheckin:
		return true
	}
	return false
}

// AlarmEvent is the canonical alert record stored in the alarm_event table
type AlarmEvent struct {
	ID          string         `json:"id,omitempty"`
	Type        EventType      `json:"type"`
	ServiceID   *string        `json:"service_id"`
	Company     *string        `json:"company"`
	ClientName  *string        `json:"client_name"`
	Plate       *string        `json:"plate"`
	ServiceKind *string        `json:"service_kind"`
	Lat         *float64       `json:"lat"`
	Lng         *float64       `json:"lng"`
	Address     *string        `json:"address"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

// DedupKey identifies the semantic event: {type}:{service_id or timestamp}
func (e AlarmEvent) DedupKey() string {
	if e.ServiceID != nil && *e.ServiceID != "" {
		return string(e.Type) + ":" + *e.ServiceID
	}
	return string(e.Type) + ":" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// ServiceIDValue returns the service id or an empty string
func (e AlarmEvent) ServiceIDValue() string {
	return deref(e.ServiceID)
}

// CompanyValue returns the company or an empty string
func (e AlarmEvent) CompanyValue() string {
	return deref(e.Company)
}

// Attempt reads the reminder attempt counter from metadata
func (e AlarmEvent) Attempt() int {
	if e.Metadata == nil {
		return 0
	}
	switch v := e.Metadata["attempt"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Payload renders the event as a generic map, the shape push payloads carry
func (e AlarmEvent) Payload() map[string]any {
	payload := map[string]any{}
	if raw, err := json.Marshal(e); err == nil {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}

// UnmarshalJSON accepts the legacy "meta" and "extra" aliases and folds them into Metadata
func (e *AlarmEvent) UnmarshalJSON(data []byte) error {
	type plain AlarmEvent
	aux := struct {
		*plain
		Meta  map[string]any `json:"meta"`
		Extra map[string]any `json:"extra"`
	}{plain: (*plain)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	merged := MergeMetadata(aux.Extra, aux.Meta, e.Metadata)
	e.Metadata = merged
	return nil
}

// MergeMetadata merges maps left to right; later maps win. Returns nil when empty.
func MergeMetadata(maps ...map[string]any) map[string]any {
	var out map[string]any
	for _, m := range maps {
		for k, v := range m {
			if out == nil {
				out = make(map[string]any)
			}
			out[k] = v
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EventFilter narrows an alarm_event read. Results are ordered newest first; with
// Since set they are ordered by created_at, oldest first, so a cursor pages forward.
type EventFilter struct {
	Type      EventType
	ServiceID string
	Company   string
	Since     time.Time
	Limit     int
}
