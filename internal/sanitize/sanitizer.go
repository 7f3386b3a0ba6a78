// Package sanitize turns arbitrary caller-supplied alert payloads into bounded
// canonical AlarmEvent records. Nothing in here returns an error: unparseable or
// missing fields degrade to nil.
package sanitize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"Mansoor88-6/escort-alerts/internal/models"
)

const (
	MaxTextLen  = 180
	MaxTagLen   = 32
	MaxPlateLen = 16
	MaxIDLen    = 64

	maxMetadataDepth = 4
	coordScale       = 1e6
)

// field aliases accepted from legacy clients, first match wins
var (
	serviceIDKeys   = []string{"service_id", "serviceId", "servico_id"}
	companyKeys     = []string{"company", "empresa"}
	clientNameKeys  = []string{"client_name", "clientName", "cliente"}
	plateKeys       = []string{"plate", "placa"}
	serviceKindKeys = []string{"service_kind", "serviceKind", "tipo_servico"}
	latKeys         = []string{"lat", "latitude"}
	lngKeys         = []string{"lng", "lon", "longitude"}
	addressKeys     = []string{"address", "endereco"}
	timestampKeys   = []string{"timestamp", "ts", "created_at"}
)

// Event builds a canonical AlarmEvent from a type tag and a free-form payload.
func Event(eventType string, payload map[string]any) models.AlarmEvent {
	ev := models.AlarmEvent{
		Type:        models.EventType(strings.ToLower(Truncate(strings.TrimSpace(eventType), MaxTagLen))),
		ServiceID:   boundedString(pick(payload, serviceIDKeys), MaxIDLen),
		Company:     boundedString(pick(payload, companyKeys), MaxTagLen),
		ClientName:  boundedString(pick(payload, clientNameKeys), MaxTextLen),
		Plate:       plate(pick(payload, plateKeys)),
		ServiceKind: boundedString(pick(payload, serviceKindKeys), MaxTagLen),
		Lat:         Coordinate(pick(payload, latKeys)),
		Lng:         Coordinate(pick(payload, lngKeys)),
		Address:     boundedString(pick(payload, addressKeys), MaxTextLen),
		Timestamp:   Timestamp(pick(payload, timestampKeys)),
	}

	var extra, meta, metadata map[string]any
	if payload != nil {
		extra, _ = payload["extra"].(map[string]any)
		meta, _ = payload["meta"].(map[string]any)
		metadata, _ = payload["metadata"].(map[string]any)
	}
	ev.Metadata = Metadata(models.MergeMetadata(extra, meta, metadata))
	return ev
}

// Bound re-applies every limit to an already typed event. Used on the receiving side
// before anything is persisted.
func Bound(ev models.AlarmEvent) models.AlarmEvent {
	ev.Type = models.EventType(strings.ToLower(Truncate(strings.TrimSpace(string(ev.Type)), MaxTagLen)))
	ev.ServiceID = boundedPtr(ev.ServiceID, MaxIDLen)
	ev.Company = boundedPtr(ev.Company, MaxTagLen)
	ev.ClientName = boundedPtr(ev.ClientName, MaxTextLen)
	if ev.Plate != nil {
		ev.Plate = plate(*ev.Plate)
	}
	ev.ServiceKind = boundedPtr(ev.ServiceKind, MaxTagLen)
	ev.Address = boundedPtr(ev.Address, MaxTextLen)
	if ev.Lat != nil {
		ev.Lat = Coordinate(*ev.Lat)
	}
	if ev.Lng != nil {
		ev.Lng = Coordinate(*ev.Lng)
	}
	ev.Metadata = Metadata(ev.Metadata)
	return ev
}

// Truncate cuts s to at most max characters.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// Coordinate rounds a numeric value to 6 decimals, or returns nil when it is not a
// finite number.
func Coordinate(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	rounded := math.Round(f*coordScale) / coordScale
	return &rounded
}

// Timestamp accepts RFC3339 strings, unix milliseconds or a time.Time. Zero means
// "let the server assign it".
func Timestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t != nil {
			return t.UTC()
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t)); err == nil {
			return parsed.UTC()
		}
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) && t > 0 {
			return time.UnixMilli(int64(t)).UTC()
		}
	case int64:
		if t > 0 {
			return time.UnixMilli(t).UTC()
		}
	case json.Number:
		if ms, err := t.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

// Metadata deep-copies m, bounding keys and string values. Empty maps become nil.
func Metadata(m map[string]any) map[string]any {
	out, _ := copyValue(m, 0).(map[string]any)
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyValue(v any, depth int) any {
	if depth > maxMetadataDepth {
		return nil
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return Truncate(val, MaxTextLen)
	case bool, int, int32, int64:
		return val
	case float32:
		return copyValue(float64(val), depth)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case json.Number:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			copied := copyValue(item, depth+1)
			if copied == nil {
				continue
			}
			out[Truncate(k, MaxTagLen)] = copied
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if copied := copyValue(item, depth+1); copied != nil {
				out = append(out, copied)
			}
		}
		return out
	case []string:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, Truncate(item, MaxTextLen))
		}
		return out
	default:
		return nil
	}
}

func pick(payload map[string]any, keys []string) any {
	if payload == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringOf(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case *string:
		if s == nil {
			return "", false
		}
		return *s, true
	case json.Number:
		return s.String(), true
	case int, int64, float64:
		return fmt.Sprint(s), true
	}
	return "", false
}

func boundedString(v any, max int) *string {
	s, ok := stringOf(v)
	if !ok {
		return nil
	}
	s = Truncate(strings.TrimSpace(s), max)
	if s == "" {
		return nil
	}
	return &s
}

func boundedPtr(s *string, max int) *string {
	if s == nil {
		return nil
	}
	return boundedString(*s, max)
}

func plate(v any) *string {
	s, ok := stringOf(v)
	if !ok {
		return nil
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
	s = Truncate(s, MaxPlateLen)
	if s == "" {
		return nil
	}
	return &s
}
