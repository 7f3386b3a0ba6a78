package service

import (
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/sanitize"

	"go.uber.org/zap"
)

// Deduper is the handled-key gate
type Deduper interface {
	TryAcquire(key, eventType string) bool
}

// AlarmArmer is the panic side of the alarm state machine
type AlarmArmer interface {
	Arm(ev models.AlarmEvent) bool
}

// CheckinOpener opens the check-in reminder panel
type CheckinOpener interface {
	Open(reminder models.AlarmEvent)
}

// Bridge is the single intake for received events. Realtime, relay and polling
// producers all feed Intake; dedup happens here and nowhere else.
type Bridge struct {
	ledger  Deduper
	alarm   AlarmArmer
	checkin CheckinOpener
	hub     *notify.Hub
	session models.Session
	logger  *zap.Logger
}

// NewBridge creates a new bridge. alarm and checkin may be nil for sessions that do
// not use them.
func NewBridge(
	ledger Deduper,
	alarm AlarmArmer,
	checkin CheckinOpener,
	hub *notify.Hub,
	session models.Session,
	logger *zap.Logger,
) *Bridge {
	return &Bridge{
		ledger:  ledger,
		alarm:   alarm,
		checkin: checkin,
		hub:     hub,
		session: session,
		logger:  logger,
	}
}

// Intake handles one received event
func (b *Bridge) Intake(ev models.AlarmEvent, source string) {
	ev = sanitize.Bound(ev)
	if !ev.Type.Valid() {
		b.logger.Debug("Ignoring event with unknown type",
			zap.String("type", string(ev.Type)),
			zap.String("source", source),
		)
		return
	}
	if !b.session.InScope(ev) {
		return
	}

	b.hub.Publish(notify.Notification{
		Kind:   notify.KindReceived,
		Status: source,
		Event:  &ev,
	})

	key := ev.DedupKey()

	switch ev.Type {
	case models.EventStart:
		if !b.ledger.TryAcquire(key, string(ev.Type)) {
			return
		}
		b.hub.Publish(notify.Notification{
			Kind:  notify.KindHighlight,
			Event: &ev,
		})
		b.logger.Info("Service start highlighted",
			zap.String("service_id", ev.ServiceIDValue()),
			zap.String("source", source),
		)

	case models.EventPanic:
		if b.alarm == nil || !b.session.ReceivesPanics() {
			return
		}
		if !b.ledger.TryAcquire(key, string(ev.Type)) {
			b.logger.Debug("Duplicate panic absorbed", zap.String("key", key), zap.String("source", source))
			return
		}
		b.logger.Warn("Panic received",
			zap.String("key", key),
			zap.String("company", ev.CompanyValue()),
			zap.String("source", source),
		)
		b.alarm.Arm(ev)

	case models.EventCheckin:
		if b.checkin == nil || !b.session.AddressedCheckin(ev) {
			return
		}
		b.checkin.Open(ev)
	}
}
