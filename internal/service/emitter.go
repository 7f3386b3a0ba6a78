package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/client"
	"Mansoor88-6/escort-alerts/internal/clock"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/queue"
	"Mansoor88-6/escort-alerts/internal/sanitize"

	"go.uber.org/zap"
)

// Outcome of an emission
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeQueued Outcome = "queued"
	OutcomeError  Outcome = "error"
)

const pushTimeout = 15 * time.Second

// Pusher triggers the server-side push fan-out
type Pusher interface {
	TriggerPush(ctx context.Context, broadcast models.BroadcastRequest) (*models.DispatchResult, error)
}

// Emitter is the origin of every alert: sanitize, remote insert, local notify,
// outbox fallback.
type Emitter struct {
	store   queue.Inserter
	pusher  Pusher
	outbox  *queue.Outbox
	hub     *notify.Hub
	session models.Session
	clock   clock.Clock
	logger  *zap.Logger

	flushSignal chan struct{}
	wg          sync.WaitGroup
}

// NewEmitter creates a new emitter. pusher may be nil.
func NewEmitter(
	store queue.Inserter,
	pusher Pusher,
	outbox *queue.Outbox,
	hub *notify.Hub,
	session models.Session,
	clk clock.Clock,
	logger *zap.Logger,
) *Emitter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Emitter{
		store:       store,
		pusher:      pusher,
		outbox:      outbox,
		hub:         hub,
		session:     session,
		clock:       clk,
		logger:      logger,
		flushSignal: make(chan struct{}, 1),
	}
}

// Emit sanitizes and delivers one event. It never returns an error; the outcome
// says where the event ended up.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload map[string]any) (Outcome, models.AlarmEvent) {
	ev := sanitize.Event(eventType, payload)
	if !ev.Type.Valid() {
		e.logger.Warn("Rejected event with unknown type", zap.String("type", string(ev.Type)))
		e.hub.Publish(notify.Notification{
			Kind:    notify.KindNotice,
			Status:  string(OutcomeError),
			Message: "Unknown event type",
		})
		return OutcomeError, ev
	}
	e.applySession(&ev)

	stored, err := e.store.InsertEvent(ctx, ev)
	if err != nil {
		return e.queue(ev, err)
	}

	full := expand(ev, stored)
	e.hub.Publish(notify.Notification{
		Kind:   notify.KindEmitted,
		Status: string(OutcomeSent),
		Event:  &full,
	})

	if full.Type.IsHighPriority() {
		e.wg.Add(1)
		go e.triggerPush(full)
	}

	e.logger.Info("Event emitted",
		zap.String("id", full.ID),
		zap.String("type", string(full.Type)),
		zap.String("service_id", full.ServiceIDValue()),
	)
	return OutcomeSent, full
}

func (e *Emitter) queue(ev models.AlarmEvent, cause error) (Outcome, models.AlarmEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock.Now()
	}

	if errors.Is(cause, client.ErrNotConnected) {
		e.logger.Debug("No backend configured, queuing event", zap.String("type", string(ev.Type)))
	} else {
		e.logger.Warn("Failed to insert event, queuing locally",
			zap.Error(cause),
			zap.String("type", string(ev.Type)),
			zap.String("service_id", ev.ServiceIDValue()),
		)
	}

	if err := e.outbox.Enqueue(ev); err != nil {
		e.logger.Error("Failed to queue event", zap.Error(err), zap.String("type", string(ev.Type)))
		e.hub.Publish(notify.Notification{
			Kind:    notify.KindNotice,
			Status:  string(OutcomeError),
			Message: "Event could not be sent or saved",
			Event:   &ev,
		})
		return OutcomeError, ev
	}

	e.hub.Publish(notify.Notification{
		Kind:   notify.KindEmitted,
		Status: string(OutcomeQueued),
		Event:  &ev,
	})
	e.hub.Publish(notify.Notification{
		Kind:    notify.KindNotice,
		Status:  string(OutcomeQueued),
		Message: "Offline: event saved and will be resent",
	})
	return OutcomeQueued, ev
}

func (e *Emitter) applySession(ev *models.AlarmEvent) {
	if ev.ServiceID == nil && e.session.ServiceID != "" {
		id := e.session.ServiceID
		ev.ServiceID = &id
	}
	if ev.Company == nil && e.session.Company != "" {
		company := e.session.Company
		ev.Company = &company
	}
}

// triggerPush runs detached from the caller; its failure never changes the outcome
func (e *Emitter) triggerPush(ev models.AlarmEvent) {
	defer e.wg.Done()
	if e.pusher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	res, err := e.pusher.TriggerPush(ctx, models.BroadcastRequest{
		Role:    models.RoleAdmin,
		Empresa: ev.CompanyValue(),
		Type:    ev.Type,
		Event:   &ev,
	})
	if err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			return
		}
		e.logger.Warn("Push trigger failed",
			zap.Error(err),
			zap.String("type", string(ev.Type)),
			zap.String("service_id", ev.ServiceIDValue()),
		)
		return
	}

	e.logger.Debug("Push triggered",
		zap.String("type", string(ev.Type)),
		zap.Int("delivered", res.Delivered),
		zap.Int("failures", res.Failures),
		zap.Int("removed", res.Removed),
	)
}

// RequestFlush asks the flush loop to replay the outbox now
func (e *Emitter) RequestFlush() {
	select {
	case e.flushSignal <- struct{}{}:
	default:
	}
}

// RunFlusher replays the outbox at startup, on every interval tick and on every
// RequestFlush, until ctx is done.
func (e *Emitter) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := e.outbox.CleanupOldEvents(7 * 24 * time.Hour); err != nil {
		e.logger.Error("Failed to cleanup old events", zap.Error(err))
	}

	e.Flush(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush(ctx)
		case <-e.flushSignal:
			e.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush replays queued events once and returns how many remain. Replayed events
// do not trigger push.
func (e *Emitter) Flush(ctx context.Context) int {
	result, err := e.outbox.Flush(ctx, e.store)
	if err != nil {
		e.logger.Error("Failed to flush outbox", zap.Error(err))
		return result.Remaining
	}

	if len(result.Delivered) > 0 {
		e.hub.Publish(notify.Notification{
			Kind:   notify.KindFlushed,
			Status: string(OutcomeSent),
			Data: map[string]any{
				"delivered": len(result.Delivered),
				"remaining": result.Remaining,
			},
		})
	}
	return result.Remaining
}

// Pending returns the outbox size
func (e *Emitter) Pending() int {
	n, err := e.outbox.Count()
	if err != nil {
		e.logger.Error("Failed to count outbox", zap.Error(err))
	}
	return n
}

// Wait blocks until in-flight push triggers finish
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// expand merges the stored row with what the caller sent. The caller's timestamp
// wins when present.
func expand(sent models.AlarmEvent, stored *models.AlarmEvent) models.AlarmEvent {
	if stored == nil {
		return sent
	}
	full := *stored
	if full.Type == "" {
		full.Type = sent.Type
	}
	if full.ServiceID == nil {
		full.ServiceID = sent.ServiceID
	}
	if full.Company == nil {
		full.Company = sent.Company
	}
	if full.ClientName == nil {
		full.ClientName = sent.ClientName
	}
	if full.Plate == nil {
		full.Plate = sent.Plate
	}
	if full.ServiceKind == nil {
		full.ServiceKind = sent.ServiceKind
	}
	if full.Lat == nil {
		full.Lat = sent.Lat
	}
	if full.Lng == nil {
		full.Lng = sent.Lng
	}
	if full.Address == nil {
		full.Address = sent.Address
	}
	if !sent.Timestamp.IsZero() {
		full.Timestamp = sent.Timestamp
	}
	full.Metadata = models.MergeMetadata(sent.Metadata, stored.Metadata)
	return full
}
