// Package checkin is the custodian side of the check-in flow: a reminder opens the
// panel, the custodian types or dictates a status, and Confirm emits checkin_ok.
package checkin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/clock"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/sanitize"
	"Mansoor88-6/escort-alerts/internal/service"
	"Mansoor88-6/escort-alerts/internal/tracker"

	"go.uber.org/zap"
)

var (
	ErrPanelClosed      = errors.New("check-in panel is not open")
	ErrConfirmInFlight  = errors.New("check-in confirmation already in flight")
	ErrConfirmFailed    = errors.New("check-in could not be sent or saved")
	ErrDictationRunning = errors.New("dictation already running")
)

// Emitter sends the custodian response
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any) (service.Outcome, models.AlarmEvent)
}

// Locator supplies the last known location
type Locator interface {
	Last() (tracker.Location, bool)
}

// State is a snapshot for presentation adapters
type State struct {
	Open        bool               `json:"open"`
	Reminder    *models.AlarmEvent `json:"reminder,omitempty"`
	Text        string             `json:"text"`
	LastCheckin *time.Time         `json:"last_checkin,omitempty"`
	Elapsed     *time.Duration     `json:"elapsed,omitempty"`
	Confirming  bool               `json:"confirming"`
}

// Panel is the check-in reminder prompt. One per custodian session.
type Panel struct {
	emitter    Emitter
	locator    Locator
	recognizer alarm.Recognizer
	hub        *notify.Hub
	clock      clock.Clock
	logger     *zap.Logger

	confirming atomic.Bool
	dictating  atomic.Bool

	mu          sync.Mutex
	open        bool
	reminder    *models.AlarmEvent
	text        string
	lastCheckin time.Time
}

// NewPanel creates a panel. recognizer may be nil.
func NewPanel(emitter Emitter, locator Locator, recognizer alarm.Recognizer, hub *notify.Hub, clk clock.Clock, logger *zap.Logger) *Panel {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Panel{
		emitter:    emitter,
		locator:    locator,
		recognizer: recognizer,
		hub:        hub,
		clock:      clk,
		logger:     logger,
	}
}

// Open shows the prompt for reminder. Reopening keeps the text typed so far.
func (p *Panel) Open(reminder models.AlarmEvent) {
	p.mu.Lock()
	p.open = true
	p.reminder = &reminder
	elapsed := p.elapsedLocked()
	p.mu.Unlock()

	data := map[string]any{"attempt": reminder.Attempt()}
	if elapsed != nil {
		data["elapsed_seconds"] = int(elapsed.Seconds())
	}

	p.logger.Info("Check-in requested",
		zap.String("service_id", reminder.ServiceIDValue()),
		zap.Int("attempt", reminder.Attempt()),
	)
	p.hub.Publish(notify.Notification{
		Kind:  notify.KindCheckinOpen,
		Event: &reminder,
		Data:  data,
	})
}

// SetText replaces the response text
func (p *Panel) SetText(text string) {
	text = sanitize.Truncate(text, sanitize.MaxTextLen)

	p.mu.Lock()
	p.text = text
	p.mu.Unlock()

	p.hub.Publish(notify.Notification{
		Kind:    notify.KindCheckinText,
		Message: text,
	})
}

// Dictate captures one utterance into the text field. It never submits.
func (p *Panel) Dictate(ctx context.Context) (string, error) {
	if p.recognizer == nil {
		return "", alarm.ErrRecognizerUnavailable
	}
	if !p.dictating.CompareAndSwap(false, true) {
		return "", ErrDictationRunning
	}
	defer p.dictating.Store(false)

	text, err := p.recognizer.Listen(ctx)
	if err != nil {
		p.logger.Debug("Dictation failed", zap.Error(err))
		return "", err
	}

	p.SetText(text)
	return p.Text(), nil
}

// Text returns the current response text
func (p *Panel) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Confirm emits checkin_ok with the last location and the response text, then
// closes the panel. A second call while one is in flight returns ErrConfirmInFlight
// and does nothing.
func (p *Panel) Confirm(ctx context.Context) (service.Outcome, error) {
	if !p.confirming.CompareAndSwap(false, true) {
		return "", ErrConfirmInFlight
	}
	defer p.confirming.Store(false)

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return "", ErrPanelClosed
	}
	reminder := *p.reminder
	text := p.text
	p.mu.Unlock()

	payload := map[string]any{}
	if p.locator != nil {
		if loc, ok := p.locator.Last(); ok {
			payload = loc.Payload()
		}
	}
	if id := reminder.ServiceIDValue(); id != "" {
		payload["service_id"] = id
	}
	if company := reminder.CompanyValue(); company != "" {
		payload["company"] = company
	}
	metadata := map[string]any{
		"response":         text,
		"reminder_attempt": reminder.Attempt(),
	}
	if reminder.ID != "" {
		metadata["reminder_id"] = reminder.ID
	}
	payload["metadata"] = metadata

	outcome, ev := p.emitter.Emit(ctx, string(models.EventCheckinOK), payload)
	if outcome == service.OutcomeError {
		return outcome, ErrConfirmFailed
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = p.clock.Now()
	}

	p.mu.Lock()
	p.open = false
	p.reminder = nil
	p.text = ""
	p.lastCheckin = at
	p.mu.Unlock()

	p.logger.Info("Check-in confirmed",
		zap.String("service_id", reminder.ServiceIDValue()),
		zap.String("outcome", string(outcome)),
	)
	p.hub.Publish(notify.Notification{
		Kind:   notify.KindCheckinClosed,
		Status: string(outcome),
		Event:  &ev,
	})
	return outcome, nil
}

// State returns a snapshot
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := State{
		Open:       p.open,
		Text:       p.text,
		Elapsed:    p.elapsedLocked(),
		Confirming: p.confirming.Load(),
	}
	if p.reminder != nil {
		r := *p.reminder
		st.Reminder = &r
	}
	if !p.lastCheckin.IsZero() {
		at := p.lastCheckin
		st.LastCheckin = &at
	}
	return st
}

// elapsedLocked is the time since the most recent check-in known either locally or
// from the reminder's last_checkin_at. nil when no check-in is known.
func (p *Panel) elapsedLocked() *time.Duration {
	last := p.lastCheckin
	if p.reminder != nil && p.reminder.Metadata != nil {
		if s, ok := p.reminder.Metadata["last_checkin_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil && t.After(last) {
				last = t
			}
		}
	}
	if last.IsZero() {
		return nil
	}
	d := p.clock.Now().Sub(last)
	return &d
}
