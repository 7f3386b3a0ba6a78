// Package alarm drives the panic siren and its acknowledgement flow.
//
// States are idle and armed. Entering armed starts the tone and voice listening;
// leaving it requires an acknowledgement (manual control, typed unlock phrase or a
// recognized spoken phrase) or an explicit modal close. Silence only stops the
// tone. Nothing times an unacknowledged panic out.
package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"

	"go.uber.org/zap"
)

// ErrNotArmed is returned by acknowledgement paths when no panic is current
var ErrNotArmed = errors.New("alarm is not armed")

type State string

const (
	StateIdle  State = "idle"
	StateArmed State = "armed"
)

// AckMethod records which path acknowledged a panic
type AckMethod string

const (
	AckManual AckMethod = "manual"
	AckPhrase AckMethod = "phrase"
	AckVoice  AckMethod = "voice"
)

// Acker persists an acknowledgement
type Acker interface {
	Acknowledge(key, eventType string) error
}

// Status is a snapshot for presentation adapters
type Status struct {
	State       State              `json:"state"`
	Silenced    bool               `json:"silenced"`
	ModalOpen   bool               `json:"modal_open"`
	Listening   bool               `json:"listening"`
	Current     *models.AlarmEvent `json:"current,omitempty"`
	Pending     int                `json:"pending"`
	ManualInput bool               `json:"manual_input"`
}

// Machine is the panic state machine. One per agent session. Tone start/stop
// happen under mu so a concurrent Arm cannot be silenced by a late Stop.
type Machine struct {
	tone         Tone
	recognizer   Recognizer
	acker        Acker
	hub          *notify.Hub
	phrase       string
	restartDelay time.Duration
	logger       *zap.Logger

	mu           sync.Mutex
	state        State
	current      *models.AlarmEvent
	pending      []models.AlarmEvent
	silenced     bool
	modalOpen    bool
	voiceFailed  bool
	stopped      bool
	listenCancel context.CancelFunc
	listenGen    int
	wg           sync.WaitGroup
}

// NewMachine creates a machine. recognizer may be nil, which leaves only the
// manual and typed paths.
func NewMachine(tone Tone, recognizer Recognizer, acker Acker, hub *notify.Hub, phrase string, logger *zap.Logger) *Machine {
	return &Machine{
		tone:         tone,
		recognizer:   recognizer,
		acker:        acker,
		hub:          hub,
		phrase:       phrase,
		restartDelay: 250 * time.Millisecond,
		logger:       logger,
		state:        StateIdle,
	}
}

// Arm enters armed for ev. Re-arming with the current key is a no-op; another key
// while armed is queued behind the current panic and restarts a silenced tone.
func (m *Machine) Arm(ev models.AlarmEvent) bool {
	key := ev.DedupKey()

	m.mu.Lock()
	if m.state == StateArmed {
		if m.current.DedupKey() == key {
			m.mu.Unlock()
			return false
		}
		for _, p := range m.pending {
			if p.DedupKey() == key {
				m.mu.Unlock()
				return false
			}
		}
		m.pending = append(m.pending, ev)
		if m.silenced {
			m.silenced = false
			m.soundLocked()
		}
		pending := len(m.pending)
		m.mu.Unlock()

		m.hub.Publish(notify.Notification{
			Kind:  notify.KindAlarmArmed,
			Event: &ev,
			Data:  map[string]any{"queued": true, "pending": pending},
		})
		return true
	}

	m.state = StateArmed
	m.current = &ev
	m.silenced = false
	m.modalOpen = true
	m.startListeningLocked(key)
	m.soundLocked()
	m.mu.Unlock()

	m.logger.Warn("Alarm armed",
		zap.String("key", key),
		zap.String("service_id", ev.ServiceIDValue()),
		zap.String("plate", derefString(ev.Plate)),
	)
	m.hub.Publish(notify.Notification{
		Kind:  notify.KindAlarmArmed,
		Event: &ev,
	})
	return true
}

// Acknowledge is the manual control
func (m *Machine) Acknowledge() error {
	return m.advance(AckManual, "", true)
}

// SubmitPhrase acknowledges when text is the unlock phrase
func (m *Machine) SubmitPhrase(text string) (bool, error) {
	if !typedMatches(text, m.phrase) {
		return false, nil
	}
	if err := m.advance(AckPhrase, "", true); err != nil {
		return false, err
	}
	return true, nil
}

// Silence stops the tone without acknowledging
func (m *Machine) Silence() {
	m.mu.Lock()
	if m.state != StateArmed || m.silenced {
		m.mu.Unlock()
		return
	}
	m.silenced = true
	m.tone.Stop()
	current := m.current
	m.mu.Unlock()

	m.hub.Publish(notify.Notification{
		Kind:  notify.KindAlarmSilenced,
		Event: current,
	})
}

// CloseModal dismisses the current panic without recording an acknowledgement.
// Its key stays in the ledger so a replay does not re-arm it.
func (m *Machine) CloseModal() error {
	return m.advance("", "", false)
}

// Status returns a snapshot
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:       m.state,
		Silenced:    m.silenced,
		ModalOpen:   m.modalOpen,
		Listening:   m.listenCancel != nil,
		Pending:     len(m.pending),
		ManualInput: m.voiceFailed || m.recognizer == nil,
	}
	if m.current != nil {
		cur := *m.current
		st.Current = &cur
	}
	return st
}

// Stop silences everything for shutdown. Later acknowledgements still advance the
// queue but start neither the siren nor a listener.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.listenCancel != nil {
		m.listenCancel()
		m.listenCancel = nil
	}
	m.tone.Stop()
	m.mu.Unlock()

	m.wg.Wait()
}

// advance leaves the current panic. key, when set, must match the current panic.
func (m *Machine) advance(method AckMethod, key string, persist bool) error {
	m.mu.Lock()
	if m.state != StateArmed {
		m.mu.Unlock()
		return ErrNotArmed
	}
	done := *m.current
	if key != "" && done.DedupKey() != key {
		m.mu.Unlock()
		return ErrNotArmed
	}

	if m.listenCancel != nil {
		m.listenCancel()
		m.listenCancel = nil
	}

	var next *models.AlarmEvent
	if len(m.pending) > 0 {
		ev := m.pending[0]
		m.pending = m.pending[1:]
		m.current = &ev
		m.silenced = false
		next = &ev
		m.startListeningLocked(ev.DedupKey())
		m.soundLocked()
	} else {
		m.state = StateIdle
		m.current = nil
		m.silenced = false
		m.modalOpen = false
		m.tone.Stop()
	}
	m.mu.Unlock()

	doneKey := done.DedupKey()
	if persist {
		if err := m.acker.Acknowledge(doneKey, string(done.Type)); err != nil {
			m.logger.Error("Failed to persist acknowledgement", zap.Error(err), zap.String("key", doneKey))
		}
		m.logger.Info("Panic acknowledged",
			zap.String("key", doneKey),
			zap.String("method", string(method)),
		)
		m.hub.Publish(notify.Notification{
			Kind:  notify.KindAlarmAcknowledged,
			Event: &done,
			Data:  map[string]any{"method": string(method)},
		})
	} else {
		m.logger.Info("Panic dismissed without acknowledgement", zap.String("key", doneKey))
		m.hub.Publish(notify.Notification{
			Kind:  notify.KindAlarmSilenced,
			Event: &done,
			Data:  map[string]any{"closed": true},
		})
	}

	if next != nil {
		m.hub.Publish(notify.Notification{
			Kind:  notify.KindAlarmArmed,
			Event: next,
		})
	}
	return nil
}

func (m *Machine) startListeningLocked(key string) {
	if m.recognizer == nil || m.voiceFailed || m.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.listenCancel = cancel
	m.listenGen++
	m.wg.Add(1)
	go m.listen(ctx, key, m.listenGen)
}

// listen restarts on every non-matching utterance or engine timeout until the
// phrase is heard, the engine fails, or ctx is cancelled.
// soundLocked starts the siren unless the machine is shutting down
func (m *Machine) soundLocked() {
	if !m.stopped {
		m.tone.Start()
	}
}

func (m *Machine) listen(ctx context.Context, key string, gen int) {
	defer m.wg.Done()

	for {
		text, err := m.recognizer.Listen(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			if spokenMatches(text, m.phrase) {
				if ackErr := m.advance(AckVoice, key, true); ackErr != nil {
					m.logger.Debug("Voice acknowledgement ignored", zap.Error(ackErr))
				}
				return
			}
			m.logger.Debug("Utterance did not match unlock phrase")
		case errors.Is(err, ErrNoSpeech):
		default:
			m.voiceUnavailable(gen, err)
			return
		}

		select {
		case <-time.After(m.restartDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Machine) voiceUnavailable(gen int, err error) {
	m.mu.Lock()
	m.voiceFailed = true
	if m.listenGen == gen && m.listenCancel != nil {
		m.listenCancel()
		m.listenCancel = nil
	}
	m.mu.Unlock()

	m.logger.Warn("Speech recognition unavailable, manual input only", zap.Error(err))
	m.hub.Publish(notify.Notification{
		Kind:    notify.KindVoiceUnavailable,
		Message: "Voice unavailable: type the unlock phrase",
	})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
