package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/database"
	"Mansoor88-6/escort-alerts/internal/ledger"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
)

type fakeTone struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (f *fakeTone) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		f.starts++
	}
	f.running = true
}

func (f *fakeTone) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeTone) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTone) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// scriptedRecognizer returns the queued results in order, then blocks until ctx ends
type scriptedRecognizer struct {
	results chan result
}

type result struct {
	text string
	err  error
}

func newScripted() *scriptedRecognizer {
	return &scriptedRecognizer{results: make(chan result, 8)}
}

func (r *scriptedRecognizer) say(text string)   { r.results <- result{text: text} }
func (r *scriptedRecognizer) fail(err error)    { r.results <- result{err: err} }
func (r *scriptedRecognizer) Listen(ctx context.Context) (string, error) {
	select {
	case res := <-r.results:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fixture struct {
	machine *Machine
	tone    *fakeTone
	voice   *scriptedRecognizer
	ledger  *ledger.Ledger
	notes   <-chan notify.Notification
}

func newFixture(t *testing.T, withVoice bool) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := ledger.New(db.DB, zap.NewNop())
	require.NoError(t, err)

	hub := notify.NewHub(zap.NewNop())
	notes, unsub := hub.Subscribe(64)
	t.Cleanup(unsub)

	f := &fixture{tone: &fakeTone{}, ledger: l, notes: notes}
	var rec Recognizer
	if withVoice {
		f.voice = newScripted()
		rec = f.voice
	}
	f.machine = NewMachine(f.tone, rec, l, hub, "Confirmo segurança", zap.NewNop())
	f.machine.restartDelay = time.Millisecond
	t.Cleanup(f.machine.Stop)
	return f
}

func (f *fixture) drain() []notify.Notification {
	var out []notify.Notification
	for len(f.notes) > 0 {
		out = append(out, <-f.notes)
	}
	return out
}

func panicEvent(serviceID string) models.AlarmEvent {
	return models.AlarmEvent{Type: models.EventPanic, ServiceID: &serviceID}
}

func TestMachine_ArmTwiceIsNoop(t *testing.T) {
	f := newFixture(t, false)

	assert.True(t, f.machine.Arm(panicEvent("svc-1")))
	assert.False(t, f.machine.Arm(panicEvent("svc-1")))

	assert.Equal(t, 1, f.tone.Starts())
	st := f.machine.Status()
	assert.Equal(t, StateArmed, st.State)
	assert.True(t, st.ModalOpen)
	assert.True(t, st.ManualInput)
}

func TestMachine_ManualAcknowledge(t *testing.T) {
	f := newFixture(t, false)
	f.machine.Arm(panicEvent("svc-1"))

	require.NoError(t, f.machine.Acknowledge())

	assert.False(t, f.tone.Running())
	assert.Equal(t, StateIdle, f.machine.Status().State)
	assert.False(t, f.machine.Status().ModalOpen)

	acked, err := f.ledger.Acknowledged("panic:svc-1")
	require.NoError(t, err)
	assert.True(t, acked)

	var kinds []notify.Kind
	for _, n := range f.drain() {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []notify.Kind{notify.KindAlarmArmed, notify.KindAlarmAcknowledged}, kinds)

	assert.ErrorIs(t, f.machine.Acknowledge(), ErrNotArmed)
}

func TestMachine_TypedPhrase(t *testing.T) {
	f := newFixture(t, false)
	f.machine.Arm(panicEvent("svc-1"))

	ok, err := f.machine.SubmitPhrase("confirmo")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.tone.Running())

	ok, err = f.machine.SubmitPhrase("  CONFIRMO   seguranca! ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.tone.Running())
	assert.Equal(t, StateIdle, f.machine.Status().State)
}

func TestMachine_VoiceRestartsUntilPhraseHeard(t *testing.T) {
	f := newFixture(t, true)
	f.machine.Arm(panicEvent("svc-1"))

	f.voice.fail(ErrNoSpeech)
	f.voice.say("socorro")
	f.voice.say("ok, confirmo segurança, tudo certo")

	require.Eventually(t, func() bool {
		return f.machine.Status().State == StateIdle
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, f.tone.Running())
	acked, err := f.ledger.Acknowledged("panic:svc-1")
	require.NoError(t, err)
	assert.True(t, acked)
}

func TestMachine_VoiceFailureFallsBackToManual(t *testing.T) {
	f := newFixture(t, true)
	f.machine.Arm(panicEvent("svc-1"))

	f.voice.fail(errors.New("microphone busy"))

	require.Eventually(t, func() bool {
		return f.machine.Status().ManualInput
	}, 2*time.Second, 5*time.Millisecond)

	st := f.machine.Status()
	assert.Equal(t, StateArmed, st.State)
	assert.False(t, st.Listening)
	assert.True(t, f.tone.Running(), "voice failure never silences a panic")

	ok, err := f.machine.SubmitPhrase("confirmo segurança")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMachine_SilenceKeepsArmedAndNewPanicRestartsTone(t *testing.T) {
	f := newFixture(t, false)
	f.machine.Arm(panicEvent("svc-1"))

	f.machine.Silence()
	assert.False(t, f.tone.Running())
	assert.Equal(t, StateArmed, f.machine.Status().State)

	assert.False(t, f.machine.Arm(panicEvent("svc-1")))
	assert.False(t, f.tone.Running())

	assert.True(t, f.machine.Arm(panicEvent("svc-2")))
	assert.True(t, f.tone.Running())
	assert.Equal(t, 1, f.machine.Status().Pending)

	require.NoError(t, f.machine.Acknowledge())
	st := f.machine.Status()
	assert.Equal(t, StateArmed, st.State)
	require.NotNil(t, st.Current)
	assert.Equal(t, "svc-2", st.Current.ServiceIDValue())
	assert.True(t, f.tone.Running())

	require.NoError(t, f.machine.Acknowledge())
	assert.Equal(t, StateIdle, f.machine.Status().State)
	assert.False(t, f.tone.Running())
}

func TestMachine_CloseModalDoesNotAcknowledge(t *testing.T) {
	f := newFixture(t, false)
	require.True(t, f.ledger.TryAcquire("panic:svc-1", "panic"))
	f.machine.Arm(panicEvent("svc-1"))

	require.NoError(t, f.machine.CloseModal())
	assert.Equal(t, StateIdle, f.machine.Status().State)
	assert.False(t, f.tone.Running())

	acked, err := f.ledger.Acknowledged("panic:svc-1")
	require.NoError(t, err)
	assert.False(t, acked)
	assert.False(t, f.ledger.TryAcquire("panic:svc-1", "panic"))
}

func TestPhraseMatching(t *testing.T) {
	assert.True(t, typedMatches("Confirmo Segurança", "confirmo seguranca"))
	assert.False(t, typedMatches("confirmo seguranca agora", "confirmo seguranca"))
	assert.False(t, typedMatches("", ""))

	assert.True(t, spokenMatches("eu confirmo, segurança.", "confirmo segurança"))
	assert.False(t, spokenMatches("reconfirmo segurança", "confirmo segurança"))
}

func TestCommandRecognizer_Unavailable(t *testing.T) {
	_, err := NewCommandRecognizer(nil, time.Second).Listen(context.Background())
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)

	_, err = NewCommandRecognizer([]string{"definitely-not-a-speech-binary-xyz"}, time.Second).Listen(context.Background())
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)
}

func TestMachine_AcknowledgeAfterStopStartsNothing(t *testing.T) {
	f := newFixture(t, true)
	f.machine.Arm(panicEvent("svc-1"))
	f.machine.Arm(panicEvent("svc-2"))

	f.machine.Stop()
	assert.False(t, f.tone.Running())

	require.NoError(t, f.machine.Acknowledge())
	st := f.machine.Status()
	require.NotNil(t, st.Current)
	assert.Equal(t, "svc-2", st.Current.ServiceIDValue())
	assert.False(t, st.Listening)
	assert.False(t, f.tone.Running())

	done := make(chan struct{})
	go func() {
		f.machine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a listener started after shutdown")
	}
}
