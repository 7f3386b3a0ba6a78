package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/checkin"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/service"
	"Mansoor88-6/escort-alerts/internal/tracker"
)

type stubEmitter struct {
	outcome service.Outcome
	types   []string
}

func (e *stubEmitter) Emit(_ context.Context, eventType string, payload map[string]any) (service.Outcome, models.AlarmEvent) {
	e.types = append(e.types, eventType)
	return e.outcome, models.AlarmEvent{Type: models.EventType(eventType)}
}

func (e *stubEmitter) Pending() int { return 2 }

type stubAlarm struct {
	armed bool
}

func (a *stubAlarm) Acknowledge() error {
	if !a.armed {
		return alarm.ErrNotArmed
	}
	a.armed = false
	return nil
}

func (a *stubAlarm) SubmitPhrase(text string) (bool, error) {
	if text != "confirmo" {
		return false, nil
	}
	return true, a.Acknowledge()
}

func (a *stubAlarm) Silence()          {}
func (a *stubAlarm) CloseModal() error { return a.Acknowledge() }

func (a *stubAlarm) Status() alarm.Status {
	if a.armed {
		return alarm.Status{State: alarm.StateArmed}
	}
	return alarm.Status{State: alarm.StateIdle}
}

type stubPanel struct {
	text       string
	confirmErr error
	dictateErr error
}

func (p *stubPanel) SetText(text string) { p.text = text }

func (p *stubPanel) Dictate(context.Context) (string, error) {
	if p.dictateErr != nil {
		return "", p.dictateErr
	}
	return "tudo certo", nil
}

func (p *stubPanel) Confirm(context.Context) (service.Outcome, error) {
	if p.confirmErr != nil {
		return "", p.confirmErr
	}
	return service.OutcomeSent, nil
}

func (p *stubPanel) State() checkin.State { return checkin.State{Text: p.text} }

type controlFixture struct {
	server  *ControlServer
	emitter *stubEmitter
	alarm   *stubAlarm
	panel   *stubPanel
	locator *tracker.LocationTracker
	hub     *notify.Hub
}

func newControlFixture() *controlFixture {
	f := &controlFixture{
		emitter: &stubEmitter{outcome: service.OutcomeSent},
		alarm:   &stubAlarm{},
		panel:   &stubPanel{},
		locator: tracker.NewLocationTracker(time.Minute, "", zap.NewNop()),
		hub:     notify.NewHub(zap.NewNop()),
	}
	f.server = NewControlServer(f.emitter, f.alarm, f.panel, f.locator, f.hub,
		models.Session{Role: models.RoleCustodia, ServiceID: "svc-1"}, zap.NewNop())
	return f
}

func (f *controlFixture) call(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestControlServer_EmitStatusCodes(t *testing.T) {
	f := newControlFixture()

	rec := f.call(http.MethodPost, "/api/v1/emit", `{"type":"panic","payload":{"service_id":"svc-1"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp EmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, service.OutcomeSent, resp.Outcome)

	f.emitter.outcome = service.OutcomeQueued
	assert.Equal(t, http.StatusAccepted, f.call(http.MethodPost, "/api/v1/emit", `{"type":"panic"}`).Code)

	f.emitter.outcome = service.OutcomeError
	assert.Equal(t, http.StatusUnprocessableEntity, f.call(http.MethodPost, "/api/v1/emit", `{"type":"boom"}`).Code)

	assert.Equal(t, []string{"panic", "panic", "boom"}, f.emitter.types)
	assert.Equal(t, http.StatusBadRequest, f.call(http.MethodPost, "/api/v1/emit", `{`).Code)
}

func TestControlServer_Routing(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusNotFound, f.call(http.MethodGet, "/api/v1/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.call(http.MethodGet, "/api/v1/emit", "").Code)

	rec := f.call(http.MethodOptions, "/api/v1/emit", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestControlServer_AlarmControls(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusConflict, f.call(http.MethodPost, "/api/v1/alarm/ack", "").Code)

	f.alarm.armed = true
	rec := f.call(http.MethodPost, "/api/v1/alarm/phrase", `{"text":"talvez"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acknowledged":false`)

	rec = f.call(http.MethodPost, "/api/v1/alarm/phrase", `{"text":"confirmo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acknowledged":true`)
	assert.False(t, f.alarm.armed)

	assert.Equal(t, http.StatusOK, f.call(http.MethodPost, "/api/v1/alarm/silence", "").Code)
	assert.Equal(t, http.StatusConflict, f.call(http.MethodPost, "/api/v1/alarm/close", "").Code)
}

func TestControlServer_CheckinControls(t *testing.T) {
	f := newControlFixture()

	rec := f.call(http.MethodPost, "/api/v1/checkin/text", `{"text":"parado no posto"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "parado no posto", f.panel.text)

	rec = f.call(http.MethodPost, "/api/v1/checkin/dictate", "")
	assert.JSONEq(t, `{"text":"tudo certo"}`, rec.Body.String())

	f.panel.dictateErr = alarm.ErrRecognizerUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, f.call(http.MethodPost, "/api/v1/checkin/dictate", "").Code)
	f.panel.dictateErr = alarm.ErrNoSpeech
	assert.Equal(t, http.StatusOK, f.call(http.MethodPost, "/api/v1/checkin/dictate", "").Code)

	assert.Equal(t, http.StatusOK, f.call(http.MethodPost, "/api/v1/checkin/confirm", "").Code)
	for err, status := range map[error]int{
		checkin.ErrPanelClosed:     http.StatusConflict,
		checkin.ErrConfirmInFlight: http.StatusConflict,
		checkin.ErrConfirmFailed:   http.StatusBadGateway,
	} {
		f.panel.confirmErr = err
		assert.Equal(t, status, f.call(http.MethodPost, "/api/v1/checkin/confirm", "").Code, err.Error())
	}
}

func TestControlServer_LocationServiceAndStatus(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusBadRequest, f.call(http.MethodPost, "/api/v1/location", `{"lat":-23.5}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.call(http.MethodPost, "/api/v1/location", `{"lat":-123.5,"lng":10}`).Code)
	assert.Equal(t, http.StatusOK, f.call(http.MethodPost, "/api/v1/location", `{"lat":-23.5505,"lng":-46.6333,"address":"Av. Paulista"}`).Code)
	assert.Equal(t, http.StatusOK, f.call(http.MethodPost, "/api/v1/service", `{"service_id":"svc-9"}`).Code)

	rec := f.call(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, models.RoleCustodia, st.Session.Role)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, "svc-9", st.Service)
	require.NotNil(t, st.Location)
	assert.Equal(t, "Av. Paulista", st.Location.Address)
}

func TestControlServer_EventStream(t *testing.T) {
	f := newControlFixture()
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		for {
			rest, err := reader.ReadString('\n')
			require.NoError(t, err)
			if rest == "\n" {
				break
			}
		}
		return strings.TrimSpace(line)
	}

	assert.Equal(t, "event: status", readEvent())

	require.Eventually(t, func() bool { return f.hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Publish(notify.Notification{Kind: notify.KindAlarmArmed, Message: "panic"})
	assert.Equal(t, "event: "+string(notify.KindAlarmArmed), readEvent())
}
