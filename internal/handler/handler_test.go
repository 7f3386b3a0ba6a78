package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/push"
)

type memEventStore struct {
	inserted []models.AlarmEvent
	filter   models.EventFilter
	list     []models.AlarmEvent
	err      error
}

func (s *memEventStore) Insert(_ context.Context, ev models.AlarmEvent) (*models.AlarmEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.inserted = append(s.inserted, ev)
	stored := ev
	stored.ID = "evt-1"
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	}
	return &stored, nil
}

func (s *memEventStore) List(_ context.Context, f models.EventFilter) ([]models.AlarmEvent, error) {
	s.filter = f
	return s.list, s.err
}

func TestCreateEvent_SanitizesAndStores(t *testing.T) {
	store := &memEventStore{}
	h := NewEventHandler(store, zap.NewNop())

	body := `{"type":"PANIC","servico_id":"svc-1","empresa":"acme","lat":"-23.55051999","lng":-46.6333094,
		"timestamp":"2026-05-01T07:59:00Z","meta":{"source":"button"}}`
	rec := httptest.NewRecorder()
	h.CreateEvent(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.inserted, 1)

	ev := store.inserted[0]
	assert.Equal(t, models.EventPanic, ev.Type)
	assert.Equal(t, "svc-1", ev.ServiceIDValue())
	assert.Equal(t, "acme", ev.CompanyValue())
	require.NotNil(t, ev.Lat)
	assert.InDelta(t, -23.55052, *ev.Lat, 1e-9)
	assert.Equal(t, "button", ev.Metadata["source"])
	assert.Equal(t, time.Date(2026, 5, 1, 7, 59, 0, 0, time.UTC), ev.Timestamp)

	var stored models.AlarmEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "evt-1", stored.ID)
}

func TestCreateEvent_Rejections(t *testing.T) {
	store := &memEventStore{}
	h := NewEventHandler(store, zap.NewNop())

	for name, body := range map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"service_id":"svc-1"}`,
		"unknown type": `{"type":"explode"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.CreateEvent(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, store.inserted)
}

func TestCreateEvent_StoreFailure(t *testing.T) {
	h := NewEventHandler(&memEventStore{err: errors.New("db down")}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.CreateEvent(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"type":"start"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListEvents_ParsesFilter(t *testing.T) {
	store := &memEventStore{}
	h := NewEventHandler(store, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/events?type=checkin&service_id=svc-1&company=acme&since=2026-05-01T08:00:00Z&limit=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, models.EventFilter{
		Type:      models.EventCheckin,
		ServiceID: "svc-1",
		Company:   "acme",
		Since:     time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Limit:     20,
	}, store.filter)

	for _, q := range []string{"?type=nope", "?since=yesterday", "?limit=-1", "?limit=ten"} {
		rec := httptest.NewRecorder()
		h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

type memRegistry struct {
	upserted []models.PushSubscription
	deleted  []string
}

func (r *memRegistry) Upsert(_ context.Context, sub models.PushSubscription) (*models.PushSubscription, error) {
	r.upserted = append(r.upserted, sub)
	sub.ID = int64(len(r.upserted))
	return &sub, nil
}

func (r *memRegistry) DeleteByEndpoint(_ context.Context, endpoint string) error {
	r.deleted = append(r.deleted, endpoint)
	return nil
}

type stubDispatcher struct {
	err        error
	dispatched []models.DispatchRequest
	broadcasts []models.BroadcastRequest
}

func (d *stubDispatcher) Dispatch(_ context.Context, req models.DispatchRequest) (*models.DispatchResult, error) {
	d.dispatched = append(d.dispatched, req)
	if d.err != nil {
		return nil, d.err
	}
	return &models.DispatchResult{Delivered: 2, Removed: 1}, nil
}

func (d *stubDispatcher) Broadcast(_ context.Context, b models.BroadcastRequest) (*models.DispatchResult, error) {
	d.broadcasts = append(d.broadcasts, b)
	if d.err != nil {
		return nil, d.err
	}
	return &models.DispatchResult{Delivered: 1}, nil
}

func TestSubscribe_ValidatesAndUpserts(t *testing.T) {
	reg := &memRegistry{}
	h := NewPushHandler(reg, &stubDispatcher{}, "BPub", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/push/subscriptions", strings.NewReader(
		`{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"k1","auth":"a1"},"role":"custodia","service_id":"svc-1"}`))
	req.Header.Set("User-Agent", "agent/1.0")
	rec := httptest.NewRecorder()
	h.Subscribe(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, reg.upserted, 1)
	sub := reg.upserted[0]
	assert.Equal(t, models.RoleCustodia, sub.Role)
	require.NotNil(t, sub.UserAgent)
	assert.Equal(t, "agent/1.0", *sub.UserAgent)

	rec = httptest.NewRecorder()
	h.Subscribe(rec, httptest.NewRequest(http.MethodPost, "/api/v1/push/subscriptions",
		strings.NewReader(`{"endpoint":"https://push.example.com/abc","keys":{"p256dh":"k1"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "keys.auth")
	assert.Len(t, reg.upserted, 1)
}

func TestUnsubscribe(t *testing.T) {
	reg := &memRegistry{}
	h := NewPushHandler(reg, &stubDispatcher{}, "", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Unsubscribe(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/push/subscriptions?endpoint=https://push.example.com/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"https://push.example.com/abc"}, reg.deleted)

	rec = httptest.NewRecorder()
	h.Unsubscribe(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/push/subscriptions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch_ResultAndErrorMapping(t *testing.T) {
	d := &stubDispatcher{}
	h := NewPushHandler(&memRegistry{}, d, "", zap.NewNop())

	rec := httptest.NewRecorder()
	h.Dispatch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/push/dispatch",
		strings.NewReader(`{"endpoints":["https://push.example.com/abc"],"type":"panic","payload":{"service_id":"svc-1"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":2,"failures":0,"removed":1}`, rec.Body.String())
	require.Len(t, d.dispatched, 1)
	assert.Equal(t, []string{"https://push.example.com/abc"}, d.dispatched[0].Endpoints)

	cases := map[error]int{
		push.ErrEmptyAudience:        http.StatusBadRequest,
		push.ErrInvalidBroadcast:     http.StatusBadRequest,
		push.ErrPushNotConfigured:    http.StatusServiceUnavailable,
		errors.New("store exploded"): http.StatusInternalServerError,
	}
	for err, status := range cases {
		d.err = err
		rec := httptest.NewRecorder()
		h.Broadcast(rec, httptest.NewRequest(http.MethodPost, "/api/v1/push/broadcast",
			strings.NewReader(`{"role":"ADMIN","type":"panic"}`)))
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func TestPublicKey(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPushHandler(&memRegistry{}, &stubDispatcher{}, "BPub", zap.NewNop()).
		PublicKey(rec, httptest.NewRequest(http.MethodGet, "/api/v1/push/public-key", nil))
	assert.JSONEq(t, `{"publicKey":"BPub"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewPushHandler(&memRegistry{}, &stubDispatcher{}, "", zap.NewNop()).
		PublicKey(rec, httptest.NewRequest(http.MethodGet, "/api/v1/push/public-key", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
