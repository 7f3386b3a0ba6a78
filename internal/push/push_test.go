package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/metrics"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/sanitize"
)

type memStore struct {
	mu       sync.Mutex
	subs     []models.PushSubscription
	audience models.Audience
	deleted  []string
}

func (s *memStore) Find(_ context.Context, a models.Audience) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audience = a
	return append([]models.PushSubscription(nil), s.subs...), nil
}

func (s *memStore) DeleteByEndpoint(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, endpoint)
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
	return nil
}

type scriptedSender struct {
	mu       sync.Mutex
	errs     map[string]error
	received map[string][]byte
}

func (s *scriptedSender) Send(_ context.Context, sub models.PushSubscription, payload []byte, _ SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received == nil {
		s.received = map[string][]byte{}
	}
	if err := s.errs[sub.Endpoint]; err != nil {
		return err
	}
	s.received[sub.Endpoint] = payload
	return nil
}

type recordingMirror struct{ msgs []models.PushMessage }

func (m *recordingMirror) Publish(_ context.Context, _ models.EventType, msg models.PushMessage) error {
	m.msgs = append(m.msgs, msg)
	return nil
}

func sub(id int64, endpoint string) models.PushSubscription {
	return models.PushSubscription{ID: id, Endpoint: endpoint, Keys: models.SubscriptionKeys{P256dh: "k", Auth: "a"}, Role: models.RoleAdmin}
}

func TestDispatch_GoneSubscriptionIsRemovedOthersDelivered(t *testing.T) {
	store := &memStore{subs: []models.PushSubscription{
		sub(1, "https://push.example/a"),
		sub(2, "https://push.example/gone"),
		sub(3, "https://push.example/flaky"),
		sub(4, "https://push.example/d"),
	}}
	sender := &scriptedSender{errs: map[string]error{
		"https://push.example/gone":  &DeliveryError{StatusCode: http.StatusGone},
		"https://push.example/flaky": &DeliveryError{StatusCode: http.StatusInternalServerError},
	}}
	mirror := &recordingMirror{}
	d := NewDispatcher(store, sender, mirror, metrics.NewPushMetrics(prometheus.NewRegistry()), Config{Concurrency: 2}, zap.NewNop())

	result, err := d.Dispatch(context.Background(), models.DispatchRequest{
		Filter:  &models.Audience{Role: models.RoleAdmin, Company: "acme"},
		Type:    models.EventPanic,
		Payload: map[string]any{"service_id": "svc-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, &models.DispatchResult{Delivered: 2, Failures: 1, Removed: 1}, result)

	assert.Equal(t, []string{"https://push.example/gone"}, store.deleted)
	assert.Len(t, store.subs, 3)
	assert.Contains(t, sender.received, "https://push.example/a")
	assert.Contains(t, sender.received, "https://push.example/d")
	require.Len(t, mirror.msgs, 1)
	assert.Equal(t, "panic:svc-1", mirror.msgs[0].Tag)
}

func TestDispatch_ExplicitListsReachStore(t *testing.T) {
	store := &memStore{}
	d := NewDispatcher(store, &scriptedSender{}, nil, nil, Config{}, zap.NewNop())

	result, err := d.Dispatch(context.Background(), models.DispatchRequest{
		SubscriptionIDs: []int64{7},
		Endpoints:       []string{"https://push.example/x"},
		Type:            models.EventStart,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Delivered)
	assert.Equal(t, []int64{7}, store.audience.SubscriptionIDs)
	assert.Equal(t, []string{"https://push.example/x"}, store.audience.Endpoints)
}

func TestDispatch_Rejections(t *testing.T) {
	d := NewDispatcher(&memStore{}, &scriptedSender{}, nil, nil, Config{}, zap.NewNop())

	_, err := d.Dispatch(context.Background(), models.DispatchRequest{Type: models.EventPanic})
	assert.ErrorIs(t, err, ErrEmptyAudience)

	_, err = d.Dispatch(context.Background(), models.DispatchRequest{Type: "boom", Filter: &models.Audience{Role: models.RoleAdmin}})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = d.Broadcast(context.Background(), models.BroadcastRequest{Type: models.EventPanic})
	assert.ErrorIs(t, err, ErrInvalidBroadcast)

	_, err = d.Broadcast(context.Background(), models.BroadcastRequest{Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrInvalidBroadcast)
}

func TestDispatch_NotConfiguredNoops(t *testing.T) {
	store := &memStore{subs: []models.PushSubscription{sub(1, "https://push.example/a")}}
	d := NewDispatcher(store, nil, nil, nil, Config{}, zap.NewNop())

	for i := 0; i < 2; i++ {
		result, err := d.Broadcast(context.Background(), models.BroadcastRequest{Empresa: "acme", Type: models.EventStart})
		assert.ErrorIs(t, err, ErrPushNotConfigured)
		assert.Nil(t, result)
	}
	assert.Len(t, store.subs, 1)
}

func TestBroadcast_EventFieldsReachMessage(t *testing.T) {
	store := &memStore{subs: []models.PushSubscription{sub(1, "https://push.example/a")}}
	mirror := &recordingMirror{}
	d := NewDispatcher(store, &scriptedSender{}, mirror, nil, Config{Defaults: MessageDefaults{BaseURL: "https://painel.example"}}, zap.NewNop())

	svc, plate := "svc-9", "ABC1D23"
	_, err := d.Broadcast(context.Background(), models.BroadcastRequest{
		Role:    models.RoleAdmin,
		Empresa: "acme",
		Type:    models.EventPanic,
		Event:   &models.AlarmEvent{Type: models.EventPanic, ServiceID: &svc, Plate: &plate},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, store.audience.Role)
	assert.Equal(t, "acme", store.audience.Company)

	msg := mirror.msgs[0]
	assert.Equal(t, "panic:svc-9", msg.Tag)
	assert.Contains(t, msg.Body, "placa ABC1D23")
	assert.Equal(t, "https://painel.example/servicos/svc-9", msg.Data["url"])
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(models.EventCheckin, map[string]any{
		"service_id": "svc-1",
		"metadata":   map[string]any{"attempt": 2},
	}, models.PushOptions{}, MessageDefaults{Icon: "/icon.png", Badge: "/badge.png"})

	assert.Equal(t, "Check-in solicitado", msg.Title)
	assert.Contains(t, msg.Body, "tentativa 2")
	assert.Equal(t, "checkin:svc-1", msg.Tag)
	assert.True(t, msg.RequireInteraction)
	assert.Equal(t, "/icon.png", msg.Icon)
	assert.Equal(t, "/servicos/svc-1", msg.Data["url"])
	assert.Equal(t, "checkin", msg.Data["type"])
	assert.NotEmpty(t, msg.Vibrate)

	msg = BuildMessage(models.EventHeartbeat, nil, models.PushOptions{Title: "t", Body: "b", URL: "/x"}, MessageDefaults{})
	assert.Equal(t, "t", msg.Title)
	assert.Equal(t, "b", msg.Body)
	assert.Equal(t, "heartbeat", msg.Tag)
	assert.False(t, msg.RequireInteraction)
	assert.Equal(t, "/x", msg.Data["url"])
}

func TestBuildMessage_DataIsBounded(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msg := BuildMessage(models.EventPanic, map[string]any{
		"servico_id":  "svc-1",
		"client_name": long,
		"address":     long,
		"note":        long,
		"nested":      map[string]any{"detail": long},
	}, models.PushOptions{}, MessageDefaults{})

	assert.Len(t, msg.Data["client_name"], sanitize.MaxTextLen)
	assert.Len(t, msg.Data["address"], sanitize.MaxTextLen)
	assert.Len(t, msg.Data["note"], sanitize.MaxTextLen)
	nested, ok := msg.Data["nested"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, nested["detail"], sanitize.MaxTextLen)

	assert.Equal(t, "svc-1", msg.Data["service_id"])
	assert.Equal(t, "panic", msg.Data["type"])
	assert.LessOrEqual(t, len(msg.Body), 4*sanitize.MaxTextLen)
}

func TestBuildSubscription(t *testing.T) {
	s, err := BuildSubscription(SubscriptionInput{
		Endpoint: " https://push.example/a ",
		Keys:     models.SubscriptionKeys{P256dh: "p", Auth: "a"},
		Role:     "admin",
		Company:  "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/a", s.Endpoint)
	assert.Equal(t, models.RoleAdmin, s.Role)
	assert.Equal(t, "acme", *s.Company)
	assert.Nil(t, s.ServiceID)
	assert.True(t, s.IsActive)

	for _, in := range []SubscriptionInput{
		{Keys: models.SubscriptionKeys{P256dh: "p", Auth: "a"}},
		{Endpoint: "https://push.example/a", Keys: models.SubscriptionKeys{Auth: "a"}},
		{Endpoint: "https://push.example/a", Keys: models.SubscriptionKeys{P256dh: "p"}},
		{Endpoint: "not a url", Keys: models.SubscriptionKeys{P256dh: "p", Auth: "a"}},
		{Endpoint: "https://push.example/a", Keys: models.SubscriptionKeys{P256dh: "p", Auth: "a"}, Role: "ROOT"},
	} {
		_, err := BuildSubscription(in)
		assert.ErrorIs(t, err, ErrMalformedSubscription)
	}
}

func browserKeys(t *testing.T) models.SubscriptionKeys {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return models.SubscriptionKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPushSender_StatusMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusCreated)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "high", r.Header.Get("Urgency"))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	sender, err := NewWebPushSender(VAPIDConfig{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@example.com"})
	require.NoError(t, err)

	s := models.PushSubscription{Endpoint: srv.URL + "/push/abc", Keys: browserKeys(t)}
	require.NoError(t, sender.Send(context.Background(), s, []byte(`{"title":"x"}`), SendOptions{}))

	status.Store(http.StatusGone)
	err = sender.Send(context.Background(), s, []byte(`{"title":"x"}`), SendOptions{})
	assert.True(t, IsGone(err))

	status.Store(http.StatusTooManyRequests)
	err = sender.Send(context.Background(), s, []byte(`{"title":"x"}`), SendOptions{})
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.False(t, de.Gone())
}

func TestNewWebPushSender_RequiresKeys(t *testing.T) {
	_, err := NewWebPushSender(VAPIDConfig{PublicKey: "x"})
	assert.ErrorIs(t, err, ErrPushNotConfigured)
}
