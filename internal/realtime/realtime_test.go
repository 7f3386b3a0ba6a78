package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/push"
	"Mansoor88-6/escort-alerts/internal/repository"
)

type intakeRecorder struct {
	events  []models.AlarmEvent
	sources []string
}

func (r *intakeRecorder) intake(ev models.AlarmEvent, source string) {
	r.events = append(r.events, ev)
	r.sources = append(r.sources, source)
}

func TestSubscriber_ResubscribeRequestsFlush(t *testing.T) {
	rec := &intakeRecorder{}
	reconnects := 0
	s := NewSubscriber(nil, "alarm_event:insert", rec.intake, func() { reconnects++ }, zap.NewNop())

	s.handle(&redis.Subscription{Kind: "subscribe", Channel: "alarm_event:insert", Count: 1})
	assert.Zero(t, reconnects)

	s.handle(&redis.Message{Channel: "alarm_event:insert", Payload: `{"type":"panic","service_id":"svc-1","meta":{"k":"v"}}`})
	require.Len(t, rec.events, 1)
	assert.Equal(t, models.EventPanic, rec.events[0].Type)
	assert.Equal(t, "v", rec.events[0].Metadata["k"])
	assert.Equal(t, "realtime", rec.sources[0])

	s.handle(&redis.Message{Channel: "alarm_event:insert", Payload: `not json`})
	assert.Len(t, rec.events, 1)

	s.handle(&redis.Subscription{Kind: "subscribe", Channel: "alarm_event:insert", Count: 1})
	s.handle(&redis.Subscription{Kind: "unsubscribe", Channel: "alarm_event:insert"})
	assert.Equal(t, 1, reconnects)
}

// memBroker delivers published messages synchronously to matching subscriptions
type memBroker struct {
	handlers map[string]MessageHandler
}

func (b *memBroker) Subscribe(topic string, _ byte, handler MessageHandler) error {
	if b.handlers == nil {
		b.handlers = map[string]MessageHandler{}
	}
	b.handlers[topic] = handler
	return nil
}

func (b *memBroker) Publish(topic string, _ byte, _ bool, payload []byte) error {
	for filter, h := range b.handlers {
		if filter == topic || (strings.HasSuffix(filter, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))) {
			if err := h(topic, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestMirrorAndRelayListener_RoundTrip(t *testing.T) {
	broker := &memBroker{}
	rec := &intakeRecorder{}
	require.NoError(t, NewRelayListener(broker, "escort/push/", rec.intake, zap.NewNop()).Start())

	svc, company := "svc-3", "acme"
	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	ev := models.AlarmEvent{Type: models.EventPanic, ServiceID: &svc, Company: &company, Timestamp: ts}
	msg := push.BuildMessage(models.EventPanic, ev.Payload(), models.PushOptions{}, push.MessageDefaults{})

	require.NoError(t, NewMirror(broker, "escort/push").Publish(context.Background(), models.EventPanic, msg))

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, models.EventPanic, got.Type)
	assert.Equal(t, "svc-3", got.ServiceIDValue())
	assert.Equal(t, "acme", got.CompanyValue())
	assert.True(t, got.Timestamp.Equal(ts))
	assert.Equal(t, "relay", rec.sources[0])
	assert.Equal(t, ev.DedupKey(), got.DedupKey())
}

func TestRelayListener_RejectsGarbage(t *testing.T) {
	rec := &intakeRecorder{}
	l := NewRelayListener(&memBroker{}, "escort/push", rec.intake, zap.NewNop())
	assert.Error(t, l.handle("escort/push/panic", []byte("{")))
	assert.Empty(t, rec.events)
}

type fakePublisher struct {
	published []models.AlarmEvent
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, ev models.AlarmEvent) error {
	p.published = append(p.published, ev)
	return p.err
}

func TestPublishingStore_AnnouncesAfterInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "type", "service_id", "company", "client_name", "plate", "service_kind",
		"lat", "lng", "address", "timestamp", "metadata", "created_at"}
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`INSERT INTO alarm_event`).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("ev-1", "start", "svc-1", nil, nil, nil, nil, nil, nil, nil, ts, nil, ts))
	}

	pub := &fakePublisher{}
	store := NewPublishingStore(repository.NewEventRepository(db, zap.NewNop()), pub, zap.NewNop())

	stored, err := store.Insert(context.Background(), models.AlarmEvent{Type: models.EventStart})
	require.NoError(t, err)
	assert.Equal(t, "ev-1", stored.ID)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "ev-1", pub.published[0].ID)

	pub.err = errors.New("redis down")
	_, err = store.Insert(context.Background(), models.AlarmEvent{Type: models.EventStart})
	assert.NoError(t, err, "announcement failure does not fail the insert")

	require.NoError(t, mock.ExpectationsWereMet())
}
