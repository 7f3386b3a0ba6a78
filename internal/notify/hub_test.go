package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishReachesEverySubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())

	a, unsubA := hub.Subscribe(4)
	b, unsubB := hub.Subscribe(4)
	defer unsubA()
	defer unsubB()

	hub.Publish(Notification{Kind: KindNotice, Message: "offline"})

	for _, ch := range []<-chan Notification{a, b} {
		n := <-ch
		assert.Equal(t, KindNotice, n.Kind)
		assert.False(t, n.At.IsZero())
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, unsub := hub.Subscribe(1)
	defer unsub()

	hub.Publish(Notification{Kind: KindNotice, Message: "1"})
	hub.Publish(Notification{Kind: KindNotice, Message: "2"})

	n := <-ch
	assert.Equal(t, "1", n.Message)
	assert.Len(t, ch, 0)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, unsub := hub.Subscribe(1)

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, hub.SubscriberCount())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, unsub := hub.Subscribe(1)
	hub.Close()
	unsub()

	_, ok := <-ch
	require.False(t, ok)

	late, _ := hub.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
