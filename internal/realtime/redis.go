// Package realtime carries inserted alarm events to connected agents: a redis
// pub/sub channel for live inserts and an MQTT relay mirroring push messages.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// IntakeFunc receives every event a producer observes
type IntakeFunc func(ev models.AlarmEvent, source string)

// RedisConfig selects the pub/sub server and channel
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisClient creates the client and checks the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Publisher announces inserted events
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewPublisher(client *redis.Client, channel string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, ev models.AlarmEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Subscriber feeds inserts from the channel into an intake function. Every
// subscribe confirmation after the first one means the connection was re-established,
// which is reported through onReconnect.
type Subscriber struct {
	client      *redis.Client
	channel     string
	intake      IntakeFunc
	onReconnect func()
	logger      *zap.Logger

	subscribed int
}

// NewSubscriber creates a subscriber. onReconnect may be nil.
func NewSubscriber(client *redis.Client, channel string, intake IntakeFunc, onReconnect func(), logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client:      client,
		channel:     channel,
		intake:      intake,
		onReconnect: onReconnect,
		logger:      logger,
	}
}

// Run blocks until ctx is done
func (s *Subscriber) Run(ctx context.Context) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	backoff := time.Second
	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Realtime receive failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.handle(msg)
	}
}

func (s *Subscriber) handle(msg interface{}) {
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		s.subscribed++
		if s.subscribed == 1 {
			s.logger.Info("Realtime channel subscribed", zap.String("channel", m.Channel))
			return
		}
		s.logger.Info("Realtime channel re-subscribed", zap.String("channel", m.Channel))
		if s.onReconnect != nil {
			s.onReconnect()
		}
	case *redis.Message:
		var ev models.AlarmEvent
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			s.logger.Warn("Dropping malformed realtime event", zap.Error(err))
			return
		}
		s.intake(ev, "realtime")
	}
}
