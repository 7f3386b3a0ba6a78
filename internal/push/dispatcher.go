// Package push resolves an audience of subscriptions and delivers one message to
// each of them, pruning the ones the push service reports as gone.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Mansoor88-6/escort-alerts/internal/metrics"
	"Mansoor88-6/escort-alerts/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyAudience    = errors.New("dispatch audience is empty")
	ErrInvalidBroadcast = errors.New("broadcast requires role or empresa and a type")
	ErrUnknownType      = errors.New("unknown event type")
)

// SubscriptionStore is the registry the dispatcher reads and prunes
type SubscriptionStore interface {
	Find(ctx context.Context, audience models.Audience) ([]models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Mirror republishes every dispatched message on a background channel
type Mirror interface {
	Publish(ctx context.Context, eventType models.EventType, msg models.PushMessage) error
}

// Config of a dispatcher
type Config struct {
	Defaults    MessageDefaults
	TTL         int
	Concurrency int
}

// Dispatcher is stateless per call; concurrent Dispatch calls share nothing but
// the store.
type Dispatcher struct {
	store   SubscriptionStore
	sender  Sender
	mirror  Mirror
	metrics *metrics.PushMetrics
	cfg     Config
	logger  *zap.Logger

	notConfigured sync.Once
}

// NewDispatcher creates a dispatcher. sender nil means push is not configured;
// mirror and m may be nil.
func NewDispatcher(store SubscriptionStore, sender Sender, mirror Mirror, m *metrics.PushMetrics, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		mirror:  mirror,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Broadcast validates and normalizes the convenience shape, then dispatches
func (d *Dispatcher) Broadcast(ctx context.Context, b models.BroadcastRequest) (*models.DispatchResult, error) {
	if (b.Role == "" && b.Empresa == "") || b.Type == "" {
		return nil, ErrInvalidBroadcast
	}
	return d.Dispatch(ctx, b.DispatchRequest())
}

// Dispatch delivers one message to every subscription matching the request. Each
// delivery is independent; nothing is retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.DispatchRequest) (*models.DispatchResult, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	audience := req.Audience()
	if audience.IsEmpty() {
		return nil, ErrEmptyAudience
	}
	if d.sender == nil {
		d.notConfigured.Do(func() {
			d.logger.Warn("Push delivery is not configured, dispatches are skipped")
		})
		return nil, ErrPushNotConfigured
	}

	start := time.Now()
	msg := BuildMessage(req.Type, req.Payload, req.Options, d.cfg.Defaults)
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode push message: %w", err)
	}

	subs, err := d.store.Find(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("find subscriptions: %w", err)
	}

	opts := SendOptions{TTL: req.Options.TTL, Urgency: req.Options.Urgency}
	if opts.TTL <= 0 {
		opts.TTL = d.cfg.TTL
	}

	var delivered, failures, removed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			err := d.sender.Send(ctx, sub, body, opts)
			switch {
			case err == nil:
				delivered.Add(1)
			case IsGone(err):
				if delErr := d.store.DeleteByEndpoint(ctx, sub.Endpoint); delErr != nil {
					d.logger.Error("Failed to remove gone subscription",
						zap.Int64("subscription_id", sub.ID),
						zap.Error(delErr),
					)
					failures.Add(1)
					return nil
				}
				d.logger.Debug("Removed gone subscription", zap.Int64("subscription_id", sub.ID))
				removed.Add(1)
			default:
				d.logger.Warn("Push delivery failed",
					zap.Int64("subscription_id", sub.ID),
					zap.Error(err),
				)
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &models.DispatchResult{
		Delivered: int(delivered.Load()),
		Failures:  int(failures.Load()),
		Removed:   int(removed.Load()),
	}

	if d.mirror != nil {
		if err := d.mirror.Publish(ctx, req.Type, msg); err != nil {
			d.logger.Warn("Failed to mirror push message", zap.Error(err))
		}
	}

	d.metrics.ObserveDispatch(string(req.Type), result.Delivered, result.Failures, result.Removed, time.Since(start).Seconds())
	d.logger.Info("Push dispatched",
		zap.String("type", string(req.Type)),
		zap.Int("matched", len(subs)),
		zap.Int("delivered", result.Delivered),
		zap.Int("failures", result.Failures),
		zap.Int("removed", result.Removed),
	)
	return result, nil
}
