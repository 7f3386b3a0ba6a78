package service

import (
	"context"
	"errors"
	"time"

	"Mansoor88-6/escort-alerts/internal/client"
	"Mansoor88-6/escort-alerts/internal/models"

	"go.uber.org/zap"
)

// EventLister reads recent events from the server
type EventLister interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.AlarmEvent, error)
}

// Poller is the polling producer. It complements the realtime subscription when
// the push channel is down.
type Poller struct {
	lister   EventLister
	intake   func(models.AlarmEvent, string)
	company  string
	interval time.Duration
	since    time.Time
	logger   *zap.Logger
}

// NewPoller creates a new poller starting from now
func NewPoller(lister EventLister, intake func(models.AlarmEvent, string), company string, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		lister:   lister,
		intake:   intake,
		company:  company,
		interval: interval,
		since:    time.Now().UTC(),
		logger:   logger,
	}
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && !errors.Is(err, client.ErrNotConnected) {
				p.logger.Debug("Poll failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll fetches events created after the cursor, oldest first, and feeds them in order
func (p *Poller) Poll(ctx context.Context) error {
	events, err := p.lister.ListEvents(ctx, models.EventFilter{
		Company: p.company,
		Since:   p.since,
		Limit:   100,
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.CreatedAt != nil && ev.CreatedAt.After(p.since) {
			p.since = *ev.CreatedAt
		} else if ev.Timestamp.After(p.since) {
			p.since = ev.Timestamp
		}
		p.intake(ev, "poll")
	}
	return nil
}
