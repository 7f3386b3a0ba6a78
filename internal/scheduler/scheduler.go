// Package scheduler is the check-in monitor. Every run reconstructs each service's
// reminder state from alarm_event history, so any number of instances can run
// without a shared lock. Overlapping runs may occasionally send a duplicate
// reminder; that is accepted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/escort-alerts/internal/clock"
	"Mansoor88-6/escort-alerts/internal/metrics"
	"Mansoor88-6/escort-alerts/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// ServiceLister returns the services under escort
type ServiceLister interface {
	ListActive(ctx context.Context) ([]models.EscortService, error)
}

// EventStore is the alarm_event history the scheduler reads and appends to
type EventStore interface {
	Insert(ctx context.Context, ev models.AlarmEvent) (*models.AlarmEvent, error)
	LatestByType(ctx context.Context, serviceID string, eventType models.EventType) (*models.AlarmEvent, error)
	ExistsSince(ctx context.Context, serviceID string, eventType models.EventType, since time.Time) (bool, error)
}

// Dispatcher sends a push to an audience
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.DispatchRequest) (*models.DispatchResult, error)
}

type Scheduler struct {
	services   ServiceLister
	events     EventStore
	dispatcher Dispatcher
	metrics    *metrics.CheckinMetrics
	clock      clock.Clock
	cfg        Config
	log        *zap.Logger
}

// New creates a scheduler. dispatcher and m may be nil.
func New(services ServiceLister, events EventStore, dispatcher Dispatcher, m *metrics.CheckinMetrics, clk clock.Clock, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if services == nil || events == nil || logger == nil {
		return nil, ErrInvalidConfig
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		services:   services,
		events:     events,
		dispatcher: dispatcher,
		metrics:    m,
		clock:      clk,
		cfg:        cfg.withDefaults(),
		log:        logger.Named("scheduler").With(zap.String("component", "checkin_scheduler")),
	}, nil
}

// RunOnce checks every active service. A failing service is logged and the run
// continues; the failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	services, err := s.services.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active services: %w", err)
	}

	var errs error
	stale := 0
	for _, svc := range services {
		decision, err := s.checkService(ctx, svc)
		if err != nil {
			s.log.Error("Check-in evaluation failed",
				zap.String("service_id", svc.ID),
				zap.Error(err),
			)
			s.metrics.IncDecision(metrics.CheckinError)
			errs = errors.Join(errs, fmt.Errorf("service %s: %w", svc.ID, err))
			stale++
			continue
		}
		if decision == "" {
			continue
		}
		stale++
		s.metrics.IncDecision(decision)
	}

	s.metrics.IncRun(stale)
	s.log.Info("Check-in run finished",
		zap.Int("services", len(services)),
		zap.Int("stale", stale),
	)
	return errs
}

// checkService returns the decision taken for a stale service, or "" when the
// service checked in recently.
func (s *Scheduler) checkService(ctx context.Context, svc models.EscortService) (string, error) {
	now := s.clock.Now()

	lastOK, err := s.events.LatestByType(ctx, svc.ID, models.EventCheckinOK)
	if err != nil {
		return "", err
	}
	if lastOK != nil && now.Sub(lastOK.Timestamp) < s.cfg.StaleThreshold {
		return "", nil
	}

	lastReminder, err := s.events.LatestByType(ctx, svc.ID, models.EventCheckin)
	if err != nil {
		return "", err
	}
	// a reminder older than the last check-in belongs to a finished episode
	if lastReminder != nil && lastOK != nil && !lastReminder.Timestamp.After(lastOK.Timestamp) {
		lastReminder = nil
	}

	attempts := 0
	if lastReminder != nil {
		attempts = lastReminder.Attempt()
		if now.Sub(lastReminder.Timestamp) < s.cfg.RetryDelay {
			return metrics.CheckinWaiting, nil
		}
	}

	if attempts >= s.cfg.MaxAttempts {
		escalated, err := s.events.ExistsSince(ctx, svc.ID, models.EventCheckinMissed, lastReminder.Timestamp)
		if err != nil {
			return "", err
		}
		if escalated {
			return metrics.CheckinEscalated, nil
		}
		if err := s.escalate(ctx, svc, lastReminder, lastOK, now); err != nil {
			return "", err
		}
		return metrics.CheckinEscalation, nil
	}

	if err := s.remind(ctx, svc, attempts+1, lastOK, now); err != nil {
		return "", err
	}
	return metrics.CheckinReminder, nil
}

func (s *Scheduler) remind(ctx context.Context, svc models.EscortService, attempt int, lastOK *models.AlarmEvent, now time.Time) error {
	metadata := map[string]any{
		"attempt":       attempt,
		"max_attempts":  s.cfg.MaxAttempts,
		"next_retry_at": now.Add(s.cfg.RetryDelay).Format(time.RFC3339Nano),
	}
	if lastOK != nil {
		metadata["last_checkin_at"] = lastOK.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	stored, err := s.events.Insert(ctx, serviceEvent(svc, models.EventCheckin, now, metadata))
	if err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}

	s.log.Info("Check-in reminder sent",
		zap.String("service_id", svc.ID),
		zap.Int("attempt", attempt),
	)
	s.push(ctx, models.DispatchRequest{
		Filter:  &models.Audience{Role: models.RoleCustodia, ServiceID: svc.ID},
		Type:    models.EventCheckin,
		Payload: stored.Payload(),
		Options: models.PushOptions{Urgency: "high"},
	})
	return nil
}

func (s *Scheduler) escalate(ctx context.Context, svc models.EscortService, lastReminder, lastOK *models.AlarmEvent, now time.Time) error {
	metadata := map[string]any{
		"attempts":        lastReminder.Attempt(),
		"last_attempt_at": lastReminder.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if lastOK != nil {
		metadata["last_checkin_at"] = lastOK.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	stored, err := s.events.Insert(ctx, serviceEvent(svc, models.EventCheckinMissed, now, metadata))
	if err != nil {
		return fmt.Errorf("record escalation: %w", err)
	}

	s.log.Warn("Check-in missed, escalating",
		zap.String("service_id", svc.ID),
		zap.Int("attempts", lastReminder.Attempt()),
	)
	company := ""
	if svc.Company != nil {
		company = *svc.Company
	}
	s.push(ctx, models.DispatchRequest{
		Filter:  &models.Audience{Role: models.RoleAdmin, Company: company},
		Type:    models.EventCheckinMissed,
		Payload: stored.Payload(),
		Options: models.PushOptions{Urgency: "high"},
	})
	return nil
}

// push is best effort: the recorded event already reaches live clients through
// the realtime channel and polling.
func (s *Scheduler) push(ctx context.Context, req models.DispatchRequest) {
	if s.dispatcher == nil {
		return
	}
	result, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		s.log.Warn("Check-in push failed",
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("Check-in push dispatched",
		zap.String("type", string(req.Type)),
		zap.Int("delivered", result.Delivered),
	)
}

func serviceEvent(svc models.EscortService, eventType models.EventType, now time.Time, metadata map[string]any) models.AlarmEvent {
	id := svc.ID
	return models.AlarmEvent{
		Type:        eventType,
		ServiceID:   &id,
		Company:     svc.Company,
		ClientName:  svc.ClientName,
		Plate:       svc.Plate,
		ServiceKind: svc.ServiceKind,
		Timestamp:   now,
		Metadata:    metadata,
	}
}

func (s *Scheduler) runJob(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	start := s.clock.Now()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("Check-in run failed", zap.Error(err))
	}
	s.log.Debug("Check-in run duration", zap.Duration("elapsed", s.clock.Now().Sub(start)))
}

// Run executes RunOnce on every tick of the cron expression until ctx is done
func (s *Scheduler) Run(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.log.Sugar()})),
	)
	if _, err := c.AddFunc(spec, func() { s.runJob(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	s.log.Info("Check-in scheduler started", zap.String("cron", spec))
	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	s.log.Info("Check-in scheduler stopped")
	return nil
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
