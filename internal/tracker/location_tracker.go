package tracker

import (
	"context"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/sanitize"

	"go.uber.org/zap"
)

// Location is the last known device position
type Location struct {
	Lat     *float64  `json:"lat"`
	Lng     *float64  `json:"lng"`
	Address string    `json:"address,omitempty"`
	At      time.Time `json:"at"`
}

// Payload renders the location as emitter payload fields
func (l Location) Payload() map[string]any {
	p := map[string]any{}
	if l.Lat != nil && l.Lng != nil {
		p["lat"] = *l.Lat
		p["lng"] = *l.Lng
	}
	if l.Address != "" {
		p["address"] = l.Address
	}
	return p
}

// EmitFunc sends one event; the outcome is the emitter's business
type EmitFunc func(ctx context.Context, eventType string, payload map[string]any)

// LocationTracker keeps the last known location and, while a service is active,
// emits a heartbeat on every tick.
type LocationTracker struct {
	interval      time.Duration
	last          Location
	hasFix        bool
	activeService string
	emit          EmitFunc
	logger        *zap.Logger
	mu            sync.RWMutex
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewLocationTracker creates a new tracker
func NewLocationTracker(interval time.Duration, activeService string, logger *zap.Logger) *LocationTracker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &LocationTracker{
		interval:      interval,
		activeService: activeService,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the heartbeat loop
func (lt *LocationTracker) Start(emit EmitFunc) {
	lt.emit = emit

	lt.wg.Add(1)
	go lt.heartbeatLoop()

	lt.logger.Info("Location tracker started",
		zap.Duration("heartbeat_interval", lt.interval),
		zap.String("service_id", lt.ActiveService()),
	)
}

// Stop stops the heartbeat loop
func (lt *LocationTracker) Stop() {
	lt.mu.Lock()
	select {
	case <-lt.stopChan:
		lt.mu.Unlock()
		return
	default:
		close(lt.stopChan)
	}
	lt.mu.Unlock()

	lt.wg.Wait()
	lt.logger.Info("Location tracker stopped")
}

// Record stores a fix. Non-finite coordinates are dropped, the address is kept.
func (lt *LocationTracker) Record(lat, lng float64, address string) {
	loc := Location{
		Lat:     sanitize.Coordinate(lat),
		Lng:     sanitize.Coordinate(lng),
		Address: sanitize.Truncate(address, sanitize.MaxTextLen),
		At:      time.Now().UTC(),
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	if loc.Lat == nil || loc.Lng == nil {
		loc.Lat, loc.Lng = nil, nil
		if loc.Address == "" {
			return
		}
	}
	lt.last = loc
	lt.hasFix = true
}

// Last returns the last fix
func (lt *LocationTracker) Last() (Location, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.last, lt.hasFix
}

// SetActiveService sets the service heartbeats are emitted for; empty stops them
func (lt *LocationTracker) SetActiveService(serviceID string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.activeService != serviceID {
		lt.logger.Info("Active service changed",
			zap.String("from", lt.activeService),
			zap.String("to", serviceID),
		)
	}
	lt.activeService = serviceID
}

// ActiveService returns the current service id
func (lt *LocationTracker) ActiveService() string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.activeService
}

func (lt *LocationTracker) heartbeatLoop() {
	defer lt.wg.Done()

	ticker := time.NewTicker(lt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lt.Beat(context.Background())
		case <-lt.stopChan:
			return
		}
	}
}

// Beat emits one heartbeat when a service is active
func (lt *LocationTracker) Beat(ctx context.Context) bool {
	serviceID := lt.ActiveService()
	if serviceID == "" || lt.emit == nil {
		return false
	}

	payload := map[string]any{"service_id": serviceID}
	if loc, ok := lt.Last(); ok {
		for k, v := range loc.Payload() {
			payload[k] = v
		}
		payload["metadata"] = map[string]any{"fix_at": loc.At.Format(time.RFC3339)}
	}

	lt.emit(ctx, "heartbeat", payload)
	return true
}
