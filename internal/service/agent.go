package service

import (
	"context"
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/tracker"

	"go.uber.org/zap"
)

// Heartbeater emits periodic heartbeats through the supplied func
type Heartbeater interface {
	Start(emit tracker.EmitFunc)
	Stop()
}

// Stopper is any component that must be silenced on shutdown
type Stopper interface {
	Stop()
}

type loop struct {
	name string
	run  func(ctx context.Context)
}

// Agent orchestrates the long-running parts of the desktop agent: the outbox
// flusher, the heartbeat, and whatever intake loops main registers.
type Agent struct {
	emitter       *Emitter
	heartbeat     Heartbeater
	alarm         Stopper
	session       models.Session
	flushInterval time.Duration
	stopTimeout   time.Duration
	logger        *zap.Logger

	loops   []loop
	cancel  context.CancelFunc
	stopped bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewAgent creates a new agent. heartbeat and alarm may be nil.
func NewAgent(
	emitter *Emitter,
	heartbeat Heartbeater,
	alarm Stopper,
	session models.Session,
	flushInterval time.Duration,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		emitter:       emitter,
		heartbeat:     heartbeat,
		alarm:         alarm,
		session:       session,
		flushInterval: flushInterval,
		stopTimeout:   2 * time.Second,
		logger:        logger,
	}
}

// Go registers a loop run by Start. Loops must return when ctx is done.
func (a *Agent) Go(name string, run func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loops = append(a.loops, loop{name: name, run: run})
}

// Start begins every loop
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("Starting agent",
		zap.String("role", string(a.session.Role)),
		zap.String("company", a.session.Company),
		zap.String("service_id", a.session.ServiceID),
		zap.String("device_id", a.session.DeviceID),
	)

	ctx, a.cancel = context.WithCancel(ctx)

	loops := append([]loop{{
		name: "outbox-flusher",
		run:  func(ctx context.Context) { a.emitter.RunFlusher(ctx, a.flushInterval) },
	}}, a.loops...)

	for _, l := range loops {
		a.wg.Add(1)
		go func(l loop) {
			defer a.wg.Done()
			a.logger.Debug("Loop started", zap.String("loop", l.name))
			l.run(ctx)
			a.logger.Debug("Loop stopped", zap.String("loop", l.name))
		}(l)
	}

	if a.heartbeat != nil {
		a.heartbeat.Start(func(ctx context.Context, eventType string, payload map[string]any) {
			a.emitter.Emit(ctx, eventType, payload)
		})
	}

	a.logger.Info("Agent started", zap.Int("loops", len(loops)))
}

// Stop cancels every loop, silences the alarm and waits for in-flight pushes
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.stopped || a.cancel == nil {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.cancel()
	a.mu.Unlock()

	a.logger.Info("Stopping agent")

	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	if a.alarm != nil {
		a.alarm.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.emitter.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.stopTimeout):
		a.logger.Warn("Some goroutines did not stop within timeout")
	}

	if pending := a.emitter.Pending(); pending > 0 {
		a.logger.Warn("Agent stopped with queued events", zap.Int("pending", pending))
	}
	a.logger.Info("Agent stopped")
}
