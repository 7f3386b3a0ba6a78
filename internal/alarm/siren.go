package alarm

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Beeper plays one tone and returns when it ends
type Beeper interface {
	Beep(freqHz int, d time.Duration) error
}

// Tone is the audible part of the alarm
type Tone interface {
	Start()
	Stop()
	Running() bool
}

// Siren alternates two frequencies at a fixed interval. Only one generator
// goroutine runs at a time.
type Siren struct {
	beeper   Beeper
	interval time.Duration
	lowHz    int
	highHz   int
	logger   *zap.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSiren creates a new siren
func NewSiren(beeper Beeper, interval time.Duration, lowHz, highHz int, logger *zap.Logger) *Siren {
	if interval <= 0 {
		interval = 450 * time.Millisecond
	}
	if lowHz <= 0 {
		lowHz = 660
	}
	if highHz <= 0 {
		highHz = 990
	}
	return &Siren{
		beeper:   beeper,
		interval: interval,
		lowHz:    lowHz,
		highHz:   highHz,
		logger:   logger,
	}
}

// Start begins the tone; a no-op when already running
func (s *Siren) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		return
	}
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopChan)
	s.logger.Debug("Siren started")
}

// Stop silences the tone and waits for the generator to exit
func (s *Siren) Stop() {
	s.mu.Lock()
	stop := s.stopChan
	s.stopChan = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	s.wg.Wait()
	s.logger.Debug("Siren stopped")
}

// Running reports whether the tone is on
func (s *Siren) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopChan != nil
}

func (s *Siren) loop(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	high := false
	failures := 0
	tone := s.interval * 9 / 10

	for {
		freq := s.lowHz
		if high {
			freq = s.highHz
		}
		high = !high

		if err := s.beeper.Beep(freq, tone); err != nil {
			failures++
			if failures == 1 {
				s.logger.Warn("Siren tone failed", zap.Error(err))
			}
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}
