package scheduler

import "time"

// Config controls the check-in monitor
type Config struct {
	StaleThreshold time.Duration
	RetryDelay     time.Duration
	MaxAttempts    int
	JobTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		StaleThreshold: 15 * time.Minute,
		RetryDelay:     5 * time.Minute,
		MaxAttempts:    3,
		JobTimeout:     2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
