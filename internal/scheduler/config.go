package scheduler

import (
	"time"
)

// Config controls the rollup scheduler interval and catch-up depth.
type Config struct {
	// RunInterval is the pause between rollup sweeps.
	RunInterval time.Duration
	// CatchUpDays is how many completed days each sweep rebuilds,
	// counting back from yesterday. Rebuilding more than one day lets
	// late-arriving events land in their day on a later sweep.
	CatchUpDays int
	// JobTimeout bounds a single day's rollup run.
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		CatchUpDays: 2,
		JobTimeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CatchUpDays <= 0 {
		c.CatchUpDays = defaults.CatchUpDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
