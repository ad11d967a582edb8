package fetcher

import "time"

// Config tunes fetch behavior. Defaults match the scan pipeline: short
// timeout, one retry, small worker pool with a polite inter-task delay.
type Config struct {
	Timeout        time.Duration
	Retries        int
	RetryDelay     time.Duration
	MaxConcurrency int
	TaskDelay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:        8 * time.Second,
		Retries:        1,
		RetryDelay:     time.Second,
		MaxConcurrency: 5,
		TaskDelay:      500 * time.Millisecond,
	}
}
