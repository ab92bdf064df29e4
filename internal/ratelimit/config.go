package ratelimit

import (
	"fmt"
	"time"
)

// Operation categories.
const (
	CategoryAuthentication = "authentication"
	CategoryDataRead       = "data-read"
	CategoryDataWrite      = "data-write"
	CategoryKeyGeneration  = "key-generation"
	CategoryBatch          = "batch"
	CategoryDefault        = "default"
)

// BurstWindow is the length of the short burst sub-window.
const BurstWindow = time.Second

// Config is the quota for one category: at most RequestsPerMinute admissions
// per WindowSize and at most BurstLimit per BurstWindow.
type Config struct {
	RequestsPerMinute int
	BurstLimit        int
	WindowSize        time.Duration
}

// Validate reports whether all limits are positive.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive, got %d", c.RequestsPerMinute)
	}
	if c.BurstLimit <= 0 {
		return fmt.Errorf("burst_limit must be positive, got %d", c.BurstLimit)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive, got %s", c.WindowSize)
	}
	return nil
}

// DefaultConfig is the quota applied to unknown categories.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 100, BurstLimit: 20, WindowSize: 60 * time.Second}
}

// DefaultCategories returns the built-in category table.
func DefaultCategories() map[string]Config {
	minute := 60 * time.Second
	return map[string]Config{
		CategoryAuthentication: {RequestsPerMinute: 5, BurstLimit: 3, WindowSize: minute},
		CategoryDataRead:       {RequestsPerMinute: 200, BurstLimit: 50, WindowSize: minute},
		CategoryDataWrite:      {RequestsPerMinute: 50, BurstLimit: 10, WindowSize: minute},
		CategoryKeyGeneration:  {RequestsPerMinute: 3, BurstLimit: 1, WindowSize: minute},
		CategoryBatch:          {RequestsPerMinute: 2, BurstLimit: 1, WindowSize: minute},
		CategoryDefault:        DefaultConfig(),
	}
}
