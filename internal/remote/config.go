package remote

import "time"

// Config tunes the connection to the remote process. Zero values are replaced
// by DefaultConfig values in New.
type Config struct {
	URL                string
	RequestTimeout     time.Duration
	ConnectTimeout     time.Duration
	MaxConnectAttempts int
	ConnectBaseDelay   time.Duration
	ConnectBackoffCap  int
	BatchInterval      time.Duration
	BatchSize          int
	HeartbeatInterval  time.Duration
	ReadLimit          int64
}

func DefaultConfig() Config {
	return Config{
		URL:                "ws://localhost:15702",
		RequestTimeout:     5 * time.Second,
		ConnectTimeout:     5 * time.Second,
		MaxConnectAttempts: 5,
		ConnectBaseDelay:   time.Second,
		ConnectBackoffCap:  5,
		BatchInterval:      50 * time.Millisecond,
		BatchSize:          10,
		HeartbeatInterval:  30 * time.Second,
		ReadLimit:          16 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxConnectAttempts < 1 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if c.ConnectBaseDelay <= 0 {
		c.ConnectBaseDelay = d.ConnectBaseDelay
	}
	if c.ConnectBackoffCap < 0 {
		c.ConnectBackoffCap = d.ConnectBackoffCap
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// ConnectDelay is the wait after the given failed connect attempt (1-based):
// ConnectBaseDelay * 2^min(attempt, ConnectBackoffCap).
func (c Config) ConnectDelay(attempt int) time.Duration {
	exp := attempt
	if exp > c.ConnectBackoffCap {
		exp = c.ConnectBackoffCap
	}
	if exp < 0 {
		exp = 0
	}
	return c.ConnectBaseDelay * time.Duration(1<<uint(exp))
}
