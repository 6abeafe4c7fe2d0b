// Package clock synchronizes the node clock against an NTP server.
// Telemetry timestamps are withheld until the first successful sync.
package clock

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// syncRetryInterval is how often the background sync retries until the
// first successful response.
const syncRetryInterval = 10 * time.Second

// Source provides synchronized timestamps to the telemetry loop.
type Source interface {
	Synced() bool
	NowUnixMilli() uint64
}

// Clock tracks the offset between the local clock and the time server.
type Clock struct {
	server    string
	utcOffset time.Duration
	logger    *log.Logger

	// query is swapped out in tests.
	query func(server string) (*ntp.Response, error)

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// New creates a Clock for the given time server. utcOffset is the local
// timezone offset, used only for log display.
func New(server string, utcOffset time.Duration, logger *log.Logger) *Clock {
	return &Clock{
		server:    server,
		utcOffset: utcOffset,
		logger:    logger,
		query:     ntp.Query,
	}
}

// Sync performs one query against the time server and records the
// measured clock offset.
func (c *Clock) Sync() error {
	resp, err := c.query(c.server)
	if err != nil {
		return fmt.Errorf("NTP query to %s failed: %w", c.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("NTP response from %s invalid: %w", c.server, err)
	}

	c.mu.Lock()
	c.offset = resp.ClockOffset
	c.synced = true
	c.mu.Unlock()

	if c.logger != nil {
		local := time.Now().Add(resp.ClockOffset).UTC().Add(c.utcOffset)
		c.logger.Printf("[Clock] Synchronized with %s (offset %v, local time %s)",
			c.server, resp.ClockOffset, local.Format(time.RFC3339))
	}
	return nil
}

// SyncInBackground retries Sync until it succeeds, then returns.
// Mirrors firmware SNTP behaviour: sync is started once and completes
// whenever the network allows.
func (c *Clock) SyncInBackground() {
	go func() {
		for {
			if err := c.Sync(); err == nil {
				return
			} else if c.logger != nil {
				c.logger.Printf("[Clock] %v", err)
			}
			time.Sleep(syncRetryInterval)
		}
	}()
}

// Synced reports whether at least one sync has completed.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// NowUnixMilli returns the synchronized time as milliseconds since the
// Unix epoch. Zero before the first successful sync.
func (c *Clock) NowUnixMilli() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.synced {
		return 0
	}
	return uint64(time.Now().Add(c.offset).UnixMilli())
}
