package cluster

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
)

// ClockSkew periodically samples offset against an NTP server and exposes a
// safety margin that Membership folds into its liveness window, so silos
// whose local clocks have drifted are not mistaken for dead (spec §4.2
// liveness is purely heartbeat-age based; this is a supplemented hardening,
// not a spec requirement, and defaults to zero margin until a sample lands).
type ClockSkew struct {
	server string
	margin atomic.Int64 // nanoseconds, always >= 0
	logger *slog.Logger

	stop chan struct{}
}

func NewClockSkew(server string, logger *slog.Logger) *ClockSkew {
	if server == "" {
		server = "pool.ntp.org"
	}
	return &ClockSkew{
		server: server,
		logger: logger.With("component", "clockskew"),
		stop:   make(chan struct{}),
	}
}

// Start samples immediately, then every interval, updating Margin().
func (c *ClockSkew) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		c.sample()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.sample()
			}
		}
	}()
}

func (c *ClockSkew) sample() {
	resp, err := ntp.Query(c.server)
	if err != nil {
		c.logger.Warn("ntp query failed", "server", c.server, "err", err)
		return
	}
	if err := resp.Validate(); err != nil {
		c.logger.Warn("ntp response invalid", "server", c.server, "err", err)
		return
	}
	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	c.margin.Store(int64(offset))
	c.logger.Debug("clock offset sampled", "offset", offset)
}

// Margin is the current absolute clock-offset estimate, added to the
// liveness window before comparing heartbeat age.
func (c *ClockSkew) Margin() time.Duration {
	return time.Duration(c.margin.Load())
}

func (c *ClockSkew) Stop() {
	close(c.stop)
}
