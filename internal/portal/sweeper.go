package portal

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically evicts visitors
// idle for longer than ttl. It stops when ctx is done. A ttl of zero keeps
// visitors until they sign out or the server stops, and reports false.
func (c *Controller) StartSweeper(ctx context.Context, ttl time.Duration) bool {
	if ttl <= 0 {
		slog.Warn("Visitor sweeper disabled", "ttl", ttl)
		return false
	}
	interval := sweepInterval
	if ttl < 2*interval {
		interval = max(ttl/2, time.Second)
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Visitor sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				c.Sweep(ttl)
			case <-ctx.Done():
				slog.Info("Visitor sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return true
}

// Sweep evicts visitors idle for longer than ttl and returns how many it removed.
func (c *Controller) Sweep(ttl time.Duration) int {
	cutoff := c.deps.Now().Add(-ttl)

	c.mu.Lock()
	var expired []*Visitor
	for id, v := range c.visitors {
		if v.LastSeen().Before(cutoff) {
			expired = append(expired, v)
			delete(c.visitors, id)
		}
	}
	remaining := len(c.visitors)
	c.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	slog.Info("Visitor sweeper found idle visitors", "count", len(expired))
	for _, v := range expired {
		v.close()
		slog.Debug("Visitor evicted", "visitor_id", v.ID, "last_seen", v.LastSeen())
	}
	c.releaseBoards(expired)
	c.setActive(remaining)
	return len(expired)
}
