package remote

import (
	"context"
	"time"
)

// RunHeartbeat pings the remote every HeartbeatInterval and reconnects with
// ConnectWithRetry while the client is not connected. It returns when ctx is
// cancelled.
func (c *Client) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.heartbeat(ctx)
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	if sess := c.activeSession(); sess != nil {
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		err := sess.conn.Ping(pingCtx)
		cancel()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.sessionFailed(sess, err)
	}
	if err := c.ConnectWithRetry(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("heartbeat reconnect failed", "url", c.cfg.URL, "err", err)
	}
}
