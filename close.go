package leechrpc

import (
	"context"
	"time"

	"go.leechcore.dev/leechrpc/wire"
)

// Close signals the keepalive task to stop, best-effort sends CloseReq, and
// tears down the transport. Idempotent: only the first call does any of
// this; subsequent calls return nil immediately.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopKeepalive()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.submitHeaderOnly(ctx, wire.CloseReq, wire.CloseRsp); err != nil {
		c.cfg.logger().WithError(err).Debug("leechrpc: CloseReq failed (best effort)")
	}

	return c.tr.Close()
}
