package leechrpc

import (
	"context"
	"time"

	"go.leechcore.dev/leechrpc/wire"
)

// keepaliveTick and keepaliveTicksPerSend record the original's coarse
// cadence (100ms * 150 == 15s). The worker does not poll at keepaliveTick:
// it waits on a single ticker at KeepaliveInterval instead of literally
// counting ticks (see DESIGN.md note on keepalive granularity for why this
// is equivalent).
const (
	keepaliveTick         = 100 * time.Millisecond
	keepaliveTicksPerSend = 150
	KeepaliveInterval     = keepaliveTick * keepaliveTicksPerSend
)

// startKeepalive spawns the background worker. It must only be called once,
// immediately after a successful Open.
func (c *Client) startKeepalive() {
	c.keepalive.stopRequested.Store(false)
	c.keepalive.stopCh = make(chan struct{})
	c.keepalive.doneCh = make(chan struct{})
	c.keepalive.running.Store(true)

	go func() {
		defer close(c.keepalive.doneCh)
		defer c.keepalive.running.Store(false)

		ticker := time.NewTicker(KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.keepalive.stopCh:
				return
			case <-ticker.C:
				if c.keepalive.stopRequested.Load() {
					return
				}
				// A failed KeepAlive never stops the worker; only a
				// lifecycle signal does.
				ctx, cancel := context.WithTimeout(context.Background(), KeepaliveInterval)
				if err := c.submitHeaderOnly(ctx, wire.KeepAliveReq, wire.KeepAliveRsp); err != nil {
					c.cfg.logger().WithError(err).Debug("leechrpc: keepalive tick failed")
				}
				cancel()
			}
		}
	}()
}

// stopKeepalive signals the worker to stop and blocks until it has
// quiesced, so Close can guarantee no KeepAlive races with transport
// teardown.
func (c *Client) stopKeepalive() {
	if c.keepalive.stopCh == nil {
		return // never started
	}
	c.keepalive.stopRequested.Store(true)
	select {
	case <-c.keepalive.doneCh:
	default:
		close(c.keepalive.stopCh)
		<-c.keepalive.doneCh
	}
}
