// Package leechrpc is a client-side protocol engine for a remote-memory-
// access service: it speaks a length-prefixed binary protocol over either
// a paired-pipe or an authenticated secure-RPC transport, correlates
// requests with responses, optionally compresses payloads, chunks scatter
// I/O, validates untrusted VFS responses, and runs a background keepalive
// loop bounded by the session's lifecycle.
package leechrpc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.leechcore.dev/leechrpc/compress"
	"go.leechcore.dev/leechrpc/scatter"
	"go.leechcore.dev/leechrpc/transport"
)

// Client is a device context: one open session bound to exactly one
// transport, never shared across opens.
type Client struct {
	cfg Config

	tr    transport.Transport
	codec compress.Codec

	clientID   uint32
	compressOn bool
	addrValid  scatter.AddressValidator

	// mu serializes transport calls (sendRecv) on transports that are not
	// declared multi-thread-safe (Pipe). Codec calls in submitBinBody run
	// outside mu; the default S2Codec keeps no state between calls.
	mu sync.Mutex

	keepalive keepaliveState
	closed    atomic.Bool
}

type keepaliveState struct {
	stopRequested atomic.Bool
	running       atomic.Bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// newClient wires a freshly dialed transport into a Client; it does not
// perform the Open handshake (see Open).
func newClient(tr transport.Transport, cfg Config) *Client {
	c := &Client{
		tr:        tr,
		codec:     compress.S2Codec{},
		cfg:       cfg,
		addrValid: scatter.AcceptAll,
	}
	c.keepalive.stopRequested.Store(true)
	return c
}

// lockIfSerial acquires mu only when the transport requires callers to
// serialize themselves (Pipe); SecureRPC's per-call stream already
// guarantees non-interleaving, so concurrent callers proceed without
// contention there.
func (c *Client) lockIfSerial() (unlock func()) {
	if c.tr.MultiThreadSafe() {
		return func() {}
	}
	c.mu.Lock()
	return c.mu.Unlock
}

func (c *Client) sendRecv(ctx context.Context, req []byte) ([]byte, error) {
	unlock := c.lockIfSerial()
	defer unlock()
	return c.tr.SendRecv(ctx, req)
}
