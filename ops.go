package leechrpc

import (
	"context"
	"fmt"

	"go.leechcore.dev/leechrpc/scatter"
	"go.leechcore.dev/leechrpc/vfs"
	"go.leechcore.dev/leechrpc/wire"
)

// Ping issues a PingReq and reports whether the remote answered
// successfully. Open already performs one Ping as part of the handshake;
// this is the host-exposed explicit form.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.submitHeaderOnly(ctx, wire.PingReq, wire.PingRsp)
}

// GetOption fetches a single u64-valued option.
func (c *Client) GetOption(ctx context.Context, key uint64) (uint64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	var qw [8]uint64
	qw[0] = key
	resp, err := c.submitDataBody(ctx, wire.GetOptionReq, wire.GetOptionRsp, qw)
	if err != nil {
		return 0, err
	}
	return resp.QwData[0], nil
}

// SetOption sets a single u64-valued option. The response carries no value
// (it is header-only, like Ping/Close/KeepAlive); the returned bool reports
// whether submit itself succeeded, not a field of the response body.
func (c *Client) SetOption(ctx context.Context, key, value uint64) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	var qw [8]uint64
	qw[0], qw[1] = key, value
	if err := c.submitDataRequestHeaderOnly(ctx, wire.SetOptionReq, wire.SetOptionRsp, qw); err != nil {
		return false, err
	}
	return true, nil
}

// ReadScatter fills in entries' Buffer and Done fields in place, chunking
// internally at scatter.ChunkSize descriptors per round trip. Failures
// within one chunk (including transport and framing failures) never abort
// subsequent chunks and leave that chunk's Done bits as they were; the
// returned error is only non-nil when the client is already closed.
func (c *Client) ReadScatter(ctx context.Context, entries []scatter.Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	for _, chunk := range scatter.Chunks(entries) {
		payload, pending, totalCb, err := scatter.BuildReadRequest(chunk, c.addrValid)
		if err != nil {
			continue // malformed descriptor in this chunk: skip it, try the next
		}
		var qw [8]uint64
		qw[0] = uint64(len(pending))
		qw[1] = totalCb
		resp, err := c.submitBinBody(ctx, wire.ReadScatterReq, wire.ReadScatterRsp, qw, payload)
		if err != nil {
			continue
		}
		if resp.QwData[0] != uint64(len(pending)) {
			continue
		}
		minCb := uint32(len(pending)) * wire.MemScatterWireSize
		if resp.Cb < minCb {
			continue
		}
		if err := scatter.ApplyReadResponse(chunk, pending, resp.Pb); err != nil {
			continue
		}
	}
	return nil
}

// WriteScatter writes entries' Buffer contents, chunking internally and
// updating Done in place.
func (c *Client) WriteScatter(ctx context.Context, entries []scatter.Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	for _, chunk := range scatter.Chunks(entries) {
		payload, err := scatter.BuildWriteRequest(chunk)
		if err != nil {
			continue // an oversized descriptor in this chunk: reject before send
		}
		var qw [8]uint64
		qw[0] = uint64(len(chunk))
		resp, err := c.submitBinBody(ctx, wire.WriteScatterReq, wire.WriteScatterRsp, qw, payload)
		if err != nil {
			continue
		}
		if err := scatter.ApplyWriteResponse(chunk, resp.Pb); err != nil {
			continue
		}
	}
	return nil
}

// VFS command identifiers recognized by Command for response validation.
const (
	CmdVfsList  = vfs.CmdVfsList
	CmdVfsRead  = vfs.CmdVfsRead
	CmdVfsWrite = vfs.CmdVfsWrite
)

// Command issues an arbitrary agent command. When cmd is one of the VFS
// subcommands, the response is additionally validated by vfs.Verify before
// being returned to the caller; a validation failure is reported as an
// error and the response is discarded.
func (c *Client) Command(ctx context.Context, cmd uint64, input []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	var qw [8]uint64
	qw[0] = cmd
	resp, err := c.submitBinBody(ctx, wire.CommandReq, wire.CommandRsp, qw, input)
	if err != nil {
		return nil, err
	}
	switch cmd {
	case CmdVfsList, CmdVfsRead, CmdVfsWrite:
		if _, _, verr := vfs.Verify(uint32(cmd), resp.Pb); verr != nil {
			return nil, fmt.Errorf("%w: vfs validation: %v", ErrProtocol, verr)
		}
	}
	return resp.Pb, nil
}
