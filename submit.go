package leechrpc

import (
	"context"
	"fmt"

	"go.leechcore.dev/leechrpc/wire"
)

// buildHeader stamps magic, ok, the session clientID, and the compression
// flag into a fresh request header (submit step 1).
func (c *Client) buildHeader(kind wire.MessageKind, length uint32) wire.Header {
	flags := uint32(0)
	if !c.compressOn {
		flags = wire.FlagNoCompress
	}
	return wire.Header{Magic: wire.Magic, Kind: kind, Length: length, ClientID: c.clientID, Flags: flags, Ok: 1}
}

// validateEnvelope implements submit step 4: the response-envelope checks
// common to every kind, regardless of transport.
func validateEnvelope(h wire.Header, respLen int, expected wire.MessageKind) error {
	if h.Length != uint32(respLen) {
		return fmt.Errorf("%w: length %d != bytes received %d", ErrProtocol, h.Length, respLen)
	}
	if h.Magic != wire.Magic {
		return fmt.Errorf("%w: bad magic", ErrProtocol)
	}
	if uint32(h.Kind) > uint32(wire.MaxKind) {
		return fmt.Errorf("%w: kind %v exceeds MaxKind", ErrProtocol, h.Kind)
	}
	if h.Length >= wire.EngineMax {
		return fmt.Errorf("%w: length %d exceeds engine bound", ErrProtocol, h.Length)
	}
	if h.Ok == 0 {
		return fmt.Errorf("%w: response ok bit is false", ErrProtocol)
	}
	if h.Kind != expected {
		return fmt.Errorf("%w: got kind %v, expected %v", ErrProtocol, h.Kind, expected)
	}
	return nil
}

// isKnownKind rejects a request kind outside the enumeration before
// anything is sent (submit's tie-break for malformed kinds).
func isKnownKind(k wire.MessageKind) bool {
	return uint32(k) <= uint32(wire.MaxKind)
}

// submitHeaderOnly issues a fixed-header-only request (Ping, Close,
// KeepAlive) and validates a fixed-header-only response.
func (c *Client) submitHeaderOnly(ctx context.Context, kind, expected wire.MessageKind) (err error) {
	defer wrapErr(&err, "submit")
	if !isKnownKind(kind) {
		return ErrUnknownKind
	}
	req := make([]byte, wire.HeaderSize)
	wire.PutHeader(req, c.buildHeader(kind, wire.HeaderSize))

	resp, err := c.sendRecv(ctx, req)
	if err != nil {
		return err
	}
	if len(resp) != wire.HeaderSize {
		return fmt.Errorf("%w: expected header-only response of %d bytes, got %d", ErrProtocol, wire.HeaderSize, len(resp))
	}
	h := wire.GetHeader(resp)
	return validateEnvelope(h, len(resp), expected)
}

// submitDataRequestHeaderOnly issues a DataBody request carrying qw (SetOption)
// and validates a fixed-header-only response, matching the original's
// LEECHRPC_MSGTYPE_SETOPTION_RSP grouping with Ping/Close/KeepAlive: the
// reply never carries a DataBody, so there is nothing to decode.
func (c *Client) submitDataRequestHeaderOnly(ctx context.Context, kind, expected wire.MessageKind, qw [8]uint64) (err error) {
	defer wrapErr(&err, "submit")
	if !isKnownKind(kind) {
		return ErrUnknownKind
	}
	body := wire.DataBody{Header: c.buildHeader(kind, wire.DataBodySize), QwData: qw}
	resp, err := c.sendRecv(ctx, body.Encode())
	if err != nil {
		return err
	}
	if len(resp) != wire.HeaderSize {
		return fmt.Errorf("%w: expected header-only response of %d bytes, got %d", ErrProtocol, wire.HeaderSize, len(resp))
	}
	h := wire.GetHeader(resp)
	return validateEnvelope(h, len(resp), expected)
}

// submitDataBody issues a DataBody request (GetOption) and returns the
// validated DataBody response.
func (c *Client) submitDataBody(ctx context.Context, kind, expected wire.MessageKind, qw [8]uint64) (out wire.DataBody, err error) {
	defer wrapErr(&err, "submit")
	if !isKnownKind(kind) {
		return wire.DataBody{}, ErrUnknownKind
	}
	body := wire.DataBody{Header: c.buildHeader(kind, wire.DataBodySize), QwData: qw}
	resp, err := c.sendRecv(ctx, body.Encode())
	if err != nil {
		return wire.DataBody{}, err
	}
	if len(resp) != wire.DataBodySize {
		return wire.DataBody{}, fmt.Errorf("%w: expected DataBody response of %d bytes, got %d", ErrProtocol, wire.DataBodySize, len(resp))
	}
	out, err = wire.DecodeDataBody(resp)
	if err != nil {
		return wire.DataBody{}, err
	}
	if err = validateEnvelope(out.Header, len(resp), expected); err != nil {
		return wire.DataBody{}, err
	}
	return out, nil
}

// submitBinBody issues a BinBody request (ReadScatter/WriteScatter/Command)
// with optional compression, and returns the validated, decompressed
// response.
func (c *Client) submitBinBody(ctx context.Context, kind, expected wire.MessageKind, qw [8]uint64, payload []byte) (out wire.BinBody, err error) {
	defer wrapErr(&err, "submit")
	if !isKnownKind(kind) {
		return wire.BinBody{}, ErrUnknownKind
	}

	body := wire.BinBody{Cb: uint32(len(payload)), QwData: qw, Pb: payload}
	if err = c.codec.EncodeInPlace(&body, !c.compressOn); err != nil {
		return wire.BinBody{}, err
	}
	body.Header = c.buildHeader(kind, uint32(wire.BinBodyFixedSize)+uint32(len(body.Pb)))

	resp, err := c.sendRecv(ctx, body.Encode())
	if err != nil {
		return wire.BinBody{}, err
	}
	if len(resp) < wire.BinBodyFixedSize {
		return wire.BinBody{}, fmt.Errorf("%w: response shorter than BinBody fixed size", ErrProtocol)
	}
	out, err = wire.DecodeBinBody(resp)
	if err != nil {
		return wire.BinBody{}, err
	}
	wantLen := wire.BinBodyFixedSize + int(out.Cb)
	if len(resp) != wantLen {
		return wire.BinBody{}, fmt.Errorf("%w: cb %d inconsistent with response length %d", ErrProtocol, out.Cb, len(resp))
	}
	if err = validateEnvelope(out.Header, len(resp), expected); err != nil {
		return wire.BinBody{}, err
	}
	if out.CbDecompressed > 0 {
		out, err = c.codec.Decode(out)
		if err != nil {
			return wire.BinBody{}, err
		}
	}
	return out, nil
}
