package leechrpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"lukechampine.com/frand"

	"go.leechcore.dev/leechrpc/compress"
	"go.leechcore.dev/leechrpc/transport"
	"go.leechcore.dev/leechrpc/wire"
)

// existingRemotePrefix and its rewrite mirror the original's exact index
// arithmetic (§9(b)): a device name beginning with "existingremote" has the
// six-character substring "remote" dropped, starting at offset 8, leaving
// "existing" + whatever followed — not a generic string replace.
const existingRemotePrefix = "existingremote"

func rewriteExistingRemote(name string) string {
	if !strings.HasPrefix(name, existingRemotePrefix) {
		return name
	}
	return "existing" + name[len(existingRemotePrefix):]
}

// dialTransport selects and initializes the transport named by uri's
// scheme: "rpc://SPN:HOST[:opts]" or "pipe://READ:WRITE".
func dialTransport(ctx context.Context, uri string) (transport.Transport, bool, error) {
	switch {
	case strings.HasPrefix(uri, "rpc://"):
		spn, host, opts, err := transport.ParseRPCURI(strings.TrimPrefix(uri, "rpc://"))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrBadURI, err)
		}
		tr, err := transport.DialSecureRPC(ctx, host, opts.Port, spn)
		if err != nil {
			return nil, false, err
		}
		return tr, opts.NoCompress, nil

	case strings.HasPrefix(uri, "pipe://"):
		readFd, writeFd, err := transport.ParsePipeURI(strings.TrimPrefix(uri, "pipe://"))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrBadURI, err)
		}
		r := os.NewFile(uintptr(readFd), "leechrpc-pipe-read")
		w := os.NewFile(uintptr(writeFd), "leechrpc-pipe-write")
		return transport.NewPipe(r, w), false, nil

	default:
		return nil, false, fmt.Errorf("%w: unrecognized scheme in %q", ErrBadURI, uri)
	}
}

// Open performs the full session handshake described by §4.8: transport
// initialization, a Ping probe, the existingremote device-name rewrite,
// compression negotiation, a random client identifier, the OpenReq/OpenRsp
// exchange (including error-info extraction on failure), and spawning the
// keepalive worker. uri is the remote descriptor (rpc:// or pipe://); cfg
// is the local configuration, copied and merged with the server's reply.
func Open(ctx context.Context, uri string, cfg Config) (_ *Client, err error) {
	defer wrapErr(&err, "Open")

	cfg.DeviceName = rewriteExistingRemote(cfg.DeviceName)
	cfg.RemoteURI = uri

	tr, uriNoCompress, err := dialTransport(ctx, uri)
	if err != nil {
		return nil, err
	}
	if uriNoCompress {
		cfg.Compress = false
	}

	c := newClient(tr, cfg)

	if err = c.submitHeaderOnly(ctx, wire.PingReq, wire.PingRsp); err != nil {
		tr.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	// Compression initialization: the codec itself never fails to
	// construct, so localInitOK is always true; the seam exists so a
	// future Codec implementation with real init cost can report failure
	// and force fCompress = false, per §4.3.
	const localInitOK = true
	desiredCompress := cfg.Compress && localInitOK

	c.clientID = binary.LittleEndian.Uint32(frand.Bytes(4))

	reqCfg := cfg.toWireConfig()
	if desiredCompress {
		reqCfg.FCompress = 1
	}
	reqBody := wire.OpenBody{
		Header: c.buildHeader(wire.OpenReq, uint32(wire.OpenBodyFixedSize)),
		Config: reqCfg,
	}

	respBuf, err := c.sendRecv(ctx, reqBody.Encode())
	if err != nil {
		tr.Close()
		return nil, err
	}
	resp, err := wire.DecodeOpenBody(respBuf)
	if err != nil {
		tr.Close()
		return nil, err
	}
	if err = checkOpenEnvelope(resp.Header, len(respBuf)); err != nil {
		tr.Close()
		return nil, err
	}

	if resp.ValidOpen == 0 {
		tr.Close()
		if len(resp.ErrorInfo) > 0 {
			if ei, eiErr := wire.DecodeErrorInfoWire(resp.ErrorInfo); eiErr == nil && ei.DwVersion == wire.ErrorInfoVersion {
				return nil, errorInfoFromWire(ei)
			}
		}
		return nil, fmt.Errorf("%w: open rejected", ErrProtocol)
	}

	if resp.Config.Version != wire.ConfigVersion {
		tr.Close()
		return nil, fmt.Errorf("%w: unexpected config version %d", ErrProtocol, resp.Config.Version)
	}

	remoteDisabled := resp.Config.FCompress == 0
	c.cfg.mergeRemoteConfig(resp.Config)
	c.compressOn = compress.Negotiate(desiredCompress, localInitOK, remoteDisabled)

	c.startKeepalive()
	return c, nil
}

// checkOpenEnvelope validates the parts of the OpenRsp envelope that apply
// unconditionally, before inspecting ValidOpen/error-info (Open's
// documented exception to the normal "ok == false ⇒ immediate failure"
// rule).
func checkOpenEnvelope(h wire.Header, respLen int) error {
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
	if h.Kind != wire.OpenRsp {
		return fmt.Errorf("%w: got kind %v, expected OpenRsp", ErrProtocol, h.Kind)
	}
	if respLen < wire.OpenBodyFixedSize {
		return fmt.Errorf("%w: response shorter than OpenBody fixed size", ErrProtocol)
	}
	return nil
}
