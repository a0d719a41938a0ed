package leechrpc

import (
	"bytes"
	"context"
	"testing"

	"go.leechcore.dev/leechrpc/compress"
	"go.leechcore.dev/leechrpc/scatter"
	"go.leechcore.dev/leechrpc/vfs"
	"go.leechcore.dev/leechrpc/wire"
)

// fakeTransport lets tests drive the request engine without a real pipe or
// socket: handle receives the raw request bytes and returns raw response
// bytes, exactly like a transport.Transport.
type fakeTransport struct {
	handle    func(req []byte) ([]byte, error)
	maxLen    uint32
	multiSafe bool
	closed    bool
}

func (f *fakeTransport) SendRecv(ctx context.Context, req []byte) ([]byte, error) {
	return f.handle(req)
}
func (f *fakeTransport) MaxResponseLen() uint32 { return f.maxLen }
func (f *fakeTransport) MultiThreadSafe() bool  { return f.multiSafe }
func (f *fakeTransport) Close() error           { f.closed = true; return nil }

func newTestClient(t *testing.T, handle func(req []byte) ([]byte, error)) *Client {
	t.Helper()
	tr := &fakeTransport{handle: handle, maxLen: wire.EngineMax}
	c := newClient(tr, Config{})
	c.clientID = 0x1234
	return c
}

// respondHeaderOnly builds a minimal well-formed header-only response for
// kind, echoing the request's clientID.
func respondHeaderOnly(req []byte, kind wire.MessageKind) []byte {
	h := wire.GetHeader(req)
	resp := make([]byte, wire.HeaderSize)
	wire.PutHeader(resp, wire.Header{Magic: wire.Magic, Kind: kind, Length: wire.HeaderSize, ClientID: h.ClientID, Ok: 1})
	return resp
}

func TestPingSuccess(t *testing.T) {
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		return respondHeaderOnly(req, wire.PingRsp), nil
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestGetOptionSetOption(t *testing.T) {
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		body, err := wire.DecodeDataBody(req)
		if err != nil {
			return nil, err
		}
		switch body.Kind {
		case wire.GetOptionReq:
			out := wire.DataBody{Header: wire.Header{Magic: wire.Magic, Kind: wire.GetOptionRsp, Length: wire.DataBodySize, Ok: 1}}
			out.QwData[0] = 0xcafef00d
			return out.Encode(), nil
		case wire.SetOptionReq:
			// A conformant server replies to SetOptionReq with a bare
			// header, grouped with Ping/Close/KeepAlive.
			return respondHeaderOnly(req, wire.SetOptionRsp), nil
		}
		return nil, ErrUnknownKind
	})

	v, err := c.GetOption(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xcafef00d {
		t.Fatalf("got %x, want 0xcafef00d", v)
	}

	ok, err := c.SetOption(context.Background(), 7, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected SetOption to report success")
	}
}

// TestReadScatterOnePage is scenario S2.
func TestReadScatterOnePage(t *testing.T) {
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		body, err := wire.DecodeBinBody(req)
		if err != nil {
			return nil, err
		}
		d := make([]byte, wire.MemScatterWireSize)
		wire.PutMemScatter(d, wire.MemScatter{Version: wire.MemScatterVersion, Address: 0x1000, Length: 4096, Done: 1})
		data := bytes.Repeat([]byte{0xCC}, 4096)
		payload := append(d, data...)
		out := wire.BinBody{
			Header: wire.Header{Magic: wire.Magic, Kind: wire.ReadScatterRsp, Ok: 1},
			Cb:     uint32(len(payload)),
			Pb:     payload,
		}
		out.QwData[0] = body.QwData[0]
		out.Header.Length = uint32(wire.BinBodyFixedSize + len(payload))
		return out.Encode(), nil
	})

	entries := []scatter.Entry{{Address: 0x1000, Length: 4096}}
	if err := c.ReadScatter(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
	if !entries[0].Done {
		t.Fatal("expected entry to be marked done")
	}
	if !bytes.Equal(entries[0].Buffer, bytes.Repeat([]byte{0xCC}, 4096)) {
		t.Fatal("buffer not filled as expected")
	}
}

// TestWriteScatterPartialSuccess is scenario S3: a descriptor with an
// oversized length is rejected before send, and all descriptors in that
// chunk stay Done == false.
func TestWriteScatterPartialSuccess(t *testing.T) {
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		t.Fatal("transport must not be called when a chunk is rejected before send")
		return nil, nil
	})

	entries := []scatter.Entry{
		{Address: 0x1000, Length: 4096, Buffer: make([]byte, 4096)},
		{Address: 0x2000, Length: 4097, Buffer: make([]byte, 4097)},
		{Address: 0x3000, Length: 4096, Buffer: make([]byte, 4096)},
	}
	if err := c.WriteScatter(context.Background(), entries); err != nil {
		t.Fatal(err)
	}
	for i, e := range entries {
		if e.Done {
			t.Fatalf("entry %d: expected Done == false after chunk rejection", i)
		}
	}
}

// TestCompressedRead is scenario S4.
func TestCompressedRead(t *testing.T) {
	codec := compress.S2Codec{}
	original := bytes.Repeat([]byte("x"), 4096)
	compressed := wire.BinBody{Cb: uint32(len(original)), Pb: original}
	if err := codec.EncodeInPlace(&compressed, false); err != nil {
		t.Fatal(err)
	}
	if compressed.CbDecompressed == 0 {
		t.Fatal("expected compressible fixture to actually compress")
	}

	c := newTestClient(t, func(req []byte) ([]byte, error) {
		out := compressed
		out.Header = wire.Header{Magic: wire.Magic, Kind: wire.CommandRsp, Ok: 1}
		out.Header.Length = uint32(wire.BinBodyFixedSize + len(out.Pb))
		return out.Encode(), nil
	})
	c.compressOn = true

	resp, err := c.Command(context.Background(), 0x99, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp, original) {
		t.Fatal("decompressed response does not match original payload")
	}
}

// TestCommandVfsListHostile is scenario S5.
func TestCommandVfsListHostile(t *testing.T) {
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		// AgentVfsRsp header plus a FileListBlob with cbMultiText == 0.
		inner := make([]byte, 24)
		inner[0] = 24  // cbStruct
		inner[4] = 1   // dwVersion
		inner[12] = 0  // cbMultiText == 0 -> hostile
		rsp := make([]byte, 16+len(inner))
		rsp[0] = 1 // AgentVfsRsp.DwVersion
		copy(rsp[16:], inner)

		out := wire.BinBody{
			Header: wire.Header{Magic: wire.Magic, Kind: wire.CommandRsp, Ok: 1},
			Cb:     uint32(len(rsp)),
			Pb:     rsp,
		}
		out.Header.Length = uint32(wire.BinBodyFixedSize + len(rsp))
		return out.Encode(), nil
	})

	if _, err := c.Command(context.Background(), uint64(vfs.CmdVfsList), nil); err == nil {
		t.Fatal("expected hostile VFS_LIST response to be rejected")
	}
}

func TestCloseIdempotent(t *testing.T) {
	var closeCount int
	c := newTestClient(t, func(req []byte) ([]byte, error) {
		h := wire.GetHeader(req)
		if h.Kind == wire.CloseReq {
			closeCount++
		}
		return respondHeaderOnly(req, wire.CloseRsp), nil
	})
	c.startKeepalive()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if closeCount != 1 {
		t.Fatalf("expected exactly one CloseReq, got %d", closeCount)
	}
}
