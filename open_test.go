package leechrpc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"go.leechcore.dev/leechrpc/wire"
)

// pipePair wires up a client-facing pipe:// URI backed by two os.Pipe()
// pairs, and runs handle in a goroutine as the server side: handle is
// invoked once per full received message and returns the raw response
// bytes to write back.
func pipePair(t *testing.T, handle func(h wire.Header, body []byte) []byte) string {
	t.Helper()
	clientRead, serverWrite, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	serverRead, clientWrite, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		for {
			hdrBuf := make([]byte, wire.HeaderSize)
			if _, err := readAllFrom(serverRead, hdrBuf); err != nil {
				return
			}
			h := wire.GetHeader(hdrBuf)
			rest := make([]byte, 0)
			if h.Length > wire.HeaderSize {
				rest = make([]byte, h.Length-wire.HeaderSize)
				if _, err := readAllFrom(serverRead, rest); err != nil {
					return
				}
			}
			resp := handle(h, rest)
			if resp == nil {
				return
			}
			if _, err := serverWrite.Write(resp); err != nil {
				return
			}
		}
	}()

	uri := fmt.Sprintf("pipe://%d:%d", clientRead.Fd(), clientWrite.Fd())
	return uri
}

func readAllFrom(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func openRspBytes(clientID uint32, validOpen uint32, cfg wire.ConfigWire, errInfo []byte) []byte {
	b := wire.OpenBody{
		Header:    wire.Header{Magic: wire.Magic, Kind: wire.OpenRsp, ClientID: clientID, Ok: 1},
		Config:    cfg,
		ValidOpen: validOpen,
		ErrorInfo: errInfo,
	}
	b.Header.Length = uint32(wire.OpenBodyFixedSize + len(errInfo))
	return b.Encode()
}

// TestOpenPingSuccess is scenario S1, over the pipe transport.
func TestOpenPingSuccess(t *testing.T) {
	uri := pipePair(t, func(h wire.Header, body []byte) []byte {
		switch h.Kind {
		case wire.PingReq:
			resp := make([]byte, wire.HeaderSize)
			wire.PutHeader(resp, wire.Header{Magic: wire.Magic, Kind: wire.PingRsp, Length: wire.HeaderSize, Ok: 1})
			return resp
		case wire.OpenReq:
			return openRspBytes(h.ClientID, 1, wire.ConfigWire{Version: wire.ConfigVersion}, nil)
		case wire.CloseReq:
			resp := make([]byte, wire.HeaderSize)
			wire.PutHeader(resp, wire.Header{Magic: wire.Magic, Kind: wire.CloseRsp, Length: wire.HeaderSize, Ok: 1})
			return resp
		}
		return nil
	})

	c, err := Open(context.Background(), uri, Config{DeviceName: "test0"})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// TestOpenFailureWithErrorInfo is scenario S6.
func TestOpenFailureWithErrorInfo(t *testing.T) {
	text := "Hello"
	u16 := make([]byte, (len(text)+1)*2)
	for i, r := range text {
		u16[i*2] = byte(r)
	}
	errInfo := make([]byte, wire.ErrorInfoWireFixedSize+len(u16))
	errInfo[0] = byte(wire.ErrorInfoVersion)
	errInfo[4] = byte(len(text))
	copy(errInfo[wire.ErrorInfoWireFixedSize:], u16)

	uri := pipePair(t, func(h wire.Header, body []byte) []byte {
		switch h.Kind {
		case wire.PingReq:
			resp := make([]byte, wire.HeaderSize)
			wire.PutHeader(resp, wire.Header{Magic: wire.Magic, Kind: wire.PingRsp, Length: wire.HeaderSize, Ok: 1})
			return resp
		case wire.OpenReq:
			return openRspBytes(h.ClientID, 0, wire.ConfigWire{}, errInfo)
		}
		return nil
	})

	_, err := Open(context.Background(), uri, Config{DeviceName: "test0"})
	if err == nil {
		t.Fatal("expected Open to fail")
	}
	var ei ErrorInfo
	if !errors.As(err, &ei) {
		t.Fatalf("expected ErrorInfo in error chain, got %T: %v", err, err)
	}
	if ei.UserText != "Hello" {
		t.Fatalf("got UserText %q, want %q", ei.UserText, "Hello")
	}
}
