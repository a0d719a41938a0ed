package transport

import (
	"context"
	"os"
	"testing"

	"go.leechcore.dev/leechrpc/wire"
)

// serverEcho spawns a goroutine that reads one request header off r and
// writes back a minimal well-formed header-only response of the given kind
// on w.
func serverEcho(t *testing.T, r, w *os.File, kind wire.MessageKind) {
	t.Helper()
	go func() {
		hdr := make([]byte, wire.HeaderSize)
		if _, err := r.Read(hdr); err != nil {
			return
		}
		resp := make([]byte, wire.HeaderSize)
		wire.PutHeader(resp, wire.Header{Magic: wire.Magic, Kind: kind, Length: wire.HeaderSize, Ok: 1})
		w.Write(resp)
	}()
}

func TestPipeSendRecv(t *testing.T) {
	clientR, serverW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	serverR, clientW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer clientR.Close()
	defer clientW.Close()

	serverEcho(t, serverR, serverW, wire.PingRsp)

	p := NewPipe(clientR, clientW)
	req := make([]byte, wire.HeaderSize)
	wire.PutHeader(req, wire.Header{Magic: wire.Magic, Kind: wire.PingReq, Length: wire.HeaderSize, Ok: 1})

	resp, err := p.SendRecv(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	h := wire.GetHeader(resp)
	if h.Kind != wire.PingRsp || h.Magic != wire.Magic {
		t.Fatalf("unexpected response header: %+v", h)
	}
}

func TestPipeSendRecvBreaksOnEOF(t *testing.T) {
	clientR, serverW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	_, clientW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	serverW.Close() // immediate EOF on the read side

	p := NewPipe(clientR, clientW)
	req := make([]byte, wire.HeaderSize)
	wire.PutHeader(req, wire.Header{Magic: wire.Magic, Kind: wire.PingReq, Length: wire.HeaderSize})

	if _, err := p.SendRecv(context.Background(), req); err == nil {
		t.Fatal("expected error on premature EOF")
	}
	if !p.broken {
		t.Fatal("expected pipe to be marked broken")
	}
}

func TestParsePipeURI(t *testing.T) {
	r, w, err := ParsePipeURI("3:4")
	if err != nil || r != 3 || w != 4 {
		t.Fatalf("got (%d, %d, %v), want (3, 4, nil)", r, w, err)
	}
	if _, _, err := ParsePipeURI("bogus"); err == nil {
		t.Fatal("expected error on malformed URI")
	}
}
