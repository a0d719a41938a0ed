package compress

import (
	"bytes"
	"testing"

	"lukechampine.com/frand"

	"go.leechcore.dev/leechrpc/wire"
)

func TestS2CodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("leechrpc"), 512) // compressible
	msg := wire.BinBody{Cb: uint32(len(payload)), Pb: payload}

	var c S2Codec
	if err := c.EncodeInPlace(&msg, false); err != nil {
		t.Fatal(err)
	}
	if msg.CbDecompressed == 0 {
		t.Fatal("expected payload to compress")
	}
	if uint32(len(msg.Pb)) != msg.Cb {
		t.Fatalf("Cb mismatch after encode: %d vs %d", msg.Cb, len(msg.Pb))
	}

	decoded, err := c.Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Pb, payload) {
		t.Fatal("round-trip payload mismatch")
	}
	if decoded.CbDecompressed != 0 {
		t.Fatalf("expected CbDecompressed == 0 on decoded message, got %d", decoded.CbDecompressed)
	}
}

func TestS2CodecDisabledLeavesPlain(t *testing.T) {
	payload := frand.Bytes(256)
	msg := wire.BinBody{Cb: uint32(len(payload)), Pb: payload}

	var c S2Codec
	if err := c.EncodeInPlace(&msg, true); err != nil {
		t.Fatal(err)
	}
	if msg.CbDecompressed != 0 {
		t.Fatal("disabled encode must leave CbDecompressed == 0")
	}
	if !bytes.Equal(msg.Pb, payload) {
		t.Fatal("disabled encode must not mutate payload")
	}
}

func TestS2CodecIncompressibleStaysPlain(t *testing.T) {
	payload := frand.Bytes(256) // random, won't shrink
	msg := wire.BinBody{Cb: uint32(len(payload)), Pb: payload}

	var c S2Codec
	if err := c.EncodeInPlace(&msg, false); err != nil {
		t.Fatal(err)
	}
	if msg.CbDecompressed != 0 {
		t.Fatal("incompressible payload must fall back to plain (CbDecompressed == 0)")
	}
}

func TestNegotiate(t *testing.T) {
	cases := []struct {
		local, initOK, remoteDisabled, want bool
	}{
		{true, true, false, true},
		{true, true, true, false},
		{true, false, false, false},
		{false, true, false, false},
	}
	for _, c := range cases {
		if got := Negotiate(c.local, c.initOK, c.remoteDisabled); got != c.want {
			t.Errorf("Negotiate(%v,%v,%v) = %v, want %v", c.local, c.initOK, c.remoteDisabled, got, c.want)
		}
	}
}
