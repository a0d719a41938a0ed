// Package compress implements the compression adapter seam described by
// the protocol: an opaque encode/decode step applied to BinBody payloads,
// negotiated independently by each side of a session.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/s2"

	"go.leechcore.dev/leechrpc/wire"
)

// Codec is the compression adapter interface. A concrete Codec is a local
// collaborator of the request engine; the wire format only ever carries
// the encoded bytes plus the CbDecompressed size hint.
type Codec interface {
	// EncodeInPlace mutates msg: either it is left untouched (and
	// CbDecompressed must be left at 0, meaning the payload travels
	// plain) or Pb/Cb are replaced with a shorter encoding and
	// CbDecompressed is set to the pre-encoding size.
	EncodeInPlace(msg *wire.BinBody, disable bool) error

	// Decode returns a freshly built BinBody whose Pb is the decoded
	// payload and whose Cb equals msg.CbDecompressed. Decode must not be
	// called unless msg.CbDecompressed > 0.
	Decode(msg wire.BinBody) (wire.BinBody, error)
}

// S2Codec implements Codec with klauspost/compress's s2 block format. The
// adapter compares the s2 encoding's length with the input's; when the
// encoding is not shorter (or disable is set) it leaves the payload plain,
// which is exactly
// the "no compression possible" flag the protocol models with
// CbDecompressed == 0.
type S2Codec struct{}

var _ Codec = S2Codec{}

func (S2Codec) EncodeInPlace(msg *wire.BinBody, disable bool) error {
	if disable || len(msg.Pb) == 0 {
		msg.CbDecompressed = 0
		return nil
	}
	encoded := s2.Encode(nil, msg.Pb)
	if len(encoded) >= len(msg.Pb) {
		// Not worth it: store uncompressed.
		msg.CbDecompressed = 0
		return nil
	}
	msg.CbDecompressed = msg.Cb
	msg.Pb = encoded
	msg.Cb = uint32(len(encoded))
	return nil
}

func (S2Codec) Decode(msg wire.BinBody) (wire.BinBody, error) {
	if msg.CbDecompressed == 0 {
		return msg, nil
	}
	decoded, err := s2.Decode(nil, msg.Pb)
	if err != nil {
		return wire.BinBody{}, fmt.Errorf("compress: s2 decode: %w", err)
	}
	if uint32(len(decoded)) != msg.CbDecompressed {
		return wire.BinBody{}, fmt.Errorf("compress: decoded size %d != expected %d", len(decoded), msg.CbDecompressed)
	}
	out := msg
	out.Pb = decoded
	out.Cb = msg.CbDecompressed
	out.CbDecompressed = 0
	return out, nil
}

// Negotiate computes the effective session-wide compression flag: the
// logical AND of the locally-desired setting, successful local
// initialization, and the remote side not having reported itself disabled.
func Negotiate(localDesired, localInitOK, remoteDisabled bool) bool {
	return localDesired && localInitOK && !remoteDisabled
}
