// Package scatter implements the chunked scatter I/O operations: splitting
// arbitrarily large descriptor lists into bounded chunks and reconciling
// each chunk's response back onto the caller's descriptors by address.
package scatter

import (
	"go.leechcore.dev/leechrpc/wire"
)

// ChunkSize is the maximum number of descriptors processed in a single
// transport round trip.
const ChunkSize = wire.MemScatterMaxLen

// Entry is the caller-owned scatter descriptor: an in/out parameter updated
// in place by ReadScatter/WriteScatter.
type Entry struct {
	Address uint64
	Length  uint32
	Flags   uint32
	Done    bool
	Buffer  []byte // caller-owned; filled by ReadScatter, source for WriteScatter
}

// AddressValidator is the address-validity predicate referenced by the
// chunker. The default (AcceptAll) accepts every 64-bit address; this seam
// exists so a host can impose a physical-address ceiling without touching
// the chunking logic.
type AddressValidator func(addr uint64) bool

// AcceptAll is the default AddressValidator.
func AcceptAll(uint64) bool { return true }

// Chunks splits entries into slices of at most ChunkSize elements, in
// input order, preserving indices so callers can write results back by
// position.
func Chunks(entries []Entry) [][]Entry {
	var out [][]Entry
	for len(entries) > 0 {
		n := ChunkSize
		if n > len(entries) {
			n = len(entries)
		}
		out = append(out, entries[:n])
		entries = entries[n:]
	}
	return out
}

// Sender issues one scatter request and returns its raw response bytes.
// BuildReadRequest/BuildWriteRequest build the request payload; the caller
// (the request engine) fills the qwData slots and is responsible for
// framing and transport dispatch.
type Sender func(qw0, qw1 uint64, payload []byte) (respQw0 uint64, respPayload []byte, err error)

// BuildReadRequest walks one chunk and packs only the descriptors that are
// still pending (Done == false) and pass valid, in input order, returning
// the pending indices alongside the wire payload so the response can be
// reconciled back onto the correct entries. Descriptors reporting an
// oversized length abort the whole chunk.
func BuildReadRequest(chunk []Entry, valid AddressValidator) (payload []byte, pending []int, totalCb uint64, err error) {
	if valid == nil {
		valid = AcceptAll
	}
	for i, e := range chunk {
		if e.Length > wire.MemScatterMaxLen {
			return nil, nil, 0, wire.ErrTooLarge
		}
		if e.Done || !valid(e.Address) {
			continue
		}
		d := wire.MemScatter{Version: wire.MemScatterVersion, Address: e.Address, Length: e.Length, Flags: e.Flags}
		buf := make([]byte, wire.MemScatterWireSize)
		wire.PutMemScatter(buf, d)
		payload = append(payload, buf...)
		pending = append(pending, i)
		totalCb += uint64(e.Length)
	}
	return payload, pending, totalCb, nil
}

// ApplyReadResponse reconciles a response of len(pending) MemScatter
// descriptors followed by the concatenated payload bytes of descriptors
// the server satisfied, against chunk's entries named by pending (in the
// same order BuildReadRequest produced them). A response descriptor whose
// address does not match the corresponding pending input stops processing
// of the remainder of the chunk (subsequent Done bits are left unchanged),
// per the address association property.
func ApplyReadResponse(chunk []Entry, pending []int, respPayload []byte) error {
	descBytes := len(pending) * wire.MemScatterWireSize
	if len(respPayload) < descBytes {
		return wire.ErrShortRead
	}
	descs := respPayload[:descBytes]
	data := respPayload[descBytes:]

	dataOff := 0
	for respIdx, i := range pending {
		rd := wire.GetMemScatter(descs[respIdx*wire.MemScatterWireSize : (respIdx+1)*wire.MemScatterWireSize])
		if rd.Version != wire.MemScatterVersion || rd.Address != chunk[i].Address {
			// Address mismatch: stop processing the remainder of this chunk.
			return nil
		}
		n := int(chunk[i].Length)
		if rd.Done != 0 {
			if dataOff+n > len(data) {
				return wire.ErrShortRead
			}
			if chunk[i].Buffer == nil {
				chunk[i].Buffer = make([]byte, n)
			}
			copy(chunk[i].Buffer, data[dataOff:dataOff+n])
			dataOff += n
			chunk[i].Done = true
		}
	}
	return nil
}

// BuildWriteRequest packs a chunk's descriptors followed by one
// MemScatterMaxLen-byte slot per descriptor (only Length bytes of which are
// meaningful; the remainder is unspecified). Descriptors whose Length
// exceeds MemScatterMaxLen are rejected before anything is sent.
func BuildWriteRequest(chunk []Entry) (payload []byte, err error) {
	for _, e := range chunk {
		if e.Length > wire.MemScatterMaxLen {
			return nil, wire.ErrTooLarge
		}
	}
	payload = make([]byte, 0, len(chunk)*(wire.MemScatterWireSize+wire.MemScatterMaxLen))
	for _, e := range chunk {
		d := wire.MemScatter{Version: wire.MemScatterVersion, Address: e.Address, Length: e.Length, Flags: e.Flags}
		buf := make([]byte, wire.MemScatterWireSize)
		wire.PutMemScatter(buf, d)
		payload = append(payload, buf...)

		slot := make([]byte, wire.MemScatterMaxLen)
		copy(slot, e.Buffer)
		payload = append(payload, slot...)
	}
	return payload, nil
}

// ApplyWriteResponse interprets resp as one boolean (non-zero byte) per
// descriptor in chunk and copies it back into each entry's Done bit.
func ApplyWriteResponse(chunk []Entry, resp []byte) error {
	if len(resp) < len(chunk) {
		return wire.ErrShortRead
	}
	for i := range chunk {
		chunk[i].Done = resp[i] != 0
	}
	return nil
}
