// Package wire implements the leechrpc frame codec: the fixed message
// header, the per-kind body extensions, and the bounded-length decode path
// described by the protocol's data model.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is stamped into every message header. A header whose Magic field
// does not match this constant is discarded before any other field is
// trusted.
const Magic uint32 = 0x4c454543

// Length bounds enforced at decode time. PipeMax bounds messages read off
// the Pipe transport; EngineMax is the general bound applied by the request
// engine to every response regardless of transport, matching the literal
// 0x04000000 / 0x10000000 constants carried by the original implementation.
const (
	PipeMax   = 0x04000000 // 64 MiB
	EngineMax = 0x10000000 // 256 MiB
)

// MessageKind tags the variant of a message. Kinds come in Req/Rsp pairs;
// MaxKind bounds every kind ever received.
type MessageKind uint32

const (
	PingReq MessageKind = iota
	PingRsp
	CloseReq
	CloseRsp
	KeepAliveReq
	KeepAliveRsp
	OpenReq
	OpenRsp
	GetOptionReq
	GetOptionRsp
	SetOptionReq
	SetOptionRsp
	ReadScatterReq
	ReadScatterRsp
	WriteScatterReq
	WriteScatterRsp
	CommandReq
	CommandRsp

	MaxKind = CommandRsp
)

func (k MessageKind) String() string {
	switch k {
	case PingReq:
		return "PingReq"
	case PingRsp:
		return "PingRsp"
	case CloseReq:
		return "CloseReq"
	case CloseRsp:
		return "CloseRsp"
	case KeepAliveReq:
		return "KeepAliveReq"
	case KeepAliveRsp:
		return "KeepAliveRsp"
	case OpenReq:
		return "OpenReq"
	case OpenRsp:
		return "OpenRsp"
	case GetOptionReq:
		return "GetOptionReq"
	case GetOptionRsp:
		return "GetOptionRsp"
	case SetOptionReq:
		return "SetOptionReq"
	case SetOptionRsp:
		return "SetOptionRsp"
	case ReadScatterReq:
		return "ReadScatterReq"
	case ReadScatterRsp:
		return "ReadScatterRsp"
	case WriteScatterReq:
		return "WriteScatterReq"
	case WriteScatterRsp:
		return "WriteScatterRsp"
	case CommandReq:
		return "CommandReq"
	case CommandRsp:
		return "CommandRsp"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint32(k))
	}
}

// Flag bits for Header.Flags.
const (
	FlagNoCompress uint32 = 1 << 0
)

// HeaderSize is the fixed on-wire size of Header.
const HeaderSize = 24

// Header is the common prefix of every message on the wire.
type Header struct {
	Magic    uint32
	Kind     MessageKind
	Length   uint32
	ClientID uint32
	Flags    uint32
	Ok       uint32
}

var (
	ErrBadMagic  = errors.New("wire: bad magic")
	ErrTooLarge  = errors.New("wire: length exceeds bound")
	ErrTooSmall  = errors.New("wire: length shorter than header")
	ErrShortRead = errors.New("wire: short read")
	ErrBadKind   = errors.New("wire: kind exceeds MaxKind")
)

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	binary.LittleEndian.PutUint32(buf[12:16], h.ClientID)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.Ok)
}

// GetHeader reads a Header from the first HeaderSize bytes of buf.
func GetHeader(buf []byte) Header {
	return Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Kind:     MessageKind(binary.LittleEndian.Uint32(buf[4:8])),
		Length:   binary.LittleEndian.Uint32(buf[8:12]),
		ClientID: binary.LittleEndian.Uint32(buf[12:16]),
		Flags:    binary.LittleEndian.Uint32(buf[16:20]),
		Ok:       binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// CheckBounds validates the fields trusted before the body is read: magic,
// kind range, and length bound. max is the caller-supplied length bound
// (PipeMax or EngineMax depending on transport).
func CheckBounds(h Header, max uint32) error {
	if h.Magic != Magic {
		return ErrBadMagic
	}
	if uint32(h.Kind) > uint32(MaxKind) {
		return ErrBadKind
	}
	if h.Length < HeaderSize {
		return ErrTooSmall
	}
	if h.Length > max {
		return ErrTooLarge
	}
	return nil
}

// qwDataSize is the fixed size of the 8-slot scalar array shared by BinBody
// and DataBody.
const qwDataSize = 8 * 8

// DataBodySize is the fixed on-wire size of DataBody (no payload).
const DataBodySize = HeaderSize + qwDataSize

// DataBody extends Header with eight scalar slots and no payload; used by
// GetOption/SetOption.
type DataBody struct {
	Header
	QwData [8]uint64
}

// Encode writes the body to a freshly allocated buffer of size DataBodySize.
func (b DataBody) Encode() []byte {
	buf := make([]byte, DataBodySize)
	PutHeader(buf, b.Header)
	for i, v := range b.QwData {
		binary.LittleEndian.PutUint64(buf[HeaderSize+i*8:HeaderSize+i*8+8], v)
	}
	return buf
}

// DecodeDataBody reads a DataBody out of buf, which must be at least
// DataBodySize bytes.
func DecodeDataBody(buf []byte) (DataBody, error) {
	if len(buf) < DataBodySize {
		return DataBody{}, ErrShortRead
	}
	b := DataBody{Header: GetHeader(buf)}
	for i := range b.QwData {
		b.QwData[i] = binary.LittleEndian.Uint64(buf[HeaderSize+i*8 : HeaderSize+i*8+8])
	}
	return b, nil
}

// BinBodyFixedSize is the on-wire size of BinBody before its variable
// payload (Pb).
const BinBodyFixedSize = HeaderSize + 4 + 4 + qwDataSize

// BinBody extends Header with a length-prefixed payload and scalar slots.
// CbDecompressed is 0 when Pb is plain; otherwise it is the decoded size and
// Pb carries the compressed encoding.
type BinBody struct {
	Header
	Cb             uint32
	CbDecompressed uint32
	QwData         [8]uint64
	Pb             []byte
}

// Encode writes the body (header, fixed extension, and payload) to a
// freshly allocated buffer of size BinBodyFixedSize+len(Pb). The caller is
// responsible for ensuring Cb == len(Pb) and Header.Length matches.
func (b BinBody) Encode() []byte {
	buf := make([]byte, BinBodyFixedSize+len(b.Pb))
	PutHeader(buf, b.Header)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], b.Cb)
	binary.LittleEndian.PutUint32(buf[HeaderSize+4:HeaderSize+8], b.CbDecompressed)
	off := HeaderSize + 8
	for i, v := range b.QwData {
		binary.LittleEndian.PutUint64(buf[off+i*8:off+i*8+8], v)
	}
	copy(buf[BinBodyFixedSize:], b.Pb)
	return buf
}

// DecodeBinBody reads a BinBody out of buf. buf must be at least
// BinBodyFixedSize bytes, and at least BinBodyFixedSize+Cb bytes once Cb is
// known; the payload slice aliases buf's tail rather than copying it.
func DecodeBinBody(buf []byte) (BinBody, error) {
	if len(buf) < BinBodyFixedSize {
		return BinBody{}, ErrShortRead
	}
	b := BinBody{Header: GetHeader(buf)}
	b.Cb = binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+4])
	b.CbDecompressed = binary.LittleEndian.Uint32(buf[HeaderSize+4 : HeaderSize+8])
	off := HeaderSize + 8
	for i := range b.QwData {
		b.QwData[i] = binary.LittleEndian.Uint64(buf[off+i*8 : off+i*8+8])
	}
	if uint32(len(buf)) < BinBodyFixedSize+b.Cb {
		return BinBody{}, ErrShortRead
	}
	b.Pb = buf[BinBodyFixedSize : BinBodyFixedSize+b.Cb]
	return b, nil
}

// ConfigVersion is the expected Config.Version of a peer's configuration
// mirror.
const ConfigVersion uint32 = 1

// ConfigWire is the on-wire mirror of the local configuration record
// exchanged during Open. Fixed-width name fields mirror the original's
// fixed char buffers; PrintfCallback is a reserved slot, always zero on the
// wire (the callback itself never crosses the transport).
type ConfigWire struct {
	Version        uint32
	DeviceName     [256]byte
	RemoteName     [256]byte
	FCompress      uint32
	FVerbose       uint32
	PrintfCallback uint64
	ParamReserved  uint64
}

const ConfigWireSize = 4 + 256 + 256 + 4 + 4 + 8 + 8

func (c ConfigWire) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], c.Version)
	copy(buf[4:260], c.DeviceName[:])
	copy(buf[260:516], c.RemoteName[:])
	binary.LittleEndian.PutUint32(buf[516:520], c.FCompress)
	binary.LittleEndian.PutUint32(buf[520:524], c.FVerbose)
	binary.LittleEndian.PutUint64(buf[524:532], c.PrintfCallback)
	binary.LittleEndian.PutUint64(buf[532:540], c.ParamReserved)
}

func DecodeConfigWire(buf []byte) (ConfigWire, error) {
	if len(buf) < ConfigWireSize {
		return ConfigWire{}, ErrShortRead
	}
	var c ConfigWire
	c.Version = binary.LittleEndian.Uint32(buf[0:4])
	copy(c.DeviceName[:], buf[4:260])
	copy(c.RemoteName[:], buf[260:516])
	c.FCompress = binary.LittleEndian.Uint32(buf[516:520])
	c.FVerbose = binary.LittleEndian.Uint32(buf[520:524])
	c.PrintfCallback = binary.LittleEndian.Uint64(buf[524:532])
	c.ParamReserved = binary.LittleEndian.Uint64(buf[532:540])
	return c, nil
}

// ErrorInfoVersion is the expected ErrorInfoWire.DwVersion.
const ErrorInfoVersion uint32 = 1

// ErrorInfoWireFixedSize is the fixed portion of ErrorInfoWire before the
// UTF-16 user text.
const ErrorInfoWireFixedSize = 4 + 4

// ErrorInfoWire is the optional error-info sub-blob returned by a failed
// Open. WszUserText holds cwszUserText UTF-16 code units, NUL-terminated.
type ErrorInfoWire struct {
	DwVersion    uint32
	CwszUserText uint32
	WszUserText  []uint16
}

func DecodeErrorInfoWire(buf []byte) (ErrorInfoWire, error) {
	if len(buf) < ErrorInfoWireFixedSize {
		return ErrorInfoWire{}, ErrShortRead
	}
	var e ErrorInfoWire
	e.DwVersion = binary.LittleEndian.Uint32(buf[0:4])
	e.CwszUserText = binary.LittleEndian.Uint32(buf[4:8])
	need := ErrorInfoWireFixedSize + int(e.CwszUserText+1)*2
	if len(buf) < need {
		return ErrorInfoWire{}, ErrShortRead
	}
	e.WszUserText = make([]uint16, e.CwszUserText+1)
	for i := range e.WszUserText {
		off := ErrorInfoWireFixedSize + i*2
		e.WszUserText[i] = binary.LittleEndian.Uint16(buf[off : off+2])
	}
	return e, nil
}

// Text decodes WszUserText (sans trailing NUL) as a Go string.
func (e ErrorInfoWire) Text() string {
	n := len(e.WszUserText)
	for n > 0 && e.WszUserText[n-1] == 0 {
		n--
	}
	return string(utf16Decode(e.WszUserText[:n]))
}

func utf16Decode(u []uint16) []rune {
	out := make([]rune, 0, len(u))
	for i := 0; i < len(u); i++ {
		r := rune(u[i])
		if r >= 0xd800 && r < 0xdc00 && i+1 < len(u) {
			r2 := rune(u[i+1])
			if r2 >= 0xdc00 && r2 < 0xe000 {
				out = append(out, ((r-0xd800)<<10|(r2-0xdc00))+0x10000)
				i++
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// OpenBodyFixedSize is the size of Header + ConfigWire + ValidOpen, i.e. the
// minimum size of any OpenRsp.
const OpenBodyFixedSize = HeaderSize + ConfigWireSize + 4

// OpenBody extends Header with a configuration mirror, a validity flag, and
// an optional trailing error-info blob present only when ValidOpen is 0.
type OpenBody struct {
	Header
	Config    ConfigWire
	ValidOpen uint32
	ErrorInfo []byte // raw trailing ErrorInfoWire bytes, nil if absent
}

func (b OpenBody) Encode() []byte {
	buf := make([]byte, OpenBodyFixedSize+len(b.ErrorInfo))
	PutHeader(buf, b.Header)
	b.Config.Encode(buf[HeaderSize : HeaderSize+ConfigWireSize])
	binary.LittleEndian.PutUint32(buf[HeaderSize+ConfigWireSize:HeaderSize+ConfigWireSize+4], b.ValidOpen)
	copy(buf[OpenBodyFixedSize:], b.ErrorInfo)
	return buf
}

func DecodeOpenBody(buf []byte) (OpenBody, error) {
	if len(buf) < OpenBodyFixedSize {
		return OpenBody{}, ErrShortRead
	}
	var b OpenBody
	b.Header = GetHeader(buf)
	cfg, err := DecodeConfigWire(buf[HeaderSize : HeaderSize+ConfigWireSize])
	if err != nil {
		return OpenBody{}, err
	}
	b.Config = cfg
	b.ValidOpen = binary.LittleEndian.Uint32(buf[HeaderSize+ConfigWireSize : HeaderSize+ConfigWireSize+4])
	if len(buf) > OpenBodyFixedSize {
		b.ErrorInfo = buf[OpenBodyFixedSize:]
	}
	return b, nil
}

// MemScatterVersion is the constant MemScatter.Version every peer must
// agree on.
const MemScatterVersion uint32 = 1

// MemScatterMaxLen bounds a single descriptor's Length and is the chunk
// size used by the scatter chunker.
const MemScatterMaxLen = 4096

// MemScatterWireSize is the fixed on-wire size of one MemScatter
// descriptor. The trailing 8 bytes are a reserved opaque buffer-pointer
// slot, always zero on the wire.
const MemScatterWireSize = 4 + 4 + 8 + 4 + 4 + 8

// MemScatter is one scatter I/O descriptor.
type MemScatter struct {
	Version uint32
	Flags   uint32
	Address uint64
	Length  uint32
	Done    uint32
	Buffer  []byte // local-only; never serialized, wire slot is reserved/zero
}

func PutMemScatter(buf []byte, d MemScatter) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Version)
	binary.LittleEndian.PutUint32(buf[4:8], d.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], d.Address)
	binary.LittleEndian.PutUint32(buf[16:20], d.Length)
	binary.LittleEndian.PutUint32(buf[20:24], d.Done)
	binary.LittleEndian.PutUint64(buf[24:32], 0)
}

func GetMemScatter(buf []byte) MemScatter {
	return MemScatter{
		Version: binary.LittleEndian.Uint32(buf[0:4]),
		Flags:   binary.LittleEndian.Uint32(buf[4:8]),
		Address: binary.LittleEndian.Uint64(buf[8:16]),
		Length:  binary.LittleEndian.Uint32(buf[16:20]),
		Done:    binary.LittleEndian.Uint32(buf[20:24]),
	}
}
