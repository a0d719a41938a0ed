// Package vfs validates the untrusted agent-VFS response blobs returned by
// Command(VFS_LIST|VFS_READ|VFS_WRITE): a fixed AgentVfsRsp header and, for
// VFS_LIST, a variable-length, self-referential FileListBlob whose string
// arena is addressed by byte offset rather than pointer.
package vfs

import (
	"encoding/binary"
	"errors"
)

// Command identifiers recognized as VFS subcommands.
const (
	CmdVfsList  = 0x00000001
	CmdVfsRead  = 0x00000002
	CmdVfsWrite = 0x00000003
)

// AgentVfsRspVersion is the expected AgentVfsRsp.DwVersion.
const AgentVfsRspVersion uint32 = 1

// AgentVfsRspSize is the fixed on-wire size of AgentVfsRsp before its inner
// buffer.
const AgentVfsRspSize = 4 + 4 + 8

// AgentVfsRsp is the common header of every VFS command response.
type AgentVfsRsp struct {
	DwVersion   uint32
	FSuccess    uint32
	CbReadWrite uint64
}

func decodeAgentVfsRsp(buf []byte) AgentVfsRsp {
	return AgentVfsRsp{
		DwVersion:   binary.LittleEndian.Uint32(buf[0:4]),
		FSuccess:    binary.LittleEndian.Uint32(buf[4:8]),
		CbReadWrite: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// FileListBlobVersion is the expected FileListBlob.DwVersion.
const FileListBlobVersion uint32 = 1

// fileListBlobFixedSize is the size of FileListBlob before its entry array
// and text arena.
const fileListBlobFixedSize = 4 + 4 + 4 + 4 + 8

// fileEntrySize is the on-wire size of one FileListBlob entry.
const fileEntrySize = 4 + 4 + 8

// FileListBlob is a view over an untrusted byte buffer describing a
// directory listing: a fixed header, an array of entries, and a trailing
// interned-string arena. Per the design note on self-referential blobs,
// entries reference the arena by byte offset (OuszName), never by pointer,
// and the blob itself is modeled as a view rather than a parsed copy.
type FileListBlob struct {
	buf          []byte
	CbStruct     uint32
	DwVersion    uint32
	CFileEntry   uint32
	CbMultiText  uint32
	entriesStart int
	textStart    int
}

// FileEntry is one decoded directory entry; Name is resolved eagerly
// against the blob's text arena.
type FileEntry struct {
	Size     uint64
	OuszName uint32
	Name     string
}

var (
	ErrVfsShort         = errors.New("vfs: buffer too short")
	ErrVfsBadVersion    = errors.New("vfs: bad version")
	ErrVfsSizeMismatch  = errors.New("vfs: size arithmetic mismatch")
	ErrVfsNoTrailingNul = errors.New("vfs: missing trailing NUL")
	ErrVfsBadJunction   = errors.New("vfs: missing junction NUL")
	ErrVfsNameOOB       = errors.New("vfs: entry name offset out of bounds")
	ErrVfsEmptyArena    = errors.New("vfs: empty text arena")
)

// parseFileListBlob builds a FileListBlob view over inner without copying,
// validating every structural invariant the common/VFS_LIST check list
// names. It does not resolve entry names; callers needing them use Entries.
func parseFileListBlob(inner []byte) (*FileListBlob, error) {
	if len(inner) < fileListBlobFixedSize {
		return nil, ErrVfsShort
	}
	if inner[len(inner)-1] != 0 {
		return nil, ErrVfsNoTrailingNul
	}
	b := &FileListBlob{buf: inner}
	b.CbStruct = binary.LittleEndian.Uint32(inner[0:4])
	b.DwVersion = binary.LittleEndian.Uint32(inner[4:8])
	b.CFileEntry = binary.LittleEndian.Uint32(inner[8:12])
	b.CbMultiText = binary.LittleEndian.Uint32(inner[12:16])
	// inner[16:24] is the reserved multitext offset slot, rewritten below.

	if b.DwVersion != FileListBlobVersion {
		return nil, ErrVfsBadVersion
	}
	if uint32(len(inner)) != b.CbStruct {
		return nil, ErrVfsSizeMismatch
	}
	if b.CbMultiText == 0 {
		return nil, ErrVfsEmptyArena
	}

	b.entriesStart = fileListBlobFixedSize
	entriesSize := uint64(b.CFileEntry) * uint64(fileEntrySize)
	wantLen := uint64(fileListBlobFixedSize) + entriesSize + uint64(b.CbMultiText)
	if uint64(len(inner)) != wantLen {
		return nil, ErrVfsSizeMismatch
	}
	b.textStart = b.entriesStart + int(entriesSize)

	// Junction-NUL check: the first byte of the text arena (immediately
	// after the entry array) must be 0, so offset 0 always resolves to an
	// empty name.
	if inner[b.textStart] != 0 {
		return nil, ErrVfsBadJunction
	}

	for i := uint32(0); i < b.CFileEntry; i++ {
		off := b.entriesStart + int(i)*fileEntrySize
		ouszName := binary.LittleEndian.Uint32(inner[off+8 : off+12])
		if ouszName >= b.CbMultiText {
			return nil, ErrVfsNameOOB
		}
	}

	// Self-reference rewrite: the reserved 64-bit slot is set to the byte
	// offset of the text arena's start, not a pointer, so the blob stays
	// meaningful as a plain byte buffer.
	binary.LittleEndian.PutUint64(inner[16:24], uint64(b.textStart))

	return b, nil
}

// Entries decodes every FileListBlob entry, resolving each NUL-terminated
// name against the text arena.
func (b *FileListBlob) Entries() []FileEntry {
	out := make([]FileEntry, b.CFileEntry)
	for i := uint32(0); i < b.CFileEntry; i++ {
		off := b.entriesStart + int(i)*fileEntrySize
		size := binary.LittleEndian.Uint64(b.buf[off : off+8])
		ouszName := binary.LittleEndian.Uint32(b.buf[off+8 : off+12])
		start := b.textStart + int(ouszName)
		end := start
		for end < len(b.buf) && b.buf[end] != 0 {
			end++
		}
		out[i] = FileEntry{Size: size, OuszName: ouszName, Name: string(b.buf[start:end])}
	}
	return out
}

// Verify implements verify_vfs: it validates rsp (the full command response
// payload, AgentVfsRsp header plus inner buffer) against the structural
// rules for cmd, returning the decoded header, the parsed FileListBlob for
// VFS_LIST (nil otherwise), or an error if any check fails.
func Verify(cmd uint32, rsp []byte) (AgentVfsRsp, *FileListBlob, error) {
	if len(rsp) < AgentVfsRspSize {
		return AgentVfsRsp{}, nil, ErrVfsShort
	}
	hdr := decodeAgentVfsRsp(rsp)
	if hdr.DwVersion != AgentVfsRspVersion {
		return AgentVfsRsp{}, nil, ErrVfsBadVersion
	}
	inner := rsp[AgentVfsRspSize:]
	innerCb := uint64(len(inner))
	if uint64(len(rsp)) != uint64(AgentVfsRspSize)+innerCb {
		return AgentVfsRsp{}, nil, ErrVfsSizeMismatch
	}

	switch cmd {
	case CmdVfsRead:
		if hdr.CbReadWrite != innerCb {
			return AgentVfsRsp{}, nil, ErrVfsSizeMismatch
		}
		return hdr, nil, nil
	case CmdVfsWrite:
		if innerCb != 0 {
			return AgentVfsRsp{}, nil, ErrVfsSizeMismatch
		}
		return hdr, nil, nil
	case CmdVfsList:
		if innerCb < fileListBlobFixedSize {
			return AgentVfsRsp{}, nil, ErrVfsShort
		}
		blob, err := parseFileListBlob(inner)
		if err != nil {
			return AgentVfsRsp{}, nil, err
		}
		return hdr, blob, nil
	default:
		return hdr, nil, nil
	}
}
