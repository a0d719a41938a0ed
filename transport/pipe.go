package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.leechcore.dev/leechrpc/wire"
)

// ErrPipeBroken is returned once a Pipe has suffered a partial write or
// premature EOF; the transport is not usable afterward.
var ErrPipeBroken = errors.New("transport: pipe is broken")

// Pipe is the paired-file-descriptor transport. Read and Write handles are
// inherited from a parent process and are plain unidirectional byte
// streams; nothing on this path is encrypted, matching spec's non-goal of
// pipe transport encryption (pipes are assumed parent-process local).
//
// send_and_receive holds an exclusive, instance-scoped lock across the
// write-then-read sequence so no other caller's bytes can interleave on the
// same pipe (the original's lock was process-wide; scoping it to the
// instance lets multiple independent Pipe sessions coexist without
// contending on one another).
type Pipe struct {
	mu     sync.Mutex
	r      *os.File
	w      *os.File
	broken bool
}

// NewPipe wraps already-open read and write file descriptors.
func NewPipe(r, w *os.File) *Pipe {
	return &Pipe{r: r, w: w}
}

func (p *Pipe) MaxResponseLen() uint32 { return wire.PipeMax }
func (p *Pipe) MultiThreadSafe() bool  { return false }

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	// A file closed by an earlier Close reports os.ErrClosed; ignoring it
	// keeps Close idempotent.
	if e := p.w.Close(); e != nil && !errors.Is(e, os.ErrClosed) {
		err = e
	}
	if e := p.r.Close(); e != nil && !errors.Is(e, os.ErrClosed) && err == nil {
		err = e
	}
	return err
}

// SendRecv writes req, then reads a header followed by its remaining
// length-header bytes. A partial write or short read permanently breaks
// the pipe.
func (p *Pipe) SendRecv(ctx context.Context, req []byte) (resp []byte, err error) {
	defer wrapErr(&err, "Pipe.SendRecv")

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken {
		return nil, ErrPipeBroken
	}
	defer func() {
		if err != nil {
			p.broken = true
		}
	}()

	if _, err = (discardShortWriter{p.w}).Write(req); err != nil {
		return nil, err
	}

	hdrBuf := make([]byte, wire.HeaderSize)
	if err = readFull(p.r, hdrBuf); err != nil {
		return nil, err
	}
	h := wire.GetHeader(hdrBuf)
	if err = wire.CheckBounds(h, wire.PipeMax); err != nil {
		return nil, err
	}

	full := make([]byte, h.Length)
	copy(full, hdrBuf)
	if h.Length > wire.HeaderSize {
		if err = readFull(p.r, full[wire.HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return full, nil
}

// readFull mirrors the original's Util_GetBytesPipe: a single ReadFile (or
// os.File.Read) call may return fewer bytes than requested, so the read is
// repeated until the buffer is full or an error (including io.EOF) occurs.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("premature EOF on pipe: %w", err)
		}
		return err
	}
	return nil
}

// discardShortWriter writes all of p to w in one Write call, failing if the
// underlying pipe accepts fewer bytes than requested (a partial write on a
// pipe write handle is treated as fatal, matching the original's contract
// that no partial-write recovery is attempted).
type discardShortWriter struct {
	w io.Writer
}

func (d discardShortWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, fmt.Errorf("partial write: wrote %d of %d bytes", n, len(p))
	}
	return n, nil
}

// ParsePipeURI parses "pipe://READ_HANDLE:WRITE_HANDLE" into the two
// decimal file descriptor values.
func ParsePipeURI(rest string) (readFd, writeFd int, err error) {
	var r, w uint32
	n, scanErr := fmt.Sscanf(rest, "%d:%d", &r, &w)
	if scanErr != nil || n != 2 {
		return 0, 0, fmt.Errorf("transport: malformed pipe URI %q", rest)
	}
	return int(r), int(w), nil
}
