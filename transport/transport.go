// Package transport implements the two wire-level transport variants used
// by the leechrpc request engine: Pipe (paired local byte streams) and
// SecureRPC (an authenticated, multiplexed TCP binding).
package transport

import (
	"context"
	"fmt"
)

// Transport is the capability every session binds to: send one framed
// request and receive its framed response. Implementations must not
// interleave the bytes of concurrent calls on the same underlying stream;
// Pipe enforces this with an instance-scoped lock, SecureRPC by giving each
// call its own multiplexed stream.
type Transport interface {
	// SendRecv writes req in full and returns the bytes of exactly one
	// response message (header included). A transport-level failure
	// (partial write, premature EOF, runtime fault) is returned as an
	// error and the transport must be considered broken thereafter.
	SendRecv(ctx context.Context, req []byte) ([]byte, error)

	// MaxResponseLen bounds the length field of a response this transport
	// will accept before allocating a buffer for it.
	MaxResponseLen() uint32

	// MultiThreadSafe reports whether concurrent SendRecv calls are safe
	// without external synchronization (true for SecureRPC, false for
	// Pipe).
	MultiThreadSafe() bool

	// Close releases the underlying connection. Idempotent.
	Close() error
}

func wrapErr(err *error, fnName string) {
	if *err != nil {
		*err = fmt.Errorf("%s: %w", fnName, *err)
	}
}
