package leechrpc

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol covers unexpected response kind, ok == false, or a
	// size mismatch by kind.
	ErrProtocol = errors.New("leechrpc: protocol error")

	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("leechrpc: session closed")

	// ErrBadURI covers a malformed remote descriptor.
	ErrBadURI = errors.New("leechrpc: malformed remote URI")

	// ErrUnknownKind is returned by submit for a message kind outside the
	// enumeration, before anything is sent.
	ErrUnknownKind = errors.New("leechrpc: unknown message kind")
)

func wrapErr(err *error, fnName string) {
	if *err != nil {
		*err = fmt.Errorf("%s: %w", fnName, *err)
	}
}
