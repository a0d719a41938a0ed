package transport

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.sia.tech/mux"
	"golang.org/x/crypto/blake2b"

	"go.leechcore.dev/leechrpc/wire"
)

// DefaultPort is the TCP port used when a SecureRPC URI omits port=N.
const DefaultPort = 28473

// InsecureSPN disables mutual authentication entirely; the session binds
// over an anonymous mux handshake instead of an Ed25519-pinned one.
const InsecureSPN = "insecure"

// SecureRPC binds to an authenticated, multiplexed TCP session. Unless SPN
// is InsecureSPN, the session is bound to an Ed25519 identity derived
// deterministically from the SPN string, standing in for the Kerberos
// packet-privacy/mutual-auth/identify-impersonation binding described by
// the remote interface (real Kerberos/SSPI is an OS primitive out of
// scope). Because every call opens its own stream, concurrent SendRecv
// calls never contend — the RPC transport is declared multi-thread-safe.
type SecureRPC struct {
	conn net.Conn
	sess *mux.Mux

	closeOnce sync.Once
}

// spnIdentity derives a stable Ed25519 key pair from an SPN string so that
// two peers configured with the same SPN arrive at the same identity
// without an external key distribution step.
func spnIdentity(spn string) ed25519.PrivateKey {
	seed := blake2b.Sum256([]byte("leechrpc-spn:" + spn))
	return ed25519.NewKeyFromSeed(seed[:32])
}

// DialSecureRPC connects to host:port and performs the mux handshake as the
// initiating side (renter-equivalent role). spn == InsecureSPN uses an
// anonymous, unauthenticated handshake.
func DialSecureRPC(ctx context.Context, host string, port uint16, spn string) (*SecureRPC, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", host, err)
	}

	var sess *mux.Mux
	if spn == InsecureSPN {
		sess, err = mux.DialAnonymous(conn)
	} else {
		theirKey := spnIdentity(spn).Public().(ed25519.PublicKey)
		sess, err = mux.Dial(conn, theirKey)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: mux handshake: %w", err)
	}
	return &SecureRPC{conn: conn, sess: sess}, nil
}

// AcceptSecureRPC performs the mux handshake as the responding side, for
// tests and reference servers that exercise the client against a loopback
// peer.
func AcceptSecureRPC(conn net.Conn, spn string) (*SecureRPC, error) {
	var sess *mux.Mux
	var err error
	if spn == InsecureSPN {
		sess, err = mux.AcceptAnonymous(conn)
	} else {
		ourKey := spnIdentity(spn)
		sess, err = mux.Accept(conn, ourKey)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: mux accept: %w", err)
	}
	return &SecureRPC{conn: conn, sess: sess}, nil
}

func (s *SecureRPC) MaxResponseLen() uint32 { return wire.EngineMax }
func (s *SecureRPC) MultiThreadSafe() bool  { return true }

func (s *SecureRPC) Close() (err error) {
	s.closeOnce.Do(func() {
		err = s.sess.Close()
	})
	return err
}

// SendRecv opens a fresh stream per call, writes the request, reads the
// response header and body, and closes the stream. Any runtime fault
// (including a handshake or stream failure) is converted into an error
// return rather than propagated as a panic, matching the requirement that
// no RPC runtime fault escape submit.
func (s *SecureRPC) SendRecv(ctx context.Context, req []byte) (resp []byte, err error) {
	defer wrapErr(&err, "SecureRPC.SendRecv")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic in mux stream: %v", r)
		}
	}()

	stream := s.sess.DialStream()
	defer stream.Close()

	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	}

	if _, err = stream.Write(req); err != nil {
		return nil, err
	}

	hdrBuf := make([]byte, wire.HeaderSize)
	if err = readFull(stream, hdrBuf); err != nil {
		return nil, err
	}
	h := wire.GetHeader(hdrBuf)
	if err = wire.CheckBounds(h, wire.EngineMax); err != nil {
		return nil, err
	}
	full := make([]byte, h.Length)
	copy(full, hdrBuf)
	if h.Length > wire.HeaderSize {
		if err = readFull(stream, full[wire.HeaderSize:]); err != nil {
			return nil, err
		}
	}
	return full, nil
}

// RPCOptions are the recognized tokens of a rpc:// URI's comma-separated
// option list.
type RPCOptions struct {
	Port       uint16
	NoCompress bool
}

// ParseRPCURI parses "SPN:HOST[:opt[,opt...]]" into its SPN, host and
// option fields.
func ParseRPCURI(rest string) (spn, host string, opts RPCOptions, err error) {
	opts.Port = DefaultPort
	fields := strings.SplitN(rest, ":", 3)
	if len(fields) < 2 {
		return "", "", opts, fmt.Errorf("transport: malformed rpc URI %q", rest)
	}
	spn, host = fields[0], fields[1]
	if len(fields) == 3 {
		for _, tok := range strings.Split(fields[2], ",") {
			switch {
			case tok == "nocompress":
				opts.NoCompress = true
			case strings.HasPrefix(tok, "port="):
				p, perr := strconv.ParseUint(strings.TrimPrefix(tok, "port="), 10, 16)
				if perr != nil {
					return "", "", opts, fmt.Errorf("transport: bad port option %q: %w", tok, perr)
				}
				opts.Port = uint16(p)
			case tok == "":
			default:
				return "", "", opts, fmt.Errorf("transport: unrecognized rpc option %q", tok)
			}
		}
	}
	return spn, host, opts, nil
}
