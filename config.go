package leechrpc

import (
	"github.com/sirupsen/logrus"

	"go.leechcore.dev/leechrpc/wire"
)

// PrintfCallback mirrors the original's printf-style diagnostic slot: text
// the remote peer wants surfaced to a human. It is preserved across Open
// (the server's copy is zeroed before transmission, the local callback is
// restored into the merged configuration afterward) and is distinct from
// the package-level logrus logger used for internal diagnostics.
type PrintfCallback func(format string, args ...interface{})

// Config is the local configuration record exchanged (in reduced form)
// during Open and merged with the remote's returned copy afterward.
type Config struct {
	// DeviceName is the bare device name understood by the remote agent.
	// If the caller's original value began with "existingremote", Open
	// rewrites it by dropping the six-character substring "remote" before
	// building the request (see spec §4.8 / §9(b)).
	DeviceName string

	// RemoteURI is the rpc:// or pipe:// descriptor that selected the
	// transport; cleared in the copy actually sent on the wire.
	RemoteURI string

	// Compress is the locally-desired compression setting; Open negotiates
	// it down if local initialization fails or the remote reports itself
	// disabled.
	Compress bool

	Verbose bool

	// Printf is preserved across Open; never serialized.
	Printf PrintfCallback

	// Logger receives internal lifecycle/transport diagnostics. Defaults
	// to logrus.StandardLogger() if nil.
	Logger logrus.FieldLogger

	// version/remote mirror populated from the server's OpenRsp after a
	// successful Open.
	remoteVersion uint32
}

func (c *Config) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

// ErrorInfo is the structural error blob a failed Open may hand back to the
// caller for display.
type ErrorInfo struct {
	Version  uint32
	UserText string
}

func errorInfoFromWire(w wire.ErrorInfoWire) ErrorInfo {
	return ErrorInfo{Version: w.DwVersion, UserText: w.Text()}
}

func (e ErrorInfo) Error() string {
	if e.UserText == "" {
		return "leechrpc: open failed"
	}
	return "leechrpc: open failed: " + e.UserText
}

// toWireConfig builds the on-wire ConfigWire sent with OpenReq: the remote
// descriptor field cleared and the callback slot zeroed, matching the
// original's "clear remote-descriptor field, zero callback slots" rule.
func (c *Config) toWireConfig() wire.ConfigWire {
	var w wire.ConfigWire
	w.Version = wire.ConfigVersion
	copy(w.DeviceName[:], c.DeviceName)
	// RemoteName intentionally left zero: the remote descriptor never
	// crosses the wire.
	if c.Compress {
		w.FCompress = 1
	}
	if c.Verbose {
		w.FVerbose = 1
	}
	// PrintfCallback intentionally left zero: callbacks are local-only.
	return w
}

// mergeRemoteConfig folds the server's returned configuration mirror into
// c, preserving the local Printf callback exactly as the original preserves
// pfn_printf_opt across the merge.
func (c *Config) mergeRemoteConfig(remote wire.ConfigWire) {
	c.remoteVersion = remote.Version
	c.Compress = remote.FCompress != 0
	c.Verbose = remote.FVerbose != 0
	// c.Printf is untouched: the local callback survives the merge.
}
