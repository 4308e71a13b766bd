package definition

import (
	"fmt"
	"os"

	prom "github.com/prometheus/common/log"

	"github.com/raftkit/raftnet/pkg/raft/types"
)

// NewDefaultLogger builds the logger used when the caller does not supply
// its own types.Logger. Rather than a second, independent stdlib logger,
// it is a thin types.Logger adapter over the very same
// github.com/prometheus/common/log sink the server core already writes to
// directly for its own ambient logging (see server.go), so an injected
// logger's output and the package-level prometheus logs share one
// formatter and one destination instead of drifting apart.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{base: prom.NewLogger(os.Stderr)}
}

// DefaultLogger adapts a prometheus/common/log.Logger to the types.Logger
// interface. WithServer/WithConnection bind the raft-domain identifiers
// the reactor deals in as structured fields on every subsequent line,
// instead of callers string-formatting them into the message by hand.
type DefaultLogger struct {
	base  prom.Logger
	debug bool
}

// WithServer scopes every subsequent log line with the given server id.
func (l *DefaultLogger) WithServer(id types.ServerId) *DefaultLogger {
	return &DefaultLogger{base: l.base.With("server_id", uint64(id)), debug: l.debug}
}

// WithConnection scopes every subsequent log line with the given
// connection handle.
func (l *DefaultLogger) WithConnection(handle types.ConnectionHandle) *DefaultLogger {
	return &DefaultLogger{base: l.base.With("handle", uint64(handle)), debug: l.debug}
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.base.Info(v...)
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.base.Infof(format, v...)
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.base.Warn(v...)
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.base.Warnf(format, v...)
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.base.Error(v...)
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.base.Errorf(format, v...)
}

// Debug and Debugf are gated by an explicit toggle rather than the
// underlying logger's own level, matching the teacher's pattern of
// keeping debug output opt-in regardless of the sink's configuration.
func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.base.Debug(v...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.base.Debugf(format, v...)
	}
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	l.debug = value
	return l.debug
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.base.Fatal(v...)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.base.Fatalf(format, v...)
}

// prometheus/common/log.Logger carries no Panic method, so these two
// panic directly; everything else still flows through the shared sink.
func (l *DefaultLogger) Panic(v ...interface{}) {
	l.base.Error(v...)
	panic(fmt.Sprint(v...))
}

func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	l.base.Errorf(format, v...)
	panic(fmt.Sprintf(format, v...))
}

var _ types.Logger = (*DefaultLogger)(nil)
