package proxy

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Severity grades a reported message
type Severity int

const (
	// SeverityDebug is chatter about normal operation
	SeverityDebug Severity = iota

	// SeverityInfo is a notable normal event
	SeverityInfo

	// SeverityWarning is an abnormal but recovered condition
	SeverityWarning

	// SeverityError is a failed operation
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// Reporter receives every status and error message of a Proxy as text
type Reporter interface {
	Report(sev Severity, msg string)
}

// ReporterFunc adapts a function to a Reporter
type ReporterFunc func(Severity, string)

// Report satisfies Reporter
func (f ReporterFunc) Report(sev Severity, msg string) {
	f(sev, msg)
}

// LogReporter sends messages to a logrus logger
type LogReporter struct {
	Log *logrus.Logger
}

// NewLogReporter returns a reporter writing text logs to w.  If w is nil,
// stderr is used.
func NewLogReporter(w io.Writer) LogReporter {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	return LogReporter{Log: l}
}

// Report satisfies Reporter
func (r LogReporter) Report(sev Severity, msg string) {
	e := r.Log.WithField("component", "proxy")
	switch sev {
	case SeverityDebug:
		e.Debug(msg)
	case SeverityInfo:
		e.Info(msg)
	case SeverityWarning:
		e.Warn(msg)
	default:
		e.Error(msg)
	}
}

// Discard drops every message
var Discard Reporter = ReporterFunc(func(Severity, string) {})
