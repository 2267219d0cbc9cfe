// Package logfeed is the engine's Log Aggregator: a fan-in point for the
// severity-leveled events every worker emits (packet send/receive, route
// match failures, connection state changes), fed to a slog.Logger and, for
// the subset UI/status consumers care about, retained in a ring buffer the
// status endpoint can page through.
package logfeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/etcaddy/oscrouter/metric"
	"github.com/etcaddy/oscrouter/pkg/buffer"
)

// Severity is the engine's log level, a superset of slog's levels with the
// two wire-traffic levels (Send/Recv) the status feed filters on
// separately from ordinary diagnostic logging.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Send
	Recv
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Send:
		return "SEND"
	case Recv:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) slogLevel() slog.Level {
	switch s {
	case Debug:
		return slog.LevelDebug
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Entry is one aggregated log record, retained in the ring buffer for the
// status feed and also forwarded to the underlying slog.Logger.
type Entry struct {
	Time      time.Time
	Severity  Severity
	Component string
	Message   string
}

// Aggregator fans worker log calls out to a slog.Logger and a bounded
// in-memory history.
type Aggregator struct {
	logger  *slog.Logger
	history buffer.Buffer[Entry]
}

// New returns an Aggregator that logs through logger (slog.Default() if
// nil) and retains the last capacity entries for the status feed. History
// drops its oldest entry on overflow: a burst of traffic should push old
// trace events out rather than block or lose the newest ones. When
// metricsReg is non-nil, the history buffer's write/drop/utilization
// counters are also exported as Prometheus metrics under the
// "log-aggregator" component label.
func New(logger *slog.Logger, capacity int, metricsReg *metric.MetricsRegistry) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 512
	}
	history, err := buffer.NewCircularBuffer[Entry](capacity,
		buffer.WithOverflowPolicy[Entry](buffer.DropOldest),
		buffer.WithMetrics[Entry](metricsReg, "log-aggregator"),
	)
	if err != nil {
		// capacity is always > 0 here and registration failure is the only
		// other error path, which we choose to surface rather than run
		// without the metrics a caller explicitly asked for.
		panic(err)
	}
	return &Aggregator{logger: logger, history: history}
}

// Log records an event at severity from component.
func (a *Aggregator) Log(component string, sev Severity, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	entry := Entry{Time: time.Now(), Severity: sev, Component: component, Message: msg}

	_ = a.history.Write(entry)

	a.logger.Log(context.Background(), sev.slogLevel(), msg,
		slog.String("component", component),
		slog.String("severity", sev.String()),
	)
}

func (a *Aggregator) Debugf(component, format string, args ...interface{}) {
	a.Log(component, Debug, format, args...)
}

func (a *Aggregator) Infof(component, format string, args ...interface{}) {
	a.Log(component, Info, format, args...)
}

func (a *Aggregator) Warnf(component, format string, args ...interface{}) {
	a.Log(component, Warning, format, args...)
}

func (a *Aggregator) Errorf(component, format string, args ...interface{}) {
	a.Log(component, Error, format, args...)
}

// Sendf logs an outbound-packet trace event. These are high-volume and kept
// at their own severity so the status feed can filter them out by default.
func (a *Aggregator) Sendf(component, format string, args ...interface{}) {
	a.Log(component, Send, format, args...)
}

// Recvf logs an inbound-packet trace event.
func (a *Aggregator) Recvf(component, format string, args ...interface{}) {
	a.Log(component, Recv, format, args...)
}

// Recent drains and returns up to n entries accumulated since the last
// call, oldest first. Each call consumes what it returns, matching a tail
// -f style poller rather than a re-readable history.
func (a *Aggregator) Recent(n int) []Entry {
	return a.history.ReadBatch(n)
}

// Stats returns the history buffer's write/drop/utilization counters, for
// the status endpoint to report how much trace volume is being lost to a
// slow consumer rather than just how much is currently queued.
func (a *Aggregator) Stats() buffer.StatsSummary {
	return a.history.Stats().Summary()
}
