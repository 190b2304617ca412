package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the shared go-kit logger. Components that outlive a request take
// a logger in their constructors; free functions fall back to this one.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global go-kit logger and returns it.
func InitLogger(logFormat string, logLevel dslog.Level) kitlog.Logger {
	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := dslog.NewGoKitWithWriter(logFormat, writer)

	// use UTC timestamps and skip 5 stack frames.
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.Caller(5))

	// Must put the level filter last for efficiency.
	logger = level.NewFilter(logger, logLevel.Option)

	Logger = logger
	return logger
}

// WithTeamID decorates a logger with the tenant a log line concerns.
func WithTeamID(teamID string, logger kitlog.Logger) kitlog.Logger {
	return kitlog.With(logger, "team", teamID)
}

// WithJobID decorates a logger with the job a log line concerns.
func WithJobID(jobID string, logger kitlog.Logger) kitlog.Logger {
	return kitlog.With(logger, "job", jobID)
}
