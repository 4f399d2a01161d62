// Package logger builds the zap loggers used throughout revd. The
// engine takes a *zap.SugaredLogger in its Config and hands
// component-tagged children of it to the ledger and the writer, so a
// process embedding revd can route all of its logging through one
// sink. The reader and the allocator do not log.
package logger

import "go.uber.org/zap"

// New builds a production zap logger tagged with the given service
// name, suitable for a long-running recording process.
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().With("service", service)
}

// Component returns a child logger tagged with the given component
// name, used to distinguish writer and ledger log lines within one
// service's output.
func Component(log *zap.SugaredLogger, component string) *zap.SugaredLogger {
	return log.With("component", component)
}

// Nop returns a logger that discards everything, for use in tests
// that don't want production logging noise.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
