// Package logctx attaches a per-run logrus logger to a context.Context,
// mirroring the way the registry server configures and carries a single
// logrus instance through a request's lifetime.
package logctx

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From returns the logger attached to ctx, or a disconnected default
// logger if none was attached.
func From(ctx context.Context) *logrus.Entry {
	if l, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// New builds the base logger for a run, named after the backup set, at
// the given level ("debug", "info", "warn", "error").
func New(setName string, level string) (*logrus.Entry, error) {
	logger := logrus.New()
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(lvl)
	}
	return logger.WithField("set", setName), nil
}
