// Package obslog provides the leveled logger the join core's collaborators
// pass down into drivers and peering, following csvquery's pattern of
// threading a config/verbosity value through structs instead of reaching for
// a package-global logger.
package obslog

import (
	"go.uber.org/zap"
)

// Logger is the minimal leveled-logging surface the core's collaborators
// require. Field values follow the logrus convention (a loosely typed map)
// so either a zap or a logrus backend can implement it; New returns the
// zap-backed implementation.
type Logger interface {
	Debugw(msg string, fields map[string]any)
	Infow(msg string, fields map[string]any)
	Warnw(msg string, fields map[string]any)
	Errorw(msg string, fields map[string]any)
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a zap-backed Logger. verbose mirrors csvquery's Verbose flag:
// when false, Debugw calls are suppressed.
func New(verbose bool) (Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

// Noop returns a Logger that discards everything; useful for tests and for
// unit-level exercise of drivers that take a Logger but don't care about it.
func Noop() Logger { return &zapLogger{s: zap.NewNop().Sugar()} }

func flatten(fields map[string]any) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func (l *zapLogger) Debugw(msg string, fields map[string]any) { l.s.Debugw(msg, flatten(fields)...) }
func (l *zapLogger) Infow(msg string, fields map[string]any)  { l.s.Infow(msg, flatten(fields)...) }
func (l *zapLogger) Warnw(msg string, fields map[string]any)  { l.s.Warnw(msg, flatten(fields)...) }
func (l *zapLogger) Errorw(msg string, fields map[string]any) { l.s.Errorw(msg, flatten(fields)...) }
func (l *zapLogger) Sync() error                              { return l.s.Sync() }
