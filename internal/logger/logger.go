package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	sugar atomic.Pointer[zap.SugaredLogger]
)

func init() {
	sugar.Store(build("console").Sugar())
}

func build(format string) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Configure sets the minimum level (debug, info, warn or error) and the
// output format (console or json).
func Configure(lvl, format string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		return errors.Wrapf(err, "log level %q", lvl)
	}
	switch format {
	case "", "console", "json":
	default:
		return errors.Newf("log format %q: want console or json", format)
	}
	level.SetLevel(l)
	sugar.Store(build(format).Sugar())
	return nil
}

// Use routes all output to l. Level filtering is left to l's core.
func Use(l *zap.Logger) {
	sugar.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

// Enabled reports whether messages at lvl are written.
func Enabled(lvl zapcore.Level) bool {
	return sugar.Load().Desugar().Core().Enabled(lvl)
}

// Sync flushes buffered output.
func Sync() {
	_ = sugar.Load().Sync()
}

// Fatal logs at fatal level and exits.
// Arguments are handled in the manner of [fmt.Printf].
func Fatal(format string, args ...interface{}) {
	sugar.Load().Fatalf(format, args...)
}

// Error logs at error level.
// Arguments are handled in the manner of [fmt.Printf].
func Error(format string, args ...interface{}) {
	sugar.Load().Errorf(format, args...)
}

// Warn logs at warn level.
// Arguments are handled in the manner of [fmt.Printf].
func Warn(format string, args ...interface{}) {
	sugar.Load().Warnf(format, args...)
}

// Info logs at info level.
// Arguments are handled in the manner of [fmt.Printf].
func Info(format string, args ...interface{}) {
	sugar.Load().Infof(format, args...)
}

// Debug logs at debug level.
// Arguments are handled in the manner of [fmt.Printf].
func Debug(format string, args ...interface{}) {
	sugar.Load().Debugf(format, args...)
}
