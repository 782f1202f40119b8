// Package log provides structured logging for pcode using zap.
package log

import (
	"math/big"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with helpers for micro-op tracing.
type Logger struct {
	*zap.Logger
	onTrace func(pc int, opcode, detail string) // called for every traced micro op
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// FromZap wraps an existing zap logger, e.g. one backed by an observer core.
func FromZap(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// Default returns the global logger if initialized, otherwise a no-op logger.
func Default() *Logger {
	if L != nil {
		return L
	}
	return NewNop()
}

// SetOnTrace sets the callback invoked by Trace.
func (l *Logger) SetOnTrace(fn func(pc int, opcode, detail string)) {
	l.onTrace = fn
}

// Trace reports an executed micro op.
func (l *Logger) Trace(pc int, opcode, detail string) {
	if l.onTrace != nil {
		l.onTrace(pc, opcode, detail)
	}
	l.Debug("exec",
		zap.Int("pc", pc),
		zap.String("op", opcode),
		zap.String("detail", detail),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("cat", category)),
		onTrace: l.onTrace,
	}
}

// Hex formats an arbitrary precision integer as a hex string.
func Hex(v *big.Int) string {
	if v == nil {
		return "<nil>"
	} else if v.Sign() < 0 {
		return "-0x" + new(big.Int).Neg(v).Text(16)
	}
	return "0x" + v.Text(16)
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr *big.Int) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Value creates a value field.
func Value(v *big.Int) zap.Field {
	return zap.String("value", Hex(v))
}

// Size creates a size field, in bytes.
func Size(size int) zap.Field {
	return zap.Int("size", size)
}

// PC creates a micro program counter field.
func PC(pc int) zap.Field {
	return zap.Int("pc", pc)
}

// Space creates an address space field.
func Space(name string) zap.Field {
	return zap.String("space", name)
}

// Op creates an opcode field.
func Op(name string) zap.Field {
	return zap.String("op", name)
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
