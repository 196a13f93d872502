// Package logger owns the process-wide zap logger: a colored console core
// on stderr plus an optional JSON file core rotated by lumberjack.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the global logger.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // console or json
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	NoColor    bool   `mapstructure:"no_color" yaml:"no_color"`
}

var (
	globalLogger atomic.Pointer[zap.Logger]
	fileWriter   atomic.Pointer[lumberjack.Logger]
	once         sync.Once
)

const (
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorReset  = "\x1b[0m"
)

// Init builds the global logger writing the console core to stderr. Only
// the first call has an effect until ResetForTest.
func Init(cfg Config) {
	InitWithWriter(cfg, zapcore.Lock(os.Stderr))
}

// InitWithWriter is Init with an explicit console writer.
func InitWithWriter(cfg Config, console zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{zapcore.NewCore(encoder(cfg), console, level)}
		if cfg.File != "" {
			lj := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}
			fileWriter.Store(lj)
			cores = append(cores, zapcore.NewCore(encoder(Config{Format: "json"}), zapcore.AddSync(lj), level))
		}

		l := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
		globalLogger.Store(l)
		zap.ReplaceGlobals(l)
	})
}

func encoder(cfg Config) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	if cfg.Format == "json" {
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = levelEncoder(!cfg.NoColor)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ":")
	}
	return zapcore.NewConsoleEncoder(ec)
}

func levelEncoder(color bool) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		s := strings.ToUpper(level.String())
		if !color {
			enc.AppendString(s)
			return
		}
		c := colorReset
		switch level {
		case zapcore.DebugLevel:
			c = colorCyan
		case zapcore.InfoLevel:
			c = colorGreen
		case zapcore.WarnLevel:
			c = colorYellow
		default:
			if level >= zapcore.ErrorLevel {
				c = colorRed
			}
		}
		enc.AppendString(c + s + colorReset)
	}
}

// L returns the global logger, or a no-op logger before Init.
func L() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries, ignoring the errors syncing a terminal
// produces on some platforms.
func Sync() {
	l := globalLogger.Load()
	if l == nil {
		return
	}
	if err := l.Sync(); err != nil {
		msg := err.Error()
		if !strings.Contains(msg, "/dev/stderr") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "inappropriate ioctl") {
			fmt.Fprintln(os.Stderr, "failed to sync logger:", err)
		}
	}
}

// Close flushes the logger and closes the log file.
func Close() {
	Sync()
	if lj := fileWriter.Swap(nil); lj != nil {
		_ = lj.Close()
	}
}

// ResetForTest clears the global logger so Init can run again.
func ResetForTest() {
	Close()
	globalLogger.Store(nil)
	once = sync.Once{}
}

// GetWriter returns the log file writer, for tools that emit raw output
// next to the structured log.
func GetWriter() io.Writer {
	if lj := fileWriter.Load(); lj != nil {
		return lj
	}
	return io.Discard
}

// Info logs a formatted info message.
func Info(format string, v ...interface{}) {
	L().WithOptions(zap.AddCallerSkip(1)).Info(fmt.Sprintf(format, v...))
}

// Debug logs a formatted debug message.
func Debug(format string, v ...interface{}) {
	L().WithOptions(zap.AddCallerSkip(1)).Debug(fmt.Sprintf(format, v...))
}

// Warn logs a formatted warning.
func Warn(format string, v ...interface{}) {
	L().WithOptions(zap.AddCallerSkip(1)).Warn(fmt.Sprintf(format, v...))
}

// Error logs a formatted error message.
func Error(format string, v ...interface{}) {
	L().WithOptions(zap.AddCallerSkip(1)).Error(fmt.Sprintf(format, v...))
}
