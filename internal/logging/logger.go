package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much the logger writes.
type Options struct {
	Directory  string
	Name       string
	Level      string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	Console    bool
}

// New builds a zap logger that writes each level to its own rotating JSON file
// and, optionally, everything at or above Level to stderr.
func New(opts Options) (*zap.Logger, error) {
	minLevel := zapcore.InfoLevel
	if opts.Level != "" {
		if err := minLevel.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}
	if opts.Name == "" {
		opts.Name = "malasakit"
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		TimeKey:      "time",
		NameKey:      "logger",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core
	if opts.Directory != "" {
		if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}
		for _, level := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
			if level < minLevel {
				continue
			}
			cores = append(cores, newFileCore(opts, level, encoderConfig))
		}
	}
	if opts.Console || len(cores) == 0 {
		cores = append(cores, newConsoleCore(minLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// newFileCore writes exactly one level to <dir>/<name>-<level>.log.
func newFileCore(opts Options, level zapcore.Level, encoderConfig zapcore.EncoderConfig) zapcore.Core {
	fileName := filepath.Join(opts.Directory, fmt.Sprintf("%s-%s.log", opts.Name, level.String()))
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    orDefault(opts.MaxSize, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAge, 7),
		Compress:   opts.Compress,
	})
	levelEnabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l == level
	})
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, levelEnabler)
}

func newConsoleCore(minLevel zapcore.Level) zapcore.Core {
	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig),
		zapcore.AddSync(os.Stderr),
		zap.NewAtomicLevelAt(minLevel),
	)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
