package mlog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, See also zapcore.ParseLevel.
	Level string `yaml:"level"`

	// File that logger will be writen into.
	// Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)

	atomicLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	l           = zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), stderr, atomicLevel))
	s           = l.Sugar()

	nop = zap.NewNop()
)

// NewLogger builds a logger from lc and makes it the global logger.
// The level of the returned logger can be changed later by SetLevel.
func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl, err := parseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel.SetLevel(lvl)

	out := stderr
	if len(lc.File) > 0 {
		f, _, err := zap.Open(lc.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	}

	var encoder zapcore.Encoder
	if lc.Production {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	logger := zap.New(zapcore.NewCore(encoder, out, atomicLevel), zap.AddCaller())
	l = logger
	s = logger.Sugar()
	return logger, nil
}

// SetLevel changes the level of all loggers built by NewLogger.
func SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	atomicLevel.SetLevel(lvl)
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if len(level) == 0 {
		return zap.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// L is a global logger.
func L() *zap.Logger {
	return l
}

// S is a global sugared logger.
func S() *zap.SugaredLogger {
	return s
}

// Nop is a logger that never writes out logs.
func Nop() *zap.Logger {
	return nop
}
