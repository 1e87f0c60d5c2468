package common

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --------------------------------------------------------------------------
// Zap Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// zapLogger implements the ILogger interface on top of a zap logger. Every
// package logger has its own atomic level.
type zapLogger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

func (l *zapLogger) SetLevel(level logger.LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *zapLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *zapLogger) Panicf(format string, args ...interface{}) {
	l.sugar.Panicf(format, args...)
}

func toZapLevel(level logger.LogLevel) zapcore.Level {
	switch level {
	case logger.DEBUG:
		return zapcore.DebugLevel
	case logger.INFO:
		return zapcore.InfoLevel
	case logger.WARNING:
		return zapcore.WarnLevel
	case logger.ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	encoderOnce sync.Once
	encoder     zapcore.Encoder
)

func consoleEncoder() zapcore.Encoder {
	encoderOnce.Do(func() {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	})
	return encoder
}

// CreateLogger creates the logger of a package, writing to stdout with level INFO
func CreateLogger(pkgName string) logger.ILogger {
	return NewZapLogger(pkgName, zapcore.AddSync(os.Stdout))
}

// NewZapLogger creates a package logger writing to out
func NewZapLogger(pkgName string, out zapcore.WriteSyncer) logger.ILogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(consoleEncoder(), zapcore.Lock(out), level)
	return &zapLogger{
		level: level,
		sugar: zap.New(core).Named(pkgName).Sugar(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// dragonboatLoggers are the loggers of the raft library, they are only set to
// the configured level if it is at least warning
var dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb", "config"}

// Loggers lists the loggers of this module
var Loggers = []string{"db", "cache", "profiling", "funnel", "lock", "async", "bolt", "raftdb-engine", "rpc", "transport/rpc"}

// InitLoggers installs the zap logger factory and sets the level of all loggers
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range Loggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	raftLevel := lvl
	if raftLevel > logger.WARNING {
		raftLevel = logger.WARNING
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(raftLevel)
	}
	return nil
}
