// Package rlog provides the structured logging used across wkrpc's
// components, adapted from the host application's zap-based logger but
// named by component (zap.Named) rather than bracket-prefixed.
package rlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger.
type Options struct {
	Level    zapcore.Level
	LogDir   string // empty disables file rotation, stderr only
	MaxSizeMB int
	MaxBackups int
	MaxAgeDays int
}

func NewOptions() *Options {
	return &Options{
		Level:      zapcore.InfoLevel,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 7,
	}
}

var (
	mu   sync.Mutex
	base *zap.Logger = zap.NewNop()
)

// Configure installs the process-wide base logger. Safe to call once at
// startup; components created afterward pick it up via New.
func Configure(opts *Options) {
	mu.Lock()
	defer mu.Unlock()
	if opts == nil {
		opts = NewOptions()
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	var writer zapcore.WriteSyncer
	if opts.LogDir == "" {
		writer = zapcore.AddSync(os.Stderr)
	} else {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogDir + "/wkrpc.log",
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		})
	}
	core := zapcore.NewCore(enc, writer, opts.Level)
	base = zap.New(core, zap.AddCaller())
}

// Log is the logging interface every stateful component embeds.
type Log interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Panic(msg string, fields ...zap.Field)
}

type namedLog struct {
	l *zap.Logger
}

// New returns a Log named for the given component, e.g. "server",
// "pool", "conn:127.0.0.1:9000".
func New(component string) Log {
	mu.Lock()
	l := base
	mu.Unlock()
	return &namedLog{l: l.Named(component)}
}

func (n *namedLog) Debug(msg string, fields ...zap.Field) { n.l.Debug(msg, fields...) }
func (n *namedLog) Info(msg string, fields ...zap.Field)  { n.l.Info(msg, fields...) }
func (n *namedLog) Warn(msg string, fields ...zap.Field)  { n.l.Warn(msg, fields...) }
func (n *namedLog) Error(msg string, fields ...zap.Field) { n.l.Error(msg, fields...) }
func (n *namedLog) Panic(msg string, fields ...zap.Field) { n.l.Panic(msg, fields...) }
