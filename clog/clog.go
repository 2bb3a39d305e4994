// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package clog is the leveled, printf-style logger embedded by every layer of
// the stack. Output goes through zap unless a custom LogProvider is installed.
package clog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// LogProvider RFC5424 log message levels only Debug Warn and Error
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

var (
	baseMu sync.RWMutex
	base   = newBase()
)

// newBase logs at debug level; LogMode is the only gate on output.
func newBase() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetBaseLogger replaces the zap logger used by loggers created afterwards.
// A nil logger disables output entirely.
func SetBaseLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

// BaseLogger returns the zap logger new loggers derive from.
func BaseLogger() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Clog logger wrapper. Zero value discards everything.
type Clog struct {
	provider LogProvider
	// is log output enabled, 1: enable, 0: disable
	has uint32
}

// NewLogger creates a new logger whose lines carry the given prefix and fields.
// Output is disabled until LogMode(true) is called.
func NewLogger(prefix string, fields ...zap.Field) Clog {
	return Clog{
		provider: NewZapProvider(BaseLogger().With(fields...), prefix),
	}
}

// LogMode set enable or disable log output when you has set provider
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider set provider provider
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

// Critical Log CRITICAL level message.
func (sf Clog) Critical(format string, v ...interface{}) {
	if sf.provider != nil && atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if sf.provider != nil && atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if sf.provider != nil && atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if sf.provider != nil && atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// zapProvider adapts a zap logger to LogProvider.
type zapProvider struct {
	sugar  *zap.SugaredLogger
	prefix string
}

// NewZapProvider returns a LogProvider writing through l.
func NewZapProvider(l *zap.Logger, prefix string) LogProvider {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapProvider{sugar: l.WithOptions(zap.AddCallerSkip(2)).Sugar(), prefix: prefix}
}

func (sf *zapProvider) msg(format string, v []interface{}) string {
	return sf.prefix + fmt.Sprintf(format, v...)
}

// Critical logs at error level, flagged critical.
func (sf *zapProvider) Critical(format string, v ...interface{}) {
	sf.sugar.Errorw(sf.msg(format, v), "critical", true)
}

func (sf *zapProvider) Error(format string, v ...interface{}) {
	sf.sugar.Error(sf.msg(format, v))
}

func (sf *zapProvider) Warn(format string, v ...interface{}) {
	sf.sugar.Warn(sf.msg(format, v))
}

func (sf *zapProvider) Debug(format string, v ...interface{}) {
	sf.sugar.Debug(sf.msg(format, v))
}
