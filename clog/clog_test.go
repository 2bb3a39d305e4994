// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package clog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := BaseLogger()
	SetBaseLogger(zap.New(core))
	t.Cleanup(func() { SetBaseLogger(prev) })
	return logs
}

func TestLogModeGatesOutput(t *testing.T) {
	logs := observed(t)
	l := NewLogger("dnp3 => ")

	l.Debug("hidden %d", 1)
	if logs.Len() != 0 {
		t.Fatalf("expected no output before LogMode(true), got %d entries", logs.Len())
	}

	l.LogMode(true)
	l.Debug("shown %d", 2)
	l.Warn("warn %s", "x")
	l.Error("error")
	l.Critical("boom")
	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Message != "dnp3 => shown 2" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[2].Level != zapcore.ErrorLevel {
		t.Errorf("levels = %v, %v", entries[1].Level, entries[2].Level)
	}
	if v, ok := entries[3].ContextMap()["critical"]; !ok || v != true {
		t.Errorf("critical entry context = %v", entries[3].ContextMap())
	}

	l.LogMode(false)
	l.Error("hidden again")
	if logs.Len() != 4 {
		t.Errorf("expected output to stop after LogMode(false)")
	}
}

func TestNewLoggerFields(t *testing.T) {
	logs := observed(t)
	l := NewLogger("", zap.String("session", "abc"))
	l.LogMode(true)
	l.Debug("hello")
	got := logs.FilterField(zap.String("session", "abc")).Len()
	if got != 1 {
		t.Fatalf("entries with session field = %d, want 1", got)
	}
}

type recordProvider struct{ lines []string }

func (r *recordProvider) Critical(format string, v ...interface{}) { r.lines = append(r.lines, "C:"+format) }
func (r *recordProvider) Error(format string, v ...interface{})    { r.lines = append(r.lines, "E:"+format) }
func (r *recordProvider) Warn(format string, v ...interface{})     { r.lines = append(r.lines, "W:"+format) }
func (r *recordProvider) Debug(format string, v ...interface{})    { r.lines = append(r.lines, "D:"+format) }

func TestSetLogProvider(t *testing.T) {
	var zero Clog
	zero.Debug("no provider must not panic")

	p := &recordProvider{}
	l := NewLogger("")
	l.SetLogProvider(p)
	l.SetLogProvider(nil)
	l.LogMode(true)
	l.Warn("a")
	l.Debug("b")
	if len(p.lines) != 2 || p.lines[0] != "W:a" || p.lines[1] != "D:b" {
		t.Fatalf("lines = %v", p.lines)
	}
}

func TestDefaultBaseDebugEnabled(t *testing.T) {
	if !newBase().Core().Enabled(zapcore.DebugLevel) {
		t.Error("default base logger drops debug lines")
	}
}
