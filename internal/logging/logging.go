/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the levelled logger shared by every gralloc package.
//
// The default level is Warn. The process env `GRALLOC_LOG_LEVEL` accepts
// either a numeric level (0 trace .. 5 silent) or a logrus level name.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

const envLogLevel = "GRALLOC_LOG_LEVEL"

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.999999",
	})
	SetLogLevel(LevelWarn)
	if v := os.Getenv(envLogLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			SetLogLevel(n)
		} else {
			_ = SetLevelName(v)
		}
	}
}

// Logger is a named view on the shared logrus logger.
type Logger struct {
	entry *logrus.Entry
}

// New returns a logger whose records carry component=name.
func New(name string) *Logger {
	return &Logger{entry: base.WithField("component", name)}
}

// With returns a child logger with an extra field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Tracef(format string, a ...interface{}) { l.entry.Tracef(format, a...) }
func (l *Logger) Debugf(format string, a ...interface{}) { l.entry.Debugf(format, a...) }
func (l *Logger) Infof(format string, a ...interface{})  { l.entry.Infof(format, a...) }
func (l *Logger) Warnf(format string, a ...interface{})  { l.entry.Warnf(format, a...) }
func (l *Logger) Errorf(format string, a ...interface{}) { l.entry.Errorf(format, a...) }

// SetLogLevel changes the level of every Logger. Out of range values are ignored.
func SetLogLevel(level int) {
	switch level {
	case LevelTrace:
		base.SetLevel(logrus.TraceLevel)
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelInfo:
		base.SetLevel(logrus.InfoLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	case LevelNoPrint:
		base.SetLevel(logrus.PanicLevel)
	}
}

// SetLevelName sets the level from a logrus level name such as "debug".
func SetLevelName(name string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput redirects every Logger.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	base.SetOutput(w)
}

// Base exposes the underlying logrus logger for hooks and formatters.
func Base() *logrus.Logger {
	return base
}
