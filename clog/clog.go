// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package clog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogProvider RFC5424 log message levels only Critical Error Warn and Debug
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// Clog Log internal debugging implementation
type Clog struct {
	provider LogProvider
	// is log output enabled,1: enable, 0: disable
	has uint32
}

// NewLogger creates a new log with the specified component name, backed by
// a logrus entry carrying component=prefix on every line.
func NewLogger(prefix string) Clog {
	return Clog{
		logrusLogger{logrus.WithField("component", prefix)},
		1,
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
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

// Error Log ERROR level message.
func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

// Warn Log WARN level message.
func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

// Debug Log DEBUG level message.
func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// logrusLogger is the default provider, wrapping a *logrus.Entry.
type logrusLogger struct {
	entry *logrus.Entry
}

var _ LogProvider = logrusLogger{}

// Critical Log CRITICAL level message. logrus has no distinct critical
// level, so it is mapped onto Error with a marker field.
func (sf logrusLogger) Critical(format string, v ...interface{}) {
	sf.entry.WithField("severity", "critical").Errorf(format, v...)
}

// Error Log ERROR level message.
func (sf logrusLogger) Error(format string, v ...interface{}) {
	sf.entry.Errorf(format, v...)
}

// Warn Log WARN level message.
func (sf logrusLogger) Warn(format string, v ...interface{}) {
	sf.entry.Warnf(format, v...)
}

// Debug Log DEBUG level message.
func (sf logrusLogger) Debug(format string, v ...interface{}) {
	sf.entry.Debugf(format, v...)
}
