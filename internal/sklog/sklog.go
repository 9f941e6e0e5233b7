// Package sklog defines the leveled logging functions used throughout
// ventifact (Debug, Info, Warning, Error, Fatal), backed by logrus.
package sklog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel configures the minimum level that will be emitted.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }

func Debug(args ...interface{}) { std.Debug(args...) }
func Info(args ...interface{})  { std.Info(args...) }
func Error(args ...interface{}) { std.Error(args...) }

// WithFields returns an entry that can be used to attach structured context,
// e.g. sklog.WithFields(map[string]interface{}{"source": s, "ext_id": id}).Error(err).
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}
