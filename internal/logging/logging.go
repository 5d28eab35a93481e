// Package logging replaces the C-style variadic FATAL/ERROR/WARNING/INFO
// macros of original_source/src/macros.h with a leveled, structured
// logging facade over logrus. ERROR and FATAL keep the macros'
// errno-appending behavior; FATAL additionally terminates the process.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if os.Getenv("LRUN_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Info logs an informational message. Mirrors macros.h's INFO, which only
// emits when compiled with DEBUG; here it emits at DebugLevel so the
// default logger is quiet unless LRUN_DEBUG is set.
func Info(op, format string, args ...any) {
	log.WithField("op", op).Debugf(format, args...)
}

// Warning logs a recoverable problem. Mirrors macros.h's WARNING.
func Warning(op string, err error, format string, args ...any) {
	entry := log.WithField("op", op)
	if err != nil {
		entry = entry.WithField("err", err)
	}
	entry.Warnf(format, args...)
}

// Error logs a failed operation whose caller decides how to proceed.
// Mirrors macros.h's ERROR, which appends strerror(errno) when errno is
// set; here that's simply err.Error() on the wrapped cause.
func Error(op string, err error, format string, args ...any) {
	entry := log.WithField("op", op)
	if err != nil {
		entry = entry.WithField("err", err)
	}
	entry.Errorf(format, args...)
}

// Fatal logs an unrecoverable setup failure and terminates the process.
// Mirrors macros.h's FATAL, which prints and calls exit(-1).
func Fatal(op string, err error, format string, args ...any) {
	entry := log.WithField("op", op)
	if err != nil {
		entry = entry.WithField("err", err)
	}
	entry.Fatalf(format, args...)
}
