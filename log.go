package htcore

import "github.com/sirupsen/logrus"

// Logger is the narrow surface Pool and Conn log through. *logrus.Entry and
// *logrus.Logger both satisfy it. The teacher (fasthttp) exposes only a bare
// Printf-shaped Logger and stays silent otherwise; a pooled client that runs
// a background reaper and a strict per-connection state machine earns
// levelled, structured logging the way docker/compose's codebase does it.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

func defaultLogger() Logger {
	return logrus.StandardLogger()
}
