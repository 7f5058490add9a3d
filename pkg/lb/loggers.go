package lb

import (
	"sync/atomic"

	"github.com/simult/loopproxy/pkg/logger"
)

var (
	errorLogger   logger.Logger = &logger.NullLogger{}
	warningLogger logger.Logger = &logger.NullLogger{}
	infoLogger    logger.Logger = &logger.NullLogger{}
	debugLogger   logger.Logger = &logger.NullLogger{}

	loggersInitialized uint32
)

// InitializeLoggers sets the package loggers. It can be called once, before
// any Driver runs.
func InitializeLoggers(err, warn, info, dbg logger.Logger) {
	if !atomic.CompareAndSwapUint32(&loggersInitialized, 0, 1) {
		panic("loggers already initialized")
	}
	errorLogger = err
	warningLogger = warn
	infoLogger = info
	debugLogger = dbg
}

var accessLogger logger.Logger = &logger.NullLogger{}

// SetAccessLogger sets the logger receiving one line per closed connection.
// It must be called before any Driver runs.
func SetAccessLogger(l logger.Logger) {
	accessLogger = l
}
