package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// AccessLogger writes one line per closed connection to the file named by
// Global.AccessLog. It discards everything while no file is configured.
type AccessLogger struct {
	mu     sync.RWMutex
	logger *log.Logger
	file   *os.File
	path   string
}

func NewAccessLogger() (l *AccessLogger) {
	l = &AccessLogger{
		logger: log.New(io.Discard, "", log.LstdFlags|log.LUTC),
	}
	return
}

func (l *AccessLogger) close() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.logger.SetOutput(io.Discard)
}

// Close closes the log file
func (l *AccessLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.close()
	l.path = ""
}

// Update reopens the log file named by cfg. The file is reopened even when
// the name is unchanged so rotated files are released.
func (l *AccessLogger) Update(cfg *Config) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.close()
	l.path = cfg.Global.AccessLog
	if l.path == "" {
		return
	}
	l.file, err = os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		err = fmt.Errorf("access log %q open error: %w", l.path, err)
		l.path = ""
		return
	}
	l.logger.SetOutput(l.file)
	return
}

func (l *AccessLogger) Print(v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.file != nil {
		l.logger.Print(v...)
	}
}

func (l *AccessLogger) Printf(format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.file != nil {
		l.logger.Printf(format, v...)
	}
}

func (l *AccessLogger) Println(v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.file != nil {
		l.logger.Println(v...)
	}
}
