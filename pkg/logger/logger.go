package logger

import (
	"io"
	"log"
)

// Logger is the minimal logging surface used by all packages
type Logger interface {
	Print(...interface{})
	Printf(string, ...interface{})
	Println(...interface{})
}

type StdLogger interface {
	Logger

	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Fatalln(...interface{})
}

// NullLogger discards everything
type NullLogger struct {
}

func (l *NullLogger) Print(...interface{}) {
}

func (l *NullLogger) Printf(string, ...interface{}) {
}

func (l *NullLogger) Println(...interface{}) {
}

// Set groups the four severities packages log with
type Set struct {
	Error   Logger
	Warning Logger
	Info    Logger
	Debug   Logger
}

// NewSet creates a Set writing to w with severity prefixes. Debug output is
// discarded unless debug is true.
func NewSet(w io.Writer, debug bool) Set {
	s := Set{
		Error:   log.New(w, "ERROR ", log.LstdFlags),
		Warning: log.New(w, "WARNING ", log.LstdFlags),
		Info:    log.New(w, "INFO ", log.LstdFlags),
		Debug:   &NullLogger{},
	}
	if debug {
		s.Debug = log.New(w, "DEBUG ", log.LstdFlags)
	}
	return s
}

// NullSet returns a Set of NullLoggers
func NullSet() Set {
	return Set{&NullLogger{}, &NullLogger{}, &NullLogger{}, &NullLogger{}}
}
