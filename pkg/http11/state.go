// Package http11 parses HTTP/1.x request heads incrementally. The parser is a
// pure function over (state, buffer): it keeps no hidden position, so the same
// buffer may be fed again after more bytes arrive.
package http11

import (
	"fmt"
)

type Phase int

const (
	Initial Phase = iota
	HasRequestLine
	HasHost
	HeadersParsed
	Proxying
	Error
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "initial"
	case HasRequestLine:
		return "has-request-line"
	case HasHost:
		return "has-host"
	case HeadersParsed:
		return "headers-parsed"
	case Proxying:
		return "proxying"
	case Error:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type ErrorKind int

const (
	InvalidHTTP ErrorKind = iota + 1
	MissingHost
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidHTTP:
		return "invalid http"
	case MissingHost:
		return "missing host"
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// ParseError is returned by Classify and carries the same kinds as the error
// state.
type ParseError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

type Version struct {
	Major, Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

// State is the parse state of one connection. Only the fields that belong to
// Phase are meaningful; Offset is the first byte of the buffer that has not
// been consumed by the parser.
type State struct {
	Phase       Phase
	Offset      int
	RequestLine RequestLine
	Host        string
	Length      LengthInfo
	Backend     int
	Err         ErrorKind
}

func StateInitial() State {
	return State{Phase: Initial}
}

func StateError(kind ErrorKind) State {
	return State{Phase: Error, Err: kind}
}

func StateHasRequestLine(offset int, rl RequestLine) State {
	return State{Phase: HasRequestLine, Offset: offset, RequestLine: rl}
}

func StateHasHost(offset int, rl RequestLine, host string) State {
	return State{Phase: HasHost, Offset: offset, RequestLine: rl, Host: host}
}

// HasHeadersParsed moves a HasHost state forward once the data length of the
// request is known. Any other phase is returned unchanged.
func HasHeadersParsed(s State, length LengthInfo) State {
	if s.Phase != HasHost {
		return s
	}
	s.Phase = HeadersParsed
	s.Length = length
	return s
}

// WithBackend records the backend token and enters Proxying. Only a
// HeadersParsed state moves.
func WithBackend(s State, backend int) State {
	if s.Phase != HeadersParsed {
		return s
	}
	s.Phase = Proxying
	s.Backend = backend
	return s
}

func (s State) IsError() bool {
	return s.Phase == Error
}

// IsTerminal reports whether Advance leaves s unchanged whatever the input.
func (s State) IsTerminal() bool {
	return s.Phase == Error || s.Phase >= HasHost
}

// AtLeast reports whether s has reached phase p without failing.
func (s State) AtLeast(p Phase) bool {
	return s.Phase != Error && s.Phase >= p
}

func (s State) String() string {
	switch s.Phase {
	case Initial:
		return "Initial"
	case Error:
		return fmt.Sprintf("Error(%v)", s.Err)
	case HasRequestLine:
		return fmt.Sprintf("HasRequestLine(%d, %s %s %v)", s.Offset, s.RequestLine.Method, s.RequestLine.Target, s.RequestLine.Version)
	case HasHost:
		return fmt.Sprintf("HasHost(%d, %q)", s.Offset, s.Host)
	case HeadersParsed:
		return fmt.Sprintf("HeadersParsed(%d, %q, %v)", s.Offset, s.Host, s.Length)
	case Proxying:
		return fmt.Sprintf("Proxying(%q, %v, %d)", s.Host, s.Length, s.Backend)
	}
	return s.Phase.String()
}

// Transition reports whether moving from one state to another is legal: the
// phase never goes back, the offset never decreases, and Error may be entered
// from anywhere but never left.
func Transition(from, to State) bool {
	if from.Phase == Error {
		return to.Phase == Error && to.Err == from.Err
	}
	if to.Phase == Error {
		return true
	}
	if to.Phase < from.Phase {
		return false
	}
	return to.Offset >= from.Offset
}
