package http11

import (
	"bytes"
	"unicode/utf8"
)

// Advance consumes as much of buf as the state allows and returns the next
// state. buf always holds the request from its first byte; s carries the
// offset reached so far. Incomplete input returns s unchanged, so feeding the
// head at once or byte by byte ends in the same state.
func Advance(s State, buf []byte) State {
	for {
		var next State
		switch s.Phase {
		case Initial:
			next = parseRequestLine(s, buf)
		case HasRequestLine:
			next = parseHeaders(s, buf)
		default:
			return s
		}
		if next.Phase == s.Phase {
			return next
		}
		s = next
	}
}

func parseRequestLine(s State, buf []byte) State {
	line, end, ok := nextLine(buf, 0)
	if !ok {
		return s
	}
	if end < 0 {
		return StateError(InvalidHTTP)
	}
	rl, ok := splitRequestLine(line)
	if !ok {
		return StateError(InvalidHTTP)
	}
	return StateHasRequestLine(end, rl)
}

func parseHeaders(s State, buf []byte) State {
	off := s.Offset
	for {
		line, end, ok := nextLine(buf, off)
		if !ok {
			if off == s.Offset {
				return s
			}
			return StateHasRequestLine(off, s.RequestLine)
		}
		if end < 0 {
			return StateError(InvalidHTTP)
		}
		if len(line) == 0 {
			return StateError(MissingHost)
		}
		name, value, ok := splitHeader(line)
		if !ok {
			return StateError(InvalidHTTP)
		}
		if string(name) == "Host" {
			if !utf8.Valid(value) {
				return StateError(InvalidHTTP)
			}
			return StateHasHost(end, s.RequestLine, string(value))
		}
		off = end
	}
}

// nextLine returns the line starting at off without its CRLF and the offset
// just past it. ok is false when no line feed is buffered yet; end is -1 when
// the line feed is not preceded by a carriage return.
func nextLine(buf []byte, off int) (line []byte, end int, ok bool) {
	if off > len(buf) {
		return
	}
	idx := bytes.IndexByte(buf[off:], '\n')
	if idx < 0 {
		return
	}
	ok = true
	if idx == 0 || buf[off+idx-1] != '\r' {
		end = -1
		return
	}
	line = buf[off : off+idx-1]
	end = off + idx + 1
	return
}

func splitRequestLine(line []byte) (rl RequestLine, ok bool) {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return
	}
	method := line[:sp1]
	for _, c := range method {
		if !isTokenChar(c) {
			return
		}
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return
	}
	target := rest[:sp2]
	for _, c := range target {
		if c <= ' ' || c >= 0x7f {
			return
		}
	}
	ver, ok := parseVersion(rest[sp2+1:])
	if !ok {
		return
	}
	rl = RequestLine{
		Method:  string(method),
		Target:  string(target),
		Version: ver,
	}
	return
}

func parseVersion(b []byte) (v Version, ok bool) {
	if len(b) != 8 || string(b[:5]) != "HTTP/" || b[6] != '.' {
		return
	}
	if !isDigit(b[5]) || !isDigit(b[7]) {
		return
	}
	v = Version{Major: int(b[5] - '0'), Minor: int(b[7] - '0')}
	ok = true
	return
}

// splitHeader splits a field line into name and value with the optional
// whitespace around the value removed. Obsolete line folding is rejected.
func splitHeader(line []byte) (name, value []byte, ok bool) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return
	}
	name = line[:idx]
	for _, c := range name {
		if !isTokenChar(c) {
			return
		}
	}
	value = trimOWS(line[idx+1:])
	for _, c := range value {
		if (c < ' ' && c != '\t') || c == 0x7f {
			return
		}
	}
	ok = true
	return
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isTokenChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
