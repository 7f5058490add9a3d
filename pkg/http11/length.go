package http11

import (
	"bytes"
	"fmt"
	"strconv"
)

type LengthKind int

const (
	Length LengthKind = iota
	Chunked
	Compressed
)

func (k LengthKind) String() string {
	switch k {
	case Length:
		return "length"
	case Chunked:
		return "chunked"
	case Compressed:
		return "compressed"
	}
	return fmt.Sprintf("length-kind(%d)", int(k))
}

// LengthInfo describes how the request body is delimited. N is only set for
// Length.
type LengthInfo struct {
	Kind LengthKind
	N    int64
}

func (l LengthInfo) String() string {
	if l.Kind == Length {
		return fmt.Sprintf("length(%d)", l.N)
	}
	return l.Kind.String()
}

var headTerminator = []byte("\r\n\r\n")

// Classify scans the complete request head in buf and returns how the body is
// delimited together with the head length n. ok is false until the blank line
// ending the head is buffered. The bytes themselves are never altered.
func Classify(buf []byte) (info LengthInfo, n int, ok bool, err error) {
	idx := bytes.Index(buf, headTerminator)
	if idx < 0 {
		return
	}
	n = idx + len(headTerminator)
	ok = true

	var te, ce, cl []byte
	var hasCL bool
	off := bytes.Index(buf, []byte("\r\n")) + 2
	for off < n-2 {
		line, end, _ := nextLine(buf, off)
		if end < 0 {
			err = &ParseError{Kind: InvalidHTTP, Reason: "malformed header line"}
			return
		}
		off = end
		name, value, valid := splitHeader(line)
		if !valid {
			err = &ParseError{Kind: InvalidHTTP, Reason: "malformed header line"}
			return
		}
		switch {
		case equalFold(name, "Transfer-Encoding"):
			te = value
		case equalFold(name, "Content-Encoding"):
			ce = value
		case equalFold(name, "Content-Length"):
			if hasCL && !bytes.Equal(cl, value) {
				err = &ParseError{Kind: InvalidHTTP, Reason: "conflicting content-length"}
				return
			}
			cl, hasCL = value, true
		}
	}

	if hasToken(te, "chunked") {
		info.Kind = Chunked
		return
	}
	if len(ce) > 0 && !equalFold(ce, "identity") {
		info.Kind = Compressed
		return
	}
	if hasCL {
		var l int64
		l, err = strconv.ParseInt(string(cl), 10, 63)
		if err != nil || l < 0 {
			err = &ParseError{Kind: InvalidHTTP, Reason: fmt.Sprintf("content-length %q", cl)}
			return
		}
		info.N = l
	}
	info.Kind = Length
	return
}

// hasToken reports whether the comma separated list contains tok, ignoring
// case.
func hasToken(list []byte, tok string) bool {
	for len(list) > 0 {
		var item []byte
		if idx := bytes.IndexByte(list, ','); idx >= 0 {
			item, list = list[:idx], list[idx+1:]
		} else {
			item, list = list, nil
		}
		if equalFold(trimOWS(item), tok) {
			return true
		}
	}
	return false
}

func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		x, y := b[i], s[i]
		if x >= 'A' && x <= 'Z' {
			x += 'a' - 'A'
		}
		if y >= 'A' && y <= 'Z' {
			y += 'a' - 'A'
		}
		if x != y {
			return false
		}
	}
	return true
}
