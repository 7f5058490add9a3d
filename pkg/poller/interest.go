package poller

import (
	"strings"
)

// Interest is the set of readiness kinds a socket wants to hear about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) Has(o Interest) bool {
	return i&o == o && o != 0
}

func (i Interest) Insert(o Interest) Interest {
	return i | o
}

func (i Interest) Remove(o Interest) Interest {
	return i &^ o
}

func (i Interest) Empty() bool {
	return i&(Readable|Writable) == 0
}

func (i Interest) String() string {
	var s []string
	if i.Has(Readable) {
		s = append(s, "readable")
	}
	if i.Has(Writable) {
		s = append(s, "writable")
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "|")
}

// Mode selects how readiness is delivered.
type Mode int

const (
	Level Mode = iota
	Edge
	EdgeOneshot
)

// Event is one readiness notification.
type Event struct {
	Token    uint32
	Readable bool
	Writable bool
	Hangup   bool
	Error    bool
}
