package lb

import (
	"fmt"
)

type CommandKind int

const (
	AddFront CommandKind = iota + 1
	RemoveFront
	AddBackend
	RemoveBackend
)

func (k CommandKind) String() string {
	switch k {
	case AddFront:
		return "add-front"
	case RemoveFront:
		return "remove-front"
	case AddBackend:
		return "add-backend"
	case RemoveBackend:
		return "remove-backend"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// Command mutates the route table of a Driver. Front is a host name, or "*"
// for the default front; Address is an ip:port pair.
type Command struct {
	Kind    CommandKind
	Front   string
	Backend string
	Address string
}

func (c Command) String() string {
	switch c.Kind {
	case AddFront:
		return fmt.Sprintf("%v %s %s", c.Kind, c.Front, c.Backend)
	case RemoveFront:
		return fmt.Sprintf("%v %s", c.Kind, c.Front)
	}
	return fmt.Sprintf("%v %s %s", c.Kind, c.Backend, c.Address)
}

// Order is sent to a Driver over its control channel. Exactly one of Stop and
// Command is set.
type Order struct {
	ID      uint64
	Stop    bool
	Command *Command
}

type ResultKind int

const (
	AddedFront ResultKind = iota + 1
	RemovedFront
	AddedBackend
	RemovedBackend
	Stopped
	Rejected
)

func (k ResultKind) String() string {
	switch k {
	case AddedFront:
		return "added-front"
	case RemovedFront:
		return "removed-front"
	case AddedBackend:
		return "added-backend"
	case RemovedBackend:
		return "removed-backend"
	case Stopped:
		return "stopped"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("result(%d)", int(k))
}

func resultKindOf(k CommandKind) ResultKind {
	switch k {
	case AddFront:
		return AddedFront
	case RemoveFront:
		return RemovedFront
	case AddBackend:
		return AddedBackend
	case RemoveBackend:
		return RemovedBackend
	}
	return Rejected
}

// Result acknowledges an Order. Listener is the name of the answering Driver.
type Result struct {
	ID       uint64
	Listener string
	Kind     ResultKind
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v error: %v", r.Listener, r.Kind, r.Err)
	}
	return fmt.Sprintf("%s: %v", r.Listener, r.Kind)
}
