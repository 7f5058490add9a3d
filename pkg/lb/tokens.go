package lb

import (
	"fmt"
)

// ClientToken indexes the client table.
type ClientToken int

// BackendToken indexes the backend table, which maps back to a ClientToken.
type BackendToken int

type tokenKind int

const (
	tokenUnknown tokenKind = iota
	tokenListener
	tokenClient
	tokenBackend
	tokenWaker
)

func (k tokenKind) String() string {
	switch k {
	case tokenListener:
		return "listener"
	case tokenClient:
		return "client"
	case tokenBackend:
		return "backend"
	case tokenWaker:
		return "waker"
	}
	return "unknown"
}

// tokenSpace partitions the poller token range: the listener takes 0, then
// come capacity client tokens, capacity backend tokens and the waker.
type tokenSpace struct {
	capacity int
}

const listenerToken uint32 = 0

func (ts tokenSpace) clientBase() uint32 {
	return 1
}

func (ts tokenSpace) backendBase() uint32 {
	return 1 + uint32(ts.capacity)
}

func (ts tokenSpace) waker() uint32 {
	return 1 + 2*uint32(ts.capacity)
}

func (ts tokenSpace) client(t ClientToken) uint32 {
	if t < 0 || int(t) >= ts.capacity {
		panic(fmt.Sprintf("client token %d out of range", t))
	}
	return ts.clientBase() + uint32(t)
}

func (ts tokenSpace) backend(t BackendToken) uint32 {
	if t < 0 || int(t) >= ts.capacity {
		panic(fmt.Sprintf("backend token %d out of range", t))
	}
	return ts.backendBase() + uint32(t)
}

// classify returns the kind of a raw token and its index within that kind.
func (ts tokenSpace) classify(raw uint32) (kind tokenKind, idx int) {
	switch {
	case raw == listenerToken:
		return tokenListener, 0
	case raw < ts.backendBase():
		return tokenClient, int(raw - ts.clientBase())
	case raw < ts.waker():
		return tokenBackend, int(raw - ts.backendBase())
	case raw == ts.waker():
		return tokenWaker, 0
	}
	return tokenUnknown, -1
}
