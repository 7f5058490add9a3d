// Package lb is the single-threaded proxy core: a Driver owns one listening
// socket, an epoll poller and every connection accepted from it, and relays
// bytes between clients and backends without blocking.
package lb

import (
	"github.com/pkg/errors"
)

const (
	// DefaultMaxConnections is the client table capacity when none is given
	DefaultMaxConnections = 1024

	defaultEventsSize = 256
	defaultOrdersSize = 64
)

var (
	errDriverStopped        = errors.New("driver stopped")
	errOrdersFull           = errors.New("orders queue full")
	errTableFull            = errors.New("connection table full")
	errFindBackendServer    = errors.New("can not find backend server")
	errConnectBackendServer = errors.New("can not connect backend server")
	errHeadTooLarge         = errors.New("request head too large")
)
