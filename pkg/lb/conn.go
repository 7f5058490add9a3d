//go:build linux

package lb

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/simult/loopproxy/pkg/http11"
	"github.com/simult/loopproxy/pkg/poller"
	"github.com/simult/loopproxy/pkg/rbuf"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// connEnv is what a Connection needs from its Driver.
type connEnv interface {
	// dialBackend starts connecting to a server for host and registers the
	// new socket under a backend token of c.
	dialBackend(c *Connection, host string) (fd int, bt BackendToken, err error)
	// release drops c and its backend token from the tables.
	release(c *Connection)
	listenerName() string
}

type sideState struct {
	io       sockIO
	interest poller.Interest
	applied  poller.Interest
	armed    bool
}

// Connection is one client session and its optional backend socket. Each
// direction owns exactly one buffer, either accumulating or draining.
type Connection struct {
	env   connEnv
	p     *poller.Poller
	ts    tokenSpace
	token ClientToken
	front sideState
	back  sideState

	hasBack    bool
	backToken  BackendToken
	connecting bool

	frontAccum *rbuf.Accum
	frontDrain *rbuf.Drain
	backAccum  *rbuf.Accum
	backDrain  *rbuf.Drain

	state    http11.State
	frontEOF bool
	backEOF  bool
	closed   bool

	started    time.Time
	lastActive time.Time
}

func newConnection(env connEnv, p *poller.Poller, ts tokenSpace, fd int, bufferSize int) *Connection {
	now := time.Now()
	c := &Connection{
		env:        env,
		p:          p,
		ts:         ts,
		frontAccum: rbuf.New(bufferSize),
		backAccum:  rbuf.New(bufferSize),
		state:      http11.StateInitial(),
		started:    now,
		lastActive: now,
	}
	c.front.io.fd = fd
	c.back.io.fd = -1
	return c
}

func (c *Connection) Token() ClientToken {
	return c.token
}

func (c *Connection) State() http11.State {
	return c.state
}

func (c *Connection) Closed() bool {
	return c.closed
}

// register adds the client socket to the poller with read interest.
func (c *Connection) register() error {
	c.front.interest = poller.Readable
	c.front.applied = c.front.interest
	c.front.armed = true
	return c.p.Register(c.front.io.fd, c.ts.client(c.token), c.front.interest, poller.EdgeOneshot)
}

// FrontReadable reads once from the client.
func (c *Connection) FrontReadable() {
	c.front.armed = false
	if c.closed || c.frontAccum == nil || c.frontEOF {
		return
	}
	n, err := c.frontAccum.Fill(&c.front.io)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		if err == io.EOF {
			c.frontClosed()
			return
		}
		c.fail(errors.WithStack(err))
		return
	}
	if n > 0 {
		c.lastActive = time.Now()
	}
	if c.state.Phase == http11.Proxying {
		c.flipFront()
		return
	}
	c.advance()
}

// frontClosed handles EOF from the client.
func (c *Connection) frontClosed() {
	if c.state.Phase != http11.Proxying {
		c.Close()
		return
	}
	c.frontEOF = true
	c.front.interest = c.front.interest.Remove(poller.Readable)
	if c.frontDrain == nil && !c.connecting {
		if err := shutdown(c.back.io.fd, unix.SHUT_WR); err != nil {
			c.fail(err)
		}
	}
}

func (c *Connection) advance() {
	buf := c.frontAccum.Bytes()
	c.state = http11.Advance(c.state, buf)
	if c.state.IsError() {
		promParseErrors.WithLabelValues(c.env.listenerName(), c.state.Err.String()).Inc()
		if c.state.Err == http11.MissingHost {
			c.fail(errHTTPMissingHost)
			return
		}
		c.fail(errHTTPInvalidRequest)
		return
	}
	if c.state.Phase == http11.HasHost {
		info, _, ok, err := http11.Classify(buf)
		if err != nil {
			c.state = http11.StateError(http11.InvalidHTTP)
			promParseErrors.WithLabelValues(c.env.listenerName(), c.state.Err.String()).Inc()
			c.fail(wrapHTTPError("protocol", err))
			return
		}
		if ok {
			c.state = http11.HasHeadersParsed(c.state, info)
			c.startProxy()
			return
		}
	}
	if c.frontAccum.Full() {
		c.state = http11.StateError(http11.InvalidHTTP)
		promParseErrors.WithLabelValues(c.env.listenerName(), c.state.Err.String()).Inc()
		c.fail(wrapHTTPError("protocol", errHeadTooLarge))
	}
}

func (c *Connection) startProxy() {
	fd, bt, err := c.env.dialBackend(c, c.state.Host)
	if err != nil {
		if errors.Is(err, errFindBackendServer) {
			c.fail(errHTTPUnableToFindBackendServer)
			return
		}
		promBackendConnectErrors.WithLabelValues(c.env.listenerName()).Inc()
		c.fail(errHTTPCouldNotConnectToBackendServer)
		return
	}
	c.hasBack = true
	c.back.io.fd = fd
	c.backToken = bt
	c.connecting = true
	c.back.armed = true
	c.state = http11.WithBackend(c.state, int(bt))
	c.flipFront()
}

// flipFront hands the buffered client bytes over to the backend writer.
func (c *Connection) flipFront() {
	if c.frontAccum.Len() == 0 {
		return
	}
	c.frontDrain = c.frontAccum.Flip()
	c.frontAccum = nil
	c.front.interest = c.front.interest.Remove(poller.Readable)
	c.back.interest = c.back.interest.Insert(poller.Writable)
}

// BackWritable writes pending client bytes to the backend.
func (c *Connection) BackWritable() {
	c.back.armed = false
	if c.closed || !c.hasBack {
		return
	}
	if c.connecting {
		if err := connectError(c.back.io.fd); err != nil {
			promBackendConnectErrors.WithLabelValues(c.env.listenerName()).Inc()
			c.fail(multierr.Append(errHTTPCouldNotConnectToBackendServer, err))
			return
		}
		c.connecting = false
	}
	if c.frontDrain == nil {
		c.back.interest = c.back.interest.Remove(poller.Writable)
		return
	}
	n, err := c.frontDrain.Flush(&c.back.io)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		c.fail(errors.WithStack(err))
		return
	}
	if n > 0 {
		c.lastActive = time.Now()
	}
	if !c.frontDrain.Done() {
		return
	}
	c.frontAccum = c.frontDrain.Reset()
	c.frontDrain = nil
	c.back.interest = c.back.interest.Remove(poller.Writable).Insert(poller.Readable)
	if c.frontEOF {
		if err := shutdown(c.back.io.fd, unix.SHUT_WR); err != nil {
			c.fail(err)
		}
		return
	}
	c.front.interest = c.front.interest.Insert(poller.Readable)
}

// BackReadable reads once from the backend.
func (c *Connection) BackReadable() {
	c.back.armed = false
	if c.closed || !c.hasBack || c.backAccum == nil || c.connecting {
		return
	}
	n, err := c.backAccum.Fill(&c.back.io)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		if err == io.EOF {
			c.backEOF = true
			c.back.interest = c.back.interest.Remove(poller.Readable)
			if c.backDrain == nil {
				c.Close()
			}
			return
		}
		c.fail(errors.WithStack(err))
		return
	}
	if n == 0 {
		return
	}
	c.lastActive = time.Now()
	c.backDrain = c.backAccum.Flip()
	c.backAccum = nil
	c.back.interest = c.back.interest.Remove(poller.Readable)
	c.front.interest = c.front.interest.Insert(poller.Writable)
}

// FrontWritable writes pending backend bytes to the client.
func (c *Connection) FrontWritable() {
	c.front.armed = false
	if c.closed {
		return
	}
	if c.backDrain == nil {
		c.front.interest = c.front.interest.Remove(poller.Writable)
		return
	}
	n, err := c.backDrain.Flush(&c.front.io)
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		c.fail(errors.WithStack(err))
		return
	}
	if n > 0 {
		c.lastActive = time.Now()
	}
	if !c.backDrain.Done() {
		return
	}
	c.backAccum = c.backDrain.Reset()
	c.backDrain = nil
	c.front.interest = c.front.interest.Remove(poller.Writable)
	if c.backEOF {
		c.Close()
		return
	}
	c.back.interest = c.back.interest.Insert(poller.Readable)
}

// hangup handles a hangup without readiness flags: the side is serviced as
// if ready so the read or write reports the real condition.
func (c *Connection) hangup(front bool) {
	side := &c.back
	readable, writable := c.BackReadable, c.BackWritable
	if front {
		side = &c.front
		readable, writable = c.FrontReadable, c.FrontWritable
	}
	switch {
	case side.interest.Has(poller.Readable):
		readable()
	case side.interest.Has(poller.Writable):
		writable()
	default:
		side.armed = false
	}
}

// apply re-arms the sockets whose interest changed or whose oneshot
// registration fired. A side with no interest is left disarmed.
func (c *Connection) apply() (err error) {
	if c.closed {
		return
	}
	if e := c.applySide(&c.front, c.ts.client(c.token)); e != nil {
		err = multierr.Append(err, e)
	}
	if c.hasBack {
		if e := c.applySide(&c.back, c.ts.backend(c.backToken)); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return
}

func (c *Connection) applySide(side *sideState, token uint32) error {
	if side.interest.Empty() {
		return nil
	}
	if side.armed && side.interest == side.applied {
		return nil
	}
	if err := c.p.Reregister(side.io.fd, token, side.interest, poller.EdgeOneshot); err != nil {
		return err
	}
	side.applied = side.interest
	side.armed = true
	return nil
}

// fail sends the canned response matching err when nothing was relayed yet,
// and closes.
func (c *Connection) fail(err error) {
	if c.closed {
		return
	}
	if c.front.io.tx == 0 {
		if resp := responseFor(err); resp != nil {
			_, _ = c.front.io.Write(resp)
		}
	}
	debugLogger.Printf("listener %q connection %d error: %v", c.env.listenerName(), c.token, err)
	if e := c.Close(); e != nil {
		errorLogger.Printf("listener %q connection %d close error: %v", c.env.listenerName(), c.token, e)
	}
}

// Close tears the connection down once: both sockets leave the poller, are
// shut down and closed, and the tokens are released. Later calls do nothing.
func (c *Connection) Close() (err error) {
	if c.closed {
		return
	}
	c.closed = true
	err = multierr.Append(err, c.p.Deregister(c.front.io.fd))
	err = multierr.Append(err, shutdown(c.front.io.fd, unix.SHUT_RDWR))
	err = multierr.Append(err, errors.WithStack(unix.Close(c.front.io.fd)))
	if c.hasBack {
		err = multierr.Append(err, c.p.Deregister(c.back.io.fd))
		err = multierr.Append(err, shutdown(c.back.io.fd, unix.SHUT_RDWR))
		err = multierr.Append(err, errors.WithStack(unix.Close(c.back.io.fd)))
	}
	c.env.release(c)

	name := c.env.listenerName()
	promReadBytes.WithLabelValues(name, "frontend").Add(float64(c.front.io.rx))
	promWriteBytes.WithLabelValues(name, "frontend").Add(float64(c.front.io.tx))
	promReadBytes.WithLabelValues(name, "backend").Add(float64(c.back.io.rx))
	promWriteBytes.WithLabelValues(name, "backend").Add(float64(c.back.io.tx))
	promConnectionDurationSeconds.WithLabelValues(name).Observe(time.Since(c.started).Seconds())
	promActiveConnections.WithLabelValues(name).Dec()
	duration := time.Since(c.started).Round(time.Millisecond)
	debugLogger.Printf("listener %q connection %d closed: host=%q rx=%s tx=%s duration=%v",
		name,
		c.token,
		c.state.Host,
		humanize.Bytes(uint64(c.front.io.rx)),
		humanize.Bytes(uint64(c.front.io.tx)),
		duration,
	)
	accessLogger.Printf("listener=%q host=%q method=%q target=%q phase=%v front_rx=%d front_tx=%d back_rx=%d back_tx=%d duration=%v",
		name,
		c.state.Host,
		c.state.RequestLine.Method,
		c.state.RequestLine.Target,
		c.state.Phase,
		c.front.io.rx,
		c.front.io.tx,
		c.back.io.rx,
		c.back.io.tx,
		duration,
	)
	return
}
