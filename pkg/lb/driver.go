//go:build linux

package lb

import (
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simult/loopproxy/pkg/poller"
	"github.com/simult/loopproxy/pkg/rbuf"
	"github.com/simult/loopproxy/pkg/slab"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// DriverOptions holds Driver options
type DriverOptions struct {
	Name           string
	Address        string
	MaxConnections int
	BufferSize     int
	EventsSize     int

	// Tick bounds how long a poll waits. Zero blocks until an event, unless
	// IdleTimeout needs a periodic sweep.
	Tick time.Duration

	// IdleTimeout closes connections without traffic for longer. Zero
	// disables it.
	IdleTimeout time.Duration

	// Results receives every Result. It must be drained; the driver blocks
	// on it.
	Results chan<- Result
}

// CopyFrom sets the underlying DriverOptions by given DriverOptions
func (o *DriverOptions) CopyFrom(src *DriverOptions) {
	*o = *src
}

// Driver runs one event loop for one listening socket.
type Driver struct {
	opts DriverOptions

	p        *poller.Poller
	waker    *poller.Waker
	lis      *Listener
	ts       tokenSpace
	clients  *slab.Slab[*Connection]
	backends *slab.Slab[ClientToken]
	routes   *routeTable

	// rejectLog throttles table full warnings, acceptLog accept errors
	rejectLog *rate.Limiter
	acceptLog *rate.Limiter

	// acceptPending is set when accept stopped on an error with the queue
	// possibly non-empty. The edge-triggered listener raises no new event for
	// queued connections, so Run retries on its own.
	acceptPending bool

	addr     netip.AddrPort
	orders   chan Order
	stopID   uint64
	done     chan struct{}
	stopOnce sync.Once

	// mu guards the waker against Send racing with shutdown
	mu      sync.Mutex
	stopped bool
}

// NewDriver binds the listener and prepares the poller. Run starts serving.
func NewDriver(opts DriverOptions) (d *Driver, err error) {
	d = &Driver{}
	d.opts.CopyFrom(&opts)
	if d.opts.Name == "" {
		d.opts.Name = d.opts.Address
	}
	if d.opts.MaxConnections <= 0 {
		d.opts.MaxConnections = DefaultMaxConnections
	}
	if d.opts.BufferSize <= 0 {
		d.opts.BufferSize = rbuf.DefaultSize
	}
	if d.opts.EventsSize <= 0 {
		d.opts.EventsSize = defaultEventsSize
	}
	d.ts = tokenSpace{capacity: d.opts.MaxConnections}
	d.clients = slab.New[*Connection](d.opts.MaxConnections)
	d.backends = slab.New[ClientToken](d.opts.MaxConnections)
	d.routes = newRouteTable()
	d.rejectLog = rate.NewLimiter(rate.Every(time.Second), 1)
	d.acceptLog = rate.NewLimiter(rate.Every(time.Second), 1)
	d.orders = make(chan Order, defaultOrdersSize)
	d.done = make(chan struct{})

	defer func() {
		if err == nil {
			return
		}
		d.closeResources()
		d = nil
	}()

	d.p, err = poller.New()
	if err != nil {
		return
	}
	d.waker, err = poller.NewWaker(d.p, d.ts.waker())
	if err != nil {
		return
	}
	d.lis, err = Listen(d.opts.Address)
	if err != nil {
		return
	}
	err = d.p.Register(d.lis.Fd(), listenerToken, poller.Readable, poller.Edge)
	if err != nil {
		return
	}
	d.addr = d.lis.Addr()
	infoLogger.Printf("listener %q bound to %v", d.opts.Name, d.addr)
	return
}

// GetOpts returns a copy of underlying Driver's options
func (d *Driver) GetOpts() (opts DriverOptions) {
	opts.CopyFrom(&d.opts)
	return
}

func (d *Driver) Name() string {
	return d.opts.Name
}

// Addr returns the bound listener address.
func (d *Driver) Addr() string {
	return d.addr.String()
}

// Done is closed when Run returns.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Send queues an order for the event loop and wakes it. It never blocks and
// is safe for concurrent use.
func (d *Driver) Send(o Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return errDriverStopped
	}
	select {
	case d.orders <- o:
	default:
		return errOrdersFull
	}
	return d.waker.Wake()
}

func (d *Driver) listenerName() string {
	return d.opts.Name
}

// Run serves until a Stop order arrives or polling fails. It locks the
// calling goroutine to its OS thread.
func (d *Driver) Run() (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer d.stopOnce.Do(func() { close(d.done) })

	events := make([]poller.Event, d.opts.EventsSize)
	tick := tickOf(d.opts.Tick, d.opts.IdleTimeout)
	for {
		timeout := tick
		if d.acceptPending && (timeout < 0 || timeout > acceptRetryDelay) {
			timeout = acceptRetryDelay
		}
		var n int
		n, err = d.p.Wait(events, timeout)
		if err != nil {
			errorLogger.Printf("listener %q poll error: %v", d.opts.Name, err)
			d.shutdown()
			return
		}
		promDriverLoopIterationsTotal.WithLabelValues(d.opts.Name).Inc()
		for i := 0; i < n; i++ {
			d.dispatch(events[i])
		}
		if d.acceptPending {
			d.accept()
		}
		if d.handleOrders() {
			d.shutdown()
			d.results(Result{Listener: d.opts.Name, Kind: Stopped, ID: d.stopID})
			return
		}
		if d.opts.IdleTimeout > 0 {
			d.sweepIdle(time.Now())
		}
	}
}

func (d *Driver) dispatch(ev poller.Event) {
	kind, idx := d.ts.classify(ev.Token)
	switch kind {
	case tokenListener:
		d.accept()
	case tokenWaker:
		d.waker.Drain()
	case tokenClient:
		c, ok := d.clients.Get(idx)
		if !ok {
			debugLogger.Printf("listener %q event for released client token %d", d.opts.Name, idx)
			return
		}
		d.dispatchConn(c, ev, true)
	case tokenBackend:
		ct, ok := d.backends.Get(idx)
		if !ok {
			debugLogger.Printf("listener %q event for released backend token %d", d.opts.Name, idx)
			return
		}
		c, ok := d.clients.Get(int(ct))
		if !ok || !c.hasBack || int(c.backToken) != idx {
			debugLogger.Printf("listener %q backend token %d points to released client %d", d.opts.Name, idx, ct)
			return
		}
		d.dispatchConn(c, ev, false)
	default:
		warningLogger.Printf("listener %q event for unknown token %d", d.opts.Name, ev.Token)
	}
}

func (d *Driver) dispatchConn(c *Connection, ev poller.Event, front bool) {
	if ev.Readable {
		if front {
			c.FrontReadable()
		} else {
			c.BackReadable()
		}
	}
	if ev.Writable && !c.closed {
		if front {
			c.FrontWritable()
		} else {
			c.BackWritable()
		}
	}
	if ev.Hangup && !ev.Readable && !ev.Writable && !c.closed {
		c.hangup(front)
	}
	if ev.Error && !c.closed {
		if !front && c.connecting {
			// the writable path reports the connect error with a 502
			c.BackWritable()
		} else {
			c.fail(errors.New("socket error"))
		}
	}
	if c.closed {
		return
	}
	if err := c.apply(); err != nil {
		errorLogger.Printf("listener %q connection %d rearm error: %v", d.opts.Name, c.token, err)
		c.Close()
	}
}

// acceptRetryDelay bounds the poll timeout while accept is pending.
const acceptRetryDelay = 10 * time.Millisecond

func (d *Driver) accept() {
	d.acceptPending = false
	for {
		fd, ok, err := d.lis.Accept()
		if err != nil {
			d.acceptPending = true
			if d.acceptLog.Allow() {
				errorLogger.Printf("listener %q accept error: %v", d.opts.Name, err)
			}
			return
		}
		if !ok {
			return
		}
		c := newConnection(d, d.p, d.ts, fd, d.opts.BufferSize)
		key, ok := d.clients.Insert(c)
		if !ok {
			unix.Close(fd)
			promConnectionsRejected.WithLabelValues(d.opts.Name).Inc()
			if d.rejectLog.Allow() {
				warningLogger.Printf("listener %q rejected connection: %v", d.opts.Name, errTableFull)
			}
			continue
		}
		c.token = ClientToken(key)
		if err = c.register(); err != nil {
			d.clients.Remove(key)
			unix.Close(fd)
			errorLogger.Printf("listener %q register error: %v", d.opts.Name, err)
			continue
		}
		promConnectionsAccepted.WithLabelValues(d.opts.Name).Inc()
		promActiveConnections.WithLabelValues(d.opts.Name).Inc()
	}
}

const maxBackendAttempts = 3

func (d *Driver) dialBackend(c *Connection, host string) (fd int, bt BackendToken, err error) {
	sas, err := d.routes.resolve(host, maxBackendAttempts)
	if err != nil {
		err = errors.Wrap(errFindBackendServer, err.Error())
		return
	}
	fd = -1
	for _, sa := range sas {
		fd, err = dialNonblock(sa)
		if err == nil {
			break
		}
		debugLogger.Printf("listener %q connect %v error: %v", d.opts.Name, addrPortOf(sa), err)
	}
	if err != nil {
		err = errors.Wrap(errConnectBackendServer, err.Error())
		return
	}
	key, ok := d.backends.Insert(c.token)
	if !ok {
		unix.Close(fd)
		err = errors.Wrap(errConnectBackendServer, errTableFull.Error())
		return
	}
	bt = BackendToken(key)
	if err = d.p.Register(fd, d.ts.backend(bt), 0, poller.EdgeOneshot); err != nil {
		d.backends.Remove(key)
		unix.Close(fd)
		return
	}
	return
}

func (d *Driver) release(c *Connection) {
	d.clients.Remove(int(c.token))
	if c.hasBack {
		d.backends.Remove(int(c.backToken))
	}
}

func (d *Driver) sweepIdle(now time.Time) {
	d.clients.Range(func(key int, c *Connection) bool {
		if now.Sub(c.lastActive) > d.opts.IdleTimeout {
			debugLogger.Printf("listener %q connection %d idle timeout", d.opts.Name, key)
			if err := c.Close(); err != nil {
				errorLogger.Printf("listener %q connection %d close error: %v", d.opts.Name, key, err)
			}
		}
		return true
	})
}

// handleOrders applies every queued order and reports whether a Stop was
// among them.
func (d *Driver) handleOrders() (stop bool) {
	for {
		select {
		case o := <-d.orders:
			if o.Stop {
				d.stopID = o.ID
				stop = true
				continue
			}
			d.results(d.handleCommand(o))
		default:
			return
		}
	}
}

func (d *Driver) handleCommand(o Order) Result {
	r := Result{ID: o.ID, Listener: d.opts.Name}
	if o.Command == nil {
		r.Kind = Rejected
		r.Err = errors.New("empty order")
		return r
	}
	r.Kind = resultKindOf(o.Command.Kind)
	r.Err = d.routes.apply(o.Command)
	if r.Err != nil {
		warningLogger.Printf("listener %q command %v error: %v", d.opts.Name, o.Command, r.Err)
	} else {
		debugLogger.Printf("listener %q command %v applied", d.opts.Name, o.Command)
	}
	return r
}

func (d *Driver) results(r Result) {
	if d.opts.Results == nil {
		return
	}
	d.opts.Results <- r
}

// shutdown closes every connection and the loop's own descriptors.
func (d *Driver) shutdown() {
	d.clients.Range(func(key int, c *Connection) bool {
		if err := c.Close(); err != nil {
			errorLogger.Printf("listener %q connection %d close error: %v", d.opts.Name, key, err)
		}
		return true
	})
	if err := d.closeResources(); err != nil {
		errorLogger.Printf("listener %q close error: %v", d.opts.Name, err)
	}
	infoLogger.Printf("listener %q stopped", d.opts.Name)
}

func (d *Driver) closeResources() (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.lis != nil {
		err = multierr.Append(err, d.lis.Close())
		d.lis = nil
	}
	if d.waker != nil {
		err = multierr.Append(err, d.waker.Close())
		d.waker = nil
	}
	if d.p != nil {
		err = multierr.Append(err, d.p.Close())
		d.p = nil
	}
	return
}
