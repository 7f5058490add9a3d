//go:build linux

package lb

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type hubPending struct {
	want    int
	results []Result
	done    chan struct{}
}

// Hub fans orders out to every attached Driver and gathers their results by
// order ID. Drivers must be created with Results set to Hub.Results.
type Hub struct {
	results chan Result
	quit    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	drivers []*Driver
	pending map[uint64]*hubPending
	nextID  uint64
}

func NewHub() *Hub {
	h := &Hub{
		results: make(chan Result, defaultOrdersSize),
		quit:    make(chan struct{}),
		pending: make(map[uint64]*hubPending),
	}
	h.wg.Add(1)
	go h.dispatch()
	return h
}

// Results is the channel drivers report to.
func (h *Hub) Results() chan<- Result {
	return h.results
}

func (h *Hub) Attach(d *Driver) {
	h.mu.Lock()
	h.drivers = append(h.drivers, d)
	h.mu.Unlock()
}

func (h *Hub) Drivers() []*Driver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Driver(nil), h.drivers...)
}

func (h *Hub) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case r := <-h.results:
			h.mu.Lock()
			p := h.pending[r.ID]
			if p != nil {
				p.results = append(p.results, r)
				if len(p.results) >= p.want {
					delete(h.pending, r.ID)
					close(p.done)
				}
			}
			h.mu.Unlock()
			if p == nil {
				debugLogger.Printf("unexpected result %v", r)
			}
		case <-h.quit:
			return
		}
	}
}

// Broadcast sends cmd to every driver and waits for all of them to answer.
func (h *Hub) Broadcast(ctx context.Context, cmd Command) ([]Result, error) {
	return h.send(ctx, func(id uint64) Order {
		c := cmd
		return Order{ID: id, Command: &c}
	})
}

// Stop orders every driver to stop and waits for the Stopped results.
func (h *Hub) Stop(ctx context.Context) ([]Result, error) {
	return h.send(ctx, func(id uint64) Order {
		return Order{ID: id, Stop: true}
	})
}

func (h *Hub) send(ctx context.Context, order func(id uint64) Order) (results []Result, err error) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	drivers := append([]*Driver(nil), h.drivers...)
	p := &hubPending{want: len(drivers), done: make(chan struct{})}
	if p.want > 0 {
		h.pending[id] = p
	}
	h.mu.Unlock()
	if p.want == 0 {
		return
	}

	sent := 0
	for _, d := range drivers {
		if e := d.Send(order(id)); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "listener %q", d.Name()))
			continue
		}
		sent++
	}
	h.mu.Lock()
	p.want = sent
	if len(p.results) >= p.want {
		if _, ok := h.pending[id]; ok {
			delete(h.pending, id)
			close(p.done)
		}
	}
	h.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		results = append(results, p.results...)
		h.mu.Unlock()
		err = multierr.Append(err, errors.WithStack(ctx.Err()))
		return
	}
	results = p.results
	for _, r := range results {
		if r.Err != nil {
			err = multierr.Append(err, errors.Wrapf(r.Err, "listener %q", r.Listener))
		}
	}
	return
}

// Close stops the dispatcher. Drivers still running may block on their
// results afterwards, so stop them first.
func (h *Hub) Close() {
	close(h.quit)
	h.wg.Wait()
}
