package healthcheck

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// HTTPCheckOptions holds HTTPCheck options
type HTTPCheckOptions struct {
	Path, HostHeader             string
	Interval, Timeout            time.Duration
	FallThreshold, RiseThreshold int
	RespBody                     []byte
}

// CopyFrom sets the underlying HTTPCheckOptions by given HTTPCheckOptions
// and fills the zero values with defaults
func (o *HTTPCheckOptions) CopyFrom(src *HTTPCheckOptions) {
	if src == nil {
		src = &HTTPCheckOptions{}
	}
	*o = *src
	if o.Path == "" || o.Path[0] != '/' {
		o.Path = "/" + o.Path
	}
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.FallThreshold <= 0 {
		o.FallThreshold = 3
	}
	if o.RiseThreshold <= 0 {
		o.RiseThreshold = 2
	}
	if src.RespBody != nil {
		o.RespBody = make([]byte, len(src.RespBody))
		copy(o.RespBody, src.RespBody)
	}
}

// HTTPCheck polls GET http://server/path. A server starts healthy, becomes
// unhealthy after FallThreshold failed probes in a row and healthy again
// after RiseThreshold successful ones.
type HTTPCheck struct {
	server string
	opts   HTTPCheckOptions
	client *http.Client
	c      chan bool

	workerCtx       context.Context
	workerCtxCancel context.CancelFunc
	workerWg        sync.WaitGroup
	closeOnce       sync.Once

	healthy      bool
	healthyMu    sync.RWMutex
	lastCheck    bool
	falls, rises int
}

// NewHTTPCheck starts probing server, given as host:port
func NewHTTPCheck(server string, opts HTTPCheckOptions) (h *HTTPCheck) {
	h = &HTTPCheck{
		server:    server,
		healthy:   true,
		lastCheck: true,
	}
	h.opts.CopyFrom(&opts)
	h.client = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: h.opts.Timeout,
			}).DialContext,
			DisableKeepAlives:     true,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	h.c = make(chan bool, 1)
	h.workerCtx, h.workerCtxCancel = context.WithCancel(context.Background())
	h.workerWg.Add(1)
	go h.worker(h.workerCtx)
	return
}

// Server returns the probed host:port
func (h *HTTPCheck) Server() string {
	return h.server
}

// Close stops probing and closes the Check channel
func (h *HTTPCheck) Close() {
	h.closeOnce.Do(func() {
		h.workerCtxCancel()
		h.workerWg.Wait()
	})
}

func (h *HTTPCheck) Healthy() bool {
	h.healthyMu.RLock()
	r := h.healthy
	h.healthyMu.RUnlock()
	return r
}

func (h *HTTPCheck) Check() <-chan bool {
	return h.c
}

func (h *HTTPCheck) check(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+h.server+h.opts.Path, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if h.opts.HostHeader != "" {
		req.Host = h.opts.HostHeader
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("status code %d", resp.StatusCode)
	}
	if h.opts.RespBody == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(len(h.opts.RespBody)+1)))
	if err != nil {
		return errors.WithStack(err)
	}
	if !bytes.Equal(h.opts.RespBody, body) {
		return errors.New("unexpected response body")
	}
	return nil
}

// update counts a probe result and reports whether the settled state changed.
func (h *HTTPCheck) update(ok bool) (changed bool) {
	if ok != h.lastCheck {
		h.falls = 0
		h.rises = 0
	}
	h.lastCheck = ok
	if ok {
		h.rises++
	} else {
		h.falls++
	}
	h.healthyMu.Lock()
	defer h.healthyMu.Unlock()
	switch {
	case h.healthy && h.falls >= h.opts.FallThreshold:
		h.healthy = false
		changed = true
	case !h.healthy && h.rises >= h.opts.RiseThreshold:
		h.healthy = true
		changed = true
	}
	return
}

func (h *HTTPCheck) notify(healthy bool) {
	select {
	case <-h.c:
	default:
	}
	h.c <- healthy
}

func (h *HTTPCheck) worker(ctx context.Context) {
	defer h.workerWg.Done()
	defer close(h.c)
	tmr := time.NewTimer(h.opts.Interval)
	defer tmr.Stop()
	for {
		select {
		case <-tmr.C:
			err := h.check(ctx)
			if ctx.Err() != nil {
				return
			}
			if h.update(err == nil) {
				h.notify(h.Healthy())
			}
			tmr.Reset(h.opts.Interval)
		case <-ctx.Done():
			return
		}
	}
}
