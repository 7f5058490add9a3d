//go:build linux

package config

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/simult/loopproxy/pkg/healthcheck"
	"github.com/simult/loopproxy/pkg/lb"
	"go.uber.org/multierr"
)

// StopTimeout bounds how long Close waits for the drivers
var StopTimeout = 10 * time.Second

// routeSet is the route configuration with server names resolved to ip:port
type routeSet struct {
	fronts   map[string]string
	backends map[string][]string
}

func newRouteSet(cfg *Config) (rs routeSet, err error) {
	rs = routeSet{
		fronts:   make(map[string]string, len(cfg.Fronts)),
		backends: make(map[string][]string, len(cfg.Backends)),
	}
	for name, item := range cfg.Backends {
		seen := make(map[string]struct{}, len(item.Servers))
		for _, server := range item.Servers {
			tcpAddr, e := net.ResolveTCPAddr("tcp", server)
			if e != nil {
				err = fmt.Errorf("backend %q server %q resolve error: %w", name, server, e)
				return
			}
			addr := tcpAddr.AddrPort().String()
			if _, ok := seen[addr]; ok {
				warningLogger.Printf("backend %q server %q duplicates %s", name, server, addr)
				continue
			}
			seen[addr] = struct{}{}
			rs.backends[name] = append(rs.backends[name], addr)
		}
		sort.Strings(rs.backends[name])
	}
	for host, item := range cfg.Fronts {
		rs.fronts[host] = item.Backend
	}
	return
}

// diff returns the commands turning rs into to. Backends are added before
// the fronts pointing at them and removed after.
func (rs routeSet) diff(to routeSet) (cmds []lb.Command) {
	for _, name := range sortedKeys(to.backends) {
		old := toSet(rs.backends[name])
		for _, addr := range to.backends[name] {
			if _, ok := old[addr]; !ok {
				cmds = append(cmds, lb.Command{Kind: lb.AddBackend, Backend: name, Address: addr})
			}
		}
	}
	for _, host := range sortedKeys(to.fronts) {
		if backend, ok := rs.fronts[host]; !ok || backend != to.fronts[host] {
			cmds = append(cmds, lb.Command{Kind: lb.AddFront, Front: host, Backend: to.fronts[host]})
		}
	}
	for _, host := range sortedKeys(rs.fronts) {
		if _, ok := to.fronts[host]; !ok {
			cmds = append(cmds, lb.Command{Kind: lb.RemoveFront, Front: host})
		}
	}
	for _, name := range sortedKeys(rs.backends) {
		keep := toSet(to.backends[name])
		for _, addr := range rs.backends[name] {
			if _, ok := keep[addr]; !ok {
				cmds = append(cmds, lb.Command{Kind: lb.RemoveBackend, Backend: name, Address: addr})
			}
		}
	}
	return
}

// serverKey names one server of one backend
type serverKey struct {
	backend, addr string
}

// without returns rs minus the servers in down. Backends left without servers
// are dropped.
func (rs routeSet) without(down map[serverKey]struct{}) routeSet {
	if len(down) == 0 {
		return rs
	}
	out := routeSet{
		fronts:   rs.fronts,
		backends: make(map[string][]string, len(rs.backends)),
	}
	for name, addrs := range rs.backends {
		for _, addr := range addrs {
			if _, ok := down[serverKey{name, addr}]; ok {
				continue
			}
			out.backends[name] = append(out.backends[name], addr)
		}
	}
	return out
}

func healthCheckOptions(cfg *Config) map[string]*healthcheck.HTTPCheckOptions {
	result := make(map[string]*healthcheck.HTTPCheckOptions)
	for name, item := range cfg.Backends {
		if item.HealthCheck == "" {
			continue
		}
		hc := cfg.HealthChecks[item.HealthCheck].HTTP
		opts := &healthcheck.HTTPCheckOptions{
			Path:          hc.Path,
			HostHeader:    hc.Host,
			Interval:      hc.Interval,
			Timeout:       hc.Timeout,
			FallThreshold: hc.Fall,
			RiseThreshold: hc.Rise,
		}
		if hc.Resp != "" {
			opts.RespBody = []byte(hc.Resp)
		}
		result[name] = opts
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// App is an organizer of all drivers and the routes pushed into them.
// Servers failing their health check are withdrawn from the pushed routes
// until they recover.
type App struct {
	mu        sync.Mutex
	hub       *lb.Hub
	drivers   []*lb.Driver
	listeners []string
	wanted    routeSet
	routes    routeSet
	accessLog *AccessLogger

	checks   []healthcheck.HealthCheck
	checksWg sync.WaitGroup
	checkGen uint64
	down     map[serverKey]struct{}
	closed   bool

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewApp binds every listener, starts one driver per listener and pushes the
// configured routes through their control channels
func NewApp(cfg *Config) (a *App, err error) {
	a = &App{
		hub:       lb.NewHub(),
		routes:    routeSet{fronts: map[string]string{}, backends: map[string][]string{}},
		down:      make(map[serverKey]struct{}),
		done:      make(chan struct{}),
		accessLog: NewAccessLogger(),
	}
	defer func() {
		if err == nil {
			return
		}
		a.Close()
		a = nil
	}()

	routes, err := newRouteSet(cfg)
	if err != nil {
		return
	}
	if err = a.accessLog.Update(cfg); err != nil {
		return
	}
	lb.SetAccessLogger(a.accessLog)

	for _, item := range cfg.Listeners {
		opts := lb.DriverOptions{
			Name:           listenerName(item.Name, item.Address),
			Address:        item.Address,
			MaxConnections: cfg.Defaults.MaxConnections,
			BufferSize:     cfg.Defaults.BufferSize,
			IdleTimeout:    cfg.Defaults.IdleTimeout,
			Tick:           cfg.Defaults.Tick,
			Results:        a.hub.Results(),
		}
		if item.MaxConnections > 0 {
			opts.MaxConnections = item.MaxConnections
		}
		if item.BufferSize > 0 {
			opts.BufferSize = item.BufferSize
		}
		if item.IdleTimeout > 0 {
			opts.IdleTimeout = item.IdleTimeout
		}
		var d *lb.Driver
		d, err = lb.NewDriver(opts)
		if err != nil {
			err = fmt.Errorf("listener %q error: %w", opts.Name, err)
			return
		}
		a.start(d)
		a.listeners = append(a.listeners, item.Address)
	}
	go func() {
		a.wg.Wait()
		close(a.done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wanted = routes
	if err = a.apply(ctx, routes); err != nil {
		return
	}
	a.startChecks(cfg)
	return
}

func (a *App) start(d *lb.Driver) {
	a.drivers = append(a.drivers, d)
	a.hub.Attach(d)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if e := d.Run(); e != nil {
			errorLogger.Printf("listener %q run error: %v", d.Name(), e)
		}
	}()
	infoLogger.Printf("listener %q started on %s", d.Name(), d.Addr())
}

func (a *App) apply(ctx context.Context, routes routeSet) (err error) {
	for _, cmd := range a.routes.diff(routes) {
		if _, e := a.hub.Broadcast(ctx, cmd); e != nil {
			err = multierr.Append(err, fmt.Errorf("command %v error: %w", cmd, e))
			continue
		}
		debugLogger.Printf("command %v applied", cmd)
	}
	if err == nil {
		a.routes = routes
	}
	return
}

// startChecks starts the health checks of cfg. Must be called with mu held.
func (a *App) startChecks(cfg *Config) {
	gen := a.checkGen
	for name, opts := range healthCheckOptions(cfg) {
		for _, addr := range a.wanted.backends[name] {
			h := healthcheck.NewHTTPCheck(addr, *opts)
			a.checks = append(a.checks, h)
			a.checksWg.Add(1)
			go a.watch(gen, serverKey{name, addr}, h)
		}
	}
}

// stopChecks closes the running health checks and makes their pending
// reports stale. Must be called with mu held.
func (a *App) stopChecks() {
	a.checkGen++
	for _, h := range a.checks {
		h.Close()
	}
	a.checks = nil
	a.down = make(map[serverKey]struct{})
}

func (a *App) watch(gen uint64, key serverKey, h healthcheck.HealthCheck) {
	defer a.checksWg.Done()
	for healthy := range h.Check() {
		a.setHealth(gen, key, healthy)
	}
}

func (a *App) setHealth(gen uint64, key serverKey, healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || gen != a.checkGen {
		return
	}
	if healthy {
		delete(a.down, key)
		infoLogger.Printf("backend %q server %s is healthy", key.backend, key.addr)
	} else {
		a.down[key] = struct{}{}
		warningLogger.Printf("backend %q server %s is unhealthy", key.backend, key.addr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := a.apply(ctx, a.wanted.without(a.down)); err != nil {
		errorLogger.Printf("backend %q server %s route update error: %v", key.backend, key.addr, err)
	}
}

// Reload pushes the route changes of cfg into the running drivers and
// restarts the health checks, with every server starting healthy. Listener
// changes need a restart and are only reported.
func (a *App) Reload(ctx context.Context, cfg *Config) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	routes, err := newRouteSet(cfg)
	if err != nil {
		return
	}
	if e := a.accessLog.Update(cfg); e != nil {
		errorLogger.Printf("%v", e)
	}
	a.stopChecks()
	a.wanted = routes
	defer a.startChecks(cfg)
	current := toSet(a.listeners)
	for _, item := range cfg.Listeners {
		if _, ok := current[item.Address]; !ok {
			warningLogger.Printf("listener %q is new, restart to bind it", item.Address)
		}
		delete(current, item.Address)
	}
	for address := range current {
		warningLogger.Printf("listener %q is removed, restart to unbind it", address)
	}
	err = a.apply(ctx, routes)
	return
}

// Hub returns the order hub of the drivers
func (a *App) Hub() *lb.Hub {
	return a.hub
}

// Addrs returns the bound address of every driver
func (a *App) Addrs() []string {
	addrs := make([]string, 0, len(a.drivers))
	for _, d := range a.drivers {
		addrs = append(addrs, d.Addr())
	}
	return addrs
}

// Done is closed when every driver has stopped
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Close stops every driver and waits for them
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.stopChecks()
		a.mu.Unlock()
		a.checksWg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		defer cancel()
		if _, err := a.hub.Stop(ctx); err != nil {
			debugLogger.Printf("stop error: %v", err)
		}
		a.wg.Wait()
		a.hub.Close()
		a.accessLog.Close()
	})
}
