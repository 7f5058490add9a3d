//go:build linux

package lb

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/simult/loopproxy/pkg/wrh"
	"golang.org/x/sys/unix"
)

// DefaultFront matches every host without a front of its own.
const DefaultFront = "*"

type routeBackend struct {
	addrs []netip.AddrPort
	nodes wrh.Nodes
}

func (b *routeBackend) rebuild() {
	sort.Slice(b.addrs, func(i, j int) bool {
		return b.addrs[i].String() < b.addrs[j].String()
	})
	b.nodes = make(wrh.Nodes, 0, len(b.addrs))
	for _, ap := range b.addrs {
		b.nodes = append(b.nodes, wrh.NewNode(ap.String(), 1, ap))
	}
}

// routeTable maps hosts to backends and backends to server addresses. It is
// owned by the driver goroutine and changed only through commands.
type routeTable struct {
	fronts   map[string]string
	backends map[string]*routeBackend
}

func newRouteTable() *routeTable {
	return &routeTable{
		fronts:   make(map[string]string),
		backends: make(map[string]*routeBackend),
	}
}

func (rt *routeTable) apply(cmd *Command) (err error) {
	switch cmd.Kind {
	case AddFront:
		if cmd.Front == "" || cmd.Backend == "" {
			return errors.New("front and backend required")
		}
		rt.fronts[normalizeHost(cmd.Front)] = cmd.Backend
	case RemoveFront:
		host := normalizeHost(cmd.Front)
		if _, ok := rt.fronts[host]; !ok {
			return errors.Errorf("front %q not found", cmd.Front)
		}
		delete(rt.fronts, host)
	case AddBackend:
		var ap netip.AddrPort
		ap, err = netip.ParseAddrPort(cmd.Address)
		if err != nil {
			return errors.Wrapf(err, "backend %q address", cmd.Backend)
		}
		b := rt.backends[cmd.Backend]
		if b == nil {
			b = &routeBackend{}
			rt.backends[cmd.Backend] = b
		}
		for _, a := range b.addrs {
			if a == ap {
				return errors.Errorf("backend %q already has server %v", cmd.Backend, ap)
			}
		}
		b.addrs = append(b.addrs, ap)
		b.rebuild()
	case RemoveBackend:
		b := rt.backends[cmd.Backend]
		if b == nil {
			return errors.Errorf("backend %q not found", cmd.Backend)
		}
		if cmd.Address == "" {
			delete(rt.backends, cmd.Backend)
			return
		}
		ap, e := netip.ParseAddrPort(cmd.Address)
		if e != nil {
			return errors.Wrapf(e, "backend %q address", cmd.Backend)
		}
		idx := -1
		for i, a := range b.addrs {
			if a == ap {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.Errorf("backend %q has no server %v", cmd.Backend, ap)
		}
		b.addrs = append(b.addrs[:idx], b.addrs[idx+1:]...)
		if len(b.addrs) == 0 {
			delete(rt.backends, cmd.Backend)
			return
		}
		b.rebuild()
	default:
		return errors.Errorf("unknown command %v", cmd.Kind)
	}
	return
}

// resolve returns the servers for host ranked by rendezvous hashing on the
// host name, best first.
func (rt *routeTable) resolve(host string, max int) (sas []unix.Sockaddr, err error) {
	host = normalizeHost(host)
	name, ok := rt.fronts[host]
	if !ok {
		name, ok = rt.fronts[DefaultFront]
	}
	if !ok {
		err = errors.Errorf("no front for host %q", host)
		return
	}
	b := rt.backends[name]
	if b == nil || len(b.nodes) == 0 {
		err = errors.Errorf("backend %q has no servers", name)
		return
	}
	for _, nd := range wrh.Rank(b.nodes, []byte(host), max) {
		sas = append(sas, sockaddrOf(nd.Data.(netip.AddrPort)))
	}
	return
}

// normalizeHost lower-cases a host header value and strips its port.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if idx := strings.IndexByte(host, ']'); idx > 0 {
			return host[1:idx]
		}
		return host
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && strings.IndexByte(host, ':') == idx {
		return host[:idx]
	}
	return host
}
