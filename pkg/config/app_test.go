//go:build linux

package config

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simult/loopproxy/pkg/lb"
)

func TestRouteSetDiff(t *testing.T) {
	from := routeSet{
		fronts:   map[string]string{"a.com": "web", "b.com": "api"},
		backends: map[string][]string{"web": {"10.0.0.1:80", "10.0.0.2:80"}, "api": {"10.0.1.1:80"}},
	}
	to := routeSet{
		fronts:   map[string]string{"a.com": "web2", "*": "web"},
		backends: map[string][]string{"web": {"10.0.0.2:80", "10.0.0.3:80"}, "web2": {"10.0.2.1:80"}},
	}
	want := []lb.Command{
		{Kind: lb.AddBackend, Backend: "web", Address: "10.0.0.3:80"},
		{Kind: lb.AddBackend, Backend: "web2", Address: "10.0.2.1:80"},
		{Kind: lb.AddFront, Front: "*", Backend: "web"},
		{Kind: lb.AddFront, Front: "a.com", Backend: "web2"},
		{Kind: lb.RemoveFront, Front: "b.com"},
		{Kind: lb.RemoveBackend, Backend: "api", Address: "10.0.1.1:80"},
		{Kind: lb.RemoveBackend, Backend: "web", Address: "10.0.0.1:80"},
	}
	if got := from.diff(to); !reflect.DeepEqual(got, want) {
		t.Errorf("diff:\n got %v\nwant %v", got, want)
	}
	if got := to.diff(to); len(got) != 0 {
		t.Errorf("diff with itself: %v", got)
	}
}

func startBackend(t *testing.T, name string) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lis.Close() })
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.SetDeadline(time.Now().Add(5 * time.Second))
				if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
					return
				}
				fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(name), name)
			}(conn)
		}
	}()
	return lis.Addr().String()
}

func get(t *testing.T, addr, host string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", host)
	b, _ := io.ReadAll(conn)
	s := string(b)
	return s[strings.LastIndex(s, "\n")+1:]
}

func TestApp(t *testing.T) {
	web := startBackend(t, "web")
	api := startBackend(t, "api")
	doc := fmt.Sprintf(`
listeners:
  - name: one
    address: 127.0.0.1:0
  - name: two
    address: 127.0.0.2:0
fronts:
  "*":
    backend: web
backends:
  web:
    servers: [%q]
`, web)
	cfg, err := LoadFrom(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	addrs := app.Addrs()
	if len(addrs) != 2 {
		t.Fatalf("addrs %v", addrs)
	}
	for _, addr := range addrs {
		if got := get(t, addr, "x.example"); got != "web" {
			t.Errorf("%s: got %q", addr, got)
		}
	}

	doc2 := strings.Replace(doc, "fronts:\n", "fronts:\n  api.example:\n    backend: api\n", 1)
	doc2 = strings.Replace(doc2, "backends:\n", fmt.Sprintf("backends:\n  api:\n    servers: [%q]\n", api), 1)
	cfg2, err := LoadFrom(strings.NewReader(doc2))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = app.Reload(ctx, cfg2); err != nil {
		t.Fatal(err)
	}
	for _, addr := range addrs {
		if got := get(t, addr, "API.example:80"); got != "api" {
			t.Errorf("%s after reload: got %q", addr, got)
		}
		if got := get(t, addr, "x.example"); got != "web" {
			t.Errorf("%s default after reload: got %q", addr, got)
		}
	}

	app.Close()
	select {
	case <-app.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("drivers still running after close")
	}
}

func TestRouteSetWithout(t *testing.T) {
	rs := routeSet{
		fronts:   map[string]string{"*": "web"},
		backends: map[string][]string{"web": {"10.0.0.1:80", "10.0.0.2:80"}, "api": {"10.0.1.1:80"}},
	}
	got := rs.without(map[serverKey]struct{}{
		{"web", "10.0.0.1:80"}: {},
		{"api", "10.0.1.1:80"}: {},
	})
	want := map[string][]string{"web": {"10.0.0.2:80"}}
	if !reflect.DeepEqual(got.backends, want) || got.fronts["*"] != "web" {
		t.Errorf("without: %v", got)
	}
	if len(rs.backends["web"]) != 2 {
		t.Error("source modified")
	}
}

func TestAppHealthCheck(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			if !up.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			return
		}
		fmt.Fprint(w, "web")
	}))
	defer srv.Close()

	doc := fmt.Sprintf(`
listeners:
  - address: 127.0.0.1:0
fronts:
  "*":
    backend: web
backends:
  web:
    healthcheck: probe
    servers: [%q]
healthchecks:
  probe:
    http:
      path: /health
      interval: 10ms
      timeout: 1s
      fall: 1
      rise: 1
`, strings.TrimPrefix(srv.URL, "http://"))
	cfg, err := LoadFrom(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	addr := app.Addrs()[0]

	if got := get(t, addr, "a.example"); got != "web" {
		t.Fatalf("healthy: got %q", got)
	}

	waitFor := func(want string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Fatal(err)
			}
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			fmt.Fprint(conn, "GET / HTTP/1.1\r\nHost: a.example\r\nConnection: close\r\n\r\n")
			b, _ := io.ReadAll(conn)
			conn.Close()
			if strings.HasPrefix(string(b), want) {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("still got %q, want prefix %q", b, want)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	up.Store(false)
	waitFor("HTTP/1.0 503 ")
	up.Store(true)
	waitFor("HTTP/1.1 200 ")
}
