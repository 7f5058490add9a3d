package healthcheck

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPCheckOptionsDefaults(t *testing.T) {
	var o HTTPCheckOptions
	o.CopyFrom(&HTTPCheckOptions{Path: "health", RespBody: []byte("UP")})
	if o.Path != "/health" || o.Interval != 10*time.Second || o.Timeout != 5*time.Second {
		t.Errorf("unexpected %+v", o)
	}
	if o.FallThreshold != 3 || o.RiseThreshold != 2 || string(o.RespBody) != "UP" {
		t.Errorf("unexpected %+v", o)
	}
	o.CopyFrom(nil)
	if o.Path != "/" || o.RespBody != nil {
		t.Errorf("unexpected %+v", o)
	}
}

func TestHTTPCheckUpdate(t *testing.T) {
	h := &HTTPCheck{healthy: true, lastCheck: true}
	h.opts.CopyFrom(&HTTPCheckOptions{FallThreshold: 2, RiseThreshold: 3})
	steps := []struct {
		ok      bool
		changed bool
		healthy bool
	}{
		{false, false, true},
		{true, false, true},
		{false, false, true},
		{false, true, false},
		{false, false, false},
		{true, false, false},
		{true, false, false},
		{true, true, true},
	}
	for i, s := range steps {
		if changed := h.update(s.ok); changed != s.changed || h.Healthy() != s.healthy {
			t.Fatalf("step %d: changed=%v healthy=%v", i, changed, h.Healthy())
		}
	}
}

func TestHTTPCheck(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" || r.Host != "check.example" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if up.Load() {
			fmt.Fprint(w, "UP")
		} else {
			fmt.Fprint(w, "DOWN")
		}
	}))
	defer srv.Close()

	h := NewHTTPCheck(strings.TrimPrefix(srv.URL, "http://"), HTTPCheckOptions{
		Path:          "/healthcheck",
		HostHeader:    "check.example",
		Interval:      10 * time.Millisecond,
		Timeout:       time.Second,
		FallThreshold: 2,
		RiseThreshold: 2,
		RespBody:      []byte("UP"),
	})
	defer h.Close()
	if !h.Healthy() {
		t.Fatal("not healthy at start")
	}

	up.Store(false)
	select {
	case healthy := <-h.Check():
		if healthy {
			t.Fatal("reported healthy while down")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fall not reported")
	}

	up.Store(true)
	select {
	case healthy := <-h.Check():
		if !healthy {
			t.Fatal("reported unhealthy while up")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rise not reported")
	}

	h.Close()
	for range h.Check() {
	}
}
