//go:build linux

package lb

import (
	"context"
	"testing"
	"time"
)

func TestHubBroadcastAndStop(t *testing.T) {
	h := NewHub()
	defer h.Close()
	var drivers []*Driver
	for _, name := range []string{"a", "b"} {
		d, err := NewDriver(DriverOptions{Name: name, Address: "127.0.0.1:0", Results: h.Results()})
		if err != nil {
			t.Fatal(err)
		}
		go d.Run()
		h.Attach(d)
		drivers = append(drivers, d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := h.Broadcast(ctx, Command{Kind: AddFront, Front: "x", Backend: "y"})
	if err != nil || len(results) != 2 {
		t.Fatalf("broadcast: %v %v", results, err)
	}
	seen := map[string]bool{}
	for _, r := range results {
		if r.Kind != AddedFront || !r.OK() {
			t.Errorf("unexpected result %v", r)
		}
		seen[r.Listener] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("missing listener results: %v", results)
	}

	if _, err = h.Broadcast(ctx, Command{Kind: RemoveFront, Front: "nope"}); err == nil {
		t.Error("failed command reported no error")
	}

	results, err = h.Stop(ctx)
	if err != nil || len(results) != 2 {
		t.Fatalf("stop: %v %v", results, err)
	}
	for _, d := range drivers {
		select {
		case <-d.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("driver %s still running", d.Name())
		}
	}
	if _, err = h.Broadcast(ctx, Command{Kind: AddFront, Front: "x", Backend: "y"}); err == nil {
		t.Error("broadcast to stopped drivers succeeded")
	}
}

func TestHubWithoutDrivers(t *testing.T) {
	h := NewHub()
	defer h.Close()
	results, err := h.Broadcast(context.Background(), Command{Kind: AddFront, Front: "x", Backend: "y"})
	if err != nil || len(results) != 0 {
		t.Fatalf("unexpected %v %v", results, err)
	}
}
