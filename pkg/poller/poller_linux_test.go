//go:build linux

package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestOneshotRearm(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	a, b := socketPair(t)
	if err = p.Register(a, 7, Readable, EdgeOneshot); err != nil {
		t.Fatal(err)
	}
	if _, err = unix.Write(b, []byte("x")); err != nil {
		t.Fatal(err)
	}
	events := make([]Event, 8)
	n, err := p.Wait(events, time.Second)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if events[0].Token != 7 || !events[0].Readable {
		t.Fatalf("unexpected event %+v", events[0])
	}

	// disarmed until re-registered, even though data is still pending
	if n, _ = p.Wait(events, 20*time.Millisecond); n != 0 {
		t.Fatalf("oneshot fired twice: %+v", events[0])
	}
	if err = p.Reregister(a, 7, Readable.Insert(Writable), EdgeOneshot); err != nil {
		t.Fatal(err)
	}
	n, err = p.Wait(events, time.Second)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !events[0].Readable || !events[0].Writable {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if err = p.Deregister(a); err != nil {
		t.Fatal(err)
	}
	if err = p.Deregister(a); err == nil {
		t.Fatal("second deregister succeeded")
	}
}

func TestWaker(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	w, err := NewWaker(p, 99)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Wake()
	}()
	events := make([]Event, 4)
	n, err := p.Wait(events, 5*time.Second)
	if err != nil || n != 1 || events[0].Token != 99 {
		t.Fatalf("n=%d err=%v events=%+v", n, err, events[:n])
	}
	w.Drain()
	if n, _ = p.Wait(events, 20*time.Millisecond); n != 0 {
		t.Fatalf("spurious wakeup %+v", events[:n])
	}
}

func TestWaitTimeout(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	n, err := p.Wait(make([]Event, 1), 15*time.Millisecond)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("returned before timeout")
	}
	if err = p.Close(); err != nil {
		t.Fatal(err)
	}
	if err = p.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestInterest(t *testing.T) {
	i := Interest(0)
	if !i.Empty() || i.String() != "none" {
		t.Fatalf("zero interest %v", i)
	}
	i = i.Insert(Readable).Insert(Writable)
	if !i.Has(Readable) || !i.Has(Writable) || i.String() != "readable|writable" {
		t.Fatalf("unexpected %v", i)
	}
	i = i.Remove(Readable)
	if i.Has(Readable) || i != Writable {
		t.Fatalf("unexpected %v", i)
	}
}
