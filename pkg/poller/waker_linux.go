//go:build linux

package poller

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Waker interrupts Wait from another goroutine. It is an eventfd registered
// edge-triggered under its own token.
type Waker struct {
	fd int
}

func NewWaker(p *Poller, token uint32) (w *Waker, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	if err = p.Register(fd, token, Readable, Edge); err != nil {
		unix.Close(fd)
		return
	}
	w = &Waker{fd: fd}
	return
}

// Wake is safe for concurrent use.
func (w *Waker) Wake() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(w.fd, b[:])
	if err == unix.EAGAIN {
		// counter saturated; a wakeup is pending anyway
		return nil
	}
	return errors.WithStack(err)
}

// Drain resets the counter so the next Wake produces a new edge.
func (w *Waker) Drain() {
	var b [8]byte
	for {
		_, err := unix.Read(w.fd, b[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (w *Waker) Close() error {
	return errors.WithStack(unix.Close(w.fd))
}
