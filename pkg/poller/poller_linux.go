//go:build linux

// Package poller wraps epoll. Sockets are registered under caller-chosen
// tokens which come back in events.
package poller

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type Poller struct {
	epfd    int
	buf     []unix.EpollEvent
	closeMu sync.Mutex
	closed  bool
}

func New() (p *Poller, err error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	p = &Poller{
		epfd: epfd,
	}
	return
}

func epollEvents(interest Interest, mode Mode) uint32 {
	var ev uint32
	if interest.Has(Readable) {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.Has(Writable) {
		ev |= unix.EPOLLOUT
	}
	switch mode {
	case Edge:
		ev |= unix.EPOLLET
	case EdgeOneshot:
		ev |= unix.EPOLLET | unix.EPOLLONESHOT
	}
	return ev
}

func (p *Poller) ctl(op int, fd int, token uint32, interest Interest, mode Mode) error {
	ev := unix.EpollEvent{
		Events: epollEvents(interest, mode),
		Fd:     int32(token),
	}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

// Register adds fd under token.
func (p *Poller) Register(fd int, token uint32, interest Interest, mode Mode) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, token, interest, mode); err != nil {
		return errors.Wrapf(err, "epoll add fd %d", fd)
	}
	return nil
}

// Reregister replaces the interest of fd. For EdgeOneshot it also re-arms the
// descriptor, reporting readiness that is already pending.
func (p *Poller) Reregister(fd int, token uint32, interest Interest, mode Mode) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, token, interest, mode); err != nil {
		return errors.Wrapf(err, "epoll mod fd %d", fd)
	}
	return nil
}

func (p *Poller) Deregister(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll del fd %d", fd)
	}
	return nil
}

// Wait blocks until at least one event is ready or timeout elapses, and fills
// events. A negative timeout blocks indefinitely. An interrupted wait returns
// zero events and no error.
func (p *Poller) Wait(events []Event, timeout time.Duration) (n int, err error) {
	if len(events) == 0 {
		return
	}
	if cap(p.buf) < len(events) {
		p.buf = make([]unix.EpollEvent, len(events))
	}
	buf := p.buf[:len(events)]
	msec := -1
	if timeout >= 0 {
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err = unix.EpollWait(p.epfd, buf, msec)
	if err != nil {
		n = 0
		if err == unix.EINTR {
			err = nil
			return
		}
		err = errors.WithStack(err)
		return
	}
	for i := 0; i < n; i++ {
		e := buf[i].Events
		events[i] = Event{
			Token:    uint32(buf[i].Fd),
			Readable: e&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0,
			Writable: e&unix.EPOLLOUT != 0,
			Hangup:   e&unix.EPOLLHUP != 0,
			Error:    e&unix.EPOLLERR != 0,
		}
	}
	return
}

func (p *Poller) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return errors.WithStack(unix.Close(p.epfd))
}
