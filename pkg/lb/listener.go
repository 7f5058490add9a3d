//go:build linux

package lb

import (
	"net/netip"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Listener is a bound non-blocking TCP socket. It is registered with the
// poller under the listener token and drained on every readiness event.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen binds address, which may carry an empty host or port 0.
func Listen(address string) (l *Listener, err error) {
	ap, err := resolveAddrPort(address)
	if err != nil {
		return
	}
	if !ap.Addr().IsValid() {
		ap = netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port())
	}
	sa := sockaddrOf(ap)
	fd, err := unix.Socket(familyOf(sa), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
			l = nil
		}
	}()
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		err = errors.WithStack(err)
		return
	}
	if err = unix.Bind(fd, sa); err != nil {
		err = errors.Wrapf(err, "bind %s", address)
		return
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		err = errors.Wrapf(err, "listen %s", address)
		return
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	l = &Listener{
		fd:   fd,
		addr: addrPortOf(bound),
	}
	return
}

// Accept takes one pending connection. ok is false when the accept queue is
// empty.
func (l *Listener) Accept() (fd int, ok bool, err error) {
	for {
		fd, _, err = unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			ok = true
			return
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			fd, err = -1, nil
			return
		}
		fd = -1
		err = errors.WithStack(err)
		return
	}
}

func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the bound address, with the port the kernel chose for port 0.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

func (l *Listener) Close() error {
	return errors.WithStack(unix.Close(l.fd))
}
