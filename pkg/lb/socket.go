//go:build linux

package lb

import (
	"io"
	"net"
	"net/netip"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// sockIO reads and writes a non-blocking socket and counts the bytes moved.
// A read of zero bytes is reported as io.EOF; unix.EAGAIN is passed through.
type sockIO struct {
	fd int
	rx int64
	tx int64
}

func (s *sockIO) Read(p []byte) (n int, err error) {
	for {
		n, err = unix.Read(s.fd, p)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		n = 0
		return
	}
	if n == 0 && len(p) > 0 {
		err = io.EOF
		return
	}
	s.rx += int64(n)
	return
}

func (s *sockIO) Write(p []byte) (n int, err error) {
	for {
		n, err = unix.Write(s.fd, p)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		n = 0
		return
	}
	s.tx += int64(n)
	return
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sockaddrOf(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

func familyOf(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// dialNonblock starts a TCP connect to sa. The connect completes later and is
// checked with connectError on the first writable event.
func dialNonblock(sa unix.Sockaddr) (fd int, err error) {
	fd, err = unix.Socket(familyOf(sa), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		unix.Close(fd)
		fd = -1
		err = errors.WithStack(err)
		return
	}
	err = nil
	return
}

// connectError returns the result of a non-blocking connect.
func connectError(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.WithStack(err)
	}
	if soerr != 0 {
		return errors.WithStack(unix.Errno(soerr))
	}
	return nil
}

// shutdown ignores the errors of sockets the peer already tore down.
func shutdown(fd int, how int) error {
	err := unix.Shutdown(fd, how)
	if err == nil || err == unix.ENOTCONN || err == unix.EBADF {
		return nil
	}
	return errors.WithStack(err)
}

// resolveAddrPort resolves a host:port pair. It may block on DNS and must not
// be called from the event loop.
func resolveAddrPort(address string) (ap netip.AddrPort, err error) {
	if ap, err = netip.ParseAddrPort(address); err == nil {
		return
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	ap = tcpAddr.AddrPort()
	return
}
