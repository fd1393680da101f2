//go:build unix

// Non-blocking recvfrom/sendto driven by a background unix.Poll loop with a
// self-pipe wakeup, grounded directly on the pack's uping listener
// (tools/uping/pkg/uping/listener.go): raw non-blocking socket, an
// eventfd/pipe added to the same pollset purely to interrupt the wait on
// shutdown, EAGAIN/EWOULDBLOCK treated as "nothing ready, keep going".
package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

type unixConn struct {
	udp *net.UDPConn
	fd  int

	wakeR, wakeW *os.File

	events chan Event

	wantRead  atomic.Bool
	wantWrite atomic.Bool

	errMu   sync.Mutex
	lastErr error

	done chan struct{}
}

// New wraps an already-bound *net.UDPConn with non-blocking recvfrom/sendto
// and a readiness channel fed by a background poll loop.
func New(udp *net.UDPConn) (Conn, error) {
	rc, err := udp.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}

	var fd int
	var ctrlErr error
	err = rc.Control(func(f uintptr) {
		fd = int(f)
		ctrlErr = unix.SetNonblock(fd, true)
	})
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if ctrlErr != nil {
		return nil, fmt.Errorf("set nonblocking: %w", ctrlErr)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}

	c := &unixConn{
		udp:    udp,
		fd:     fd,
		wakeR:  r,
		wakeW:  w,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	c.wantRead.Store(true)

	go c.pollLoop()
	return c, nil
}

func (c *unixConn) pollLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		var socketEvents int16
		if c.wantRead.Load() {
			socketEvents |= unix.POLLIN
		}
		if c.wantWrite.Load() {
			socketEvents |= unix.POLLOUT
		}

		pfds := []unix.PollFd{
			{Fd: int32(c.fd), Events: socketEvents},
			{Fd: int32(c.wakeR.Fd()), Events: unix.POLLIN},
		}

		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.setErr(err)
			return
		}

		if pfds[1].Revents&unix.POLLIN != 0 {
			return
		}

		var ev Event
		r := pfds[0].Revents
		if r&unix.POLLIN != 0 {
			ev |= EventRead
		}
		if r&unix.POLLOUT != 0 {
			ev |= EventWrite
		}
		if r&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ev |= EventError
			c.setErr(socketError(c.fd))
		}
		if ev == 0 {
			continue
		}

		select {
		case c.events <- ev:
		default:
		}
	}
}

func (c *unixConn) Ready() <-chan Event { return c.events }

func (c *unixConn) WantWrite(want bool) { c.wantWrite.Store(want) }
func (c *unixConn) WantRead(want bool)  { c.wantRead.Store(want) }

func (c *unixConn) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *unixConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// socketError reads the pending SO_ERROR off fd, the errno a getsockopt
// call surfaces for a POLLERR/POLLHUP/POLLNVAL condition poll() itself
// doesn't carry a code for.
func socketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || code == 0 {
		return nil
	}
	return syscall.Errno(code)
}

func (c *unixConn) RecvFrom(buf []byte) (int, net.Addr, error) {
	n, from, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, sockaddrToUDPAddr(from), nil
}

func (c *unixConn) SendTo(buf []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return 0, err
		}
		udpAddr = resolved
	}

	sa, err := udpAddrToSockaddr(udpAddr)
	if err != nil {
		return 0, err
	}

	if err := unix.Sendto(c.fd, buf, 0, sa); err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return len(buf), nil
}

func (c *unixConn) LocalAddr() net.Addr { return c.udp.LocalAddr() }

func (c *unixConn) Close() error {
	_, _ = c.wakeW.Write([]byte{0})
	<-c.done
	_ = c.wakeR.Close()
	_ = c.wakeW.Close()
	return c.udp.Close()
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return &net.UDPAddr{IP: ip, Port: a.Port, Zone: zoneFromIfindex(a.ZoneId)}
	default:
		return &net.UDPAddr{}
	}
}

func udpAddrToSockaddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("invalid IP address %v", addr.IP)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip16)
	return sa, nil
}

func zoneFromIfindex(idx uint32) string {
	if idx == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(idx)); err == nil {
		return iface.Name
	}
	return ""
}
