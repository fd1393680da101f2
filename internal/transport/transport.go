// Package transport is the non-blocking socket facade the network loop
// drives: readiness-driven recvfrom/sendto over a UDP socket, with an
// explicit read/write interest toggle so the readiness wait tracks the
// engine's actual needs (parallel to WSAEventSelect's edge-triggered
// FD_READ/FD_WRITE semantics) instead of spinning on an always-writable
// socket.
//
// This replaces the teacher's blocking internal/transport/udp.go
// (UDPv4Transport.Send/Receive wrap net.PacketConn.WriteTo/ReadFrom
// directly) with the readiness-based model the engine's network loop
// needs, while keeping the teacher's NetworkError-style wrapped-error
// convention (see internal/xerrors) and its golang.org/x/net/ipv4 use for
// multicast (now in internal/sockopts).
package transport

import (
	"errors"
	"net"
)

// ErrWouldBlock is returned by RecvFrom/SendTo when the operation could not
// complete without blocking.
var ErrWouldBlock = errors.New("transport: operation would block")

// Event is a bitmask of socket readiness conditions: error and read/write
// interest. There is no Close bit — UDP is connectionless, so it has no
// peer-initiated half-close distinct from a read/write error; an
// unexpected teardown is instead observed as the Ready channel closing
// (see Conn's doc) with Err reporting the cause, if any.
type Event uint8

const (
	EventRead Event = 1 << iota
	EventWrite
	EventError
)

// Conn is a non-blocking datagram socket with a readiness channel.
type Conn interface {
	// RecvFrom reads one datagram into buf without blocking. It returns
	// ErrWouldBlock if no datagram is currently available.
	RecvFrom(buf []byte) (n int, addr net.Addr, err error)

	// SendTo writes one datagram to addr without blocking. It returns
	// ErrWouldBlock if the socket send buffer is currently full.
	SendTo(buf []byte, addr net.Addr) (n int, err error)

	// Ready delivers a readiness event whenever the watched conditions
	// change. Reads are always watched by default; writes are watched
	// only while WantWrite(true) is in effect, so an always-writable UDP
	// socket doesn't spin the readiness loop. The channel is closed when
	// the underlying poll loop exits, whether from Close or an
	// unexpected internal failure; Err reports which.
	Ready() <-chan Event

	// WantWrite toggles whether write-readiness is of interest.
	WantWrite(want bool)

	// WantRead toggles whether read-readiness is of interest, dropped
	// while the caller is paused.
	WantRead(want bool)

	// Err returns the platform error behind the most recent EventError
	// delivery, or behind the Ready channel closing unexpectedly. It is
	// nil when there is nothing to report, including after a deliberate
	// Close.
	Err() error

	LocalAddr() net.Addr
	Close() error
}
