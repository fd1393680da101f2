//go:build unix

// Benign UDP reset-family errors, grounded on the same golang.org/x/sys/unix
// errno set internal/sockopts already builds against on POSIX.
package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isBenignResetError reports whether err is one of the reset-family codes
// (NETRESET | CONNRESET | CONNREFUSED | MSGSIZE) that UDP surfaces from a
// prior ICMP port-unreachable or similar — non-fatal, per spec: continue
// the read loop rather than tearing down the session.
func isBenignResetError(err error) bool {
	switch {
	case errors.Is(err, unix.ECONNREFUSED),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.ENETRESET),
		errors.Is(err, unix.EMSGSIZE):
		return true
	default:
		return false
	}
}
