//go:build windows

// Benign UDP reset-family errors on Windows: the WSAE* codes behind the
// connection-reset reporting that internal/sockopts/apply_windows.go turns
// off with the SIO_UDP_CONNRESET ioctl.
package engine

import (
	"errors"

	"golang.org/x/sys/windows"
)

func isBenignResetError(err error) bool {
	switch {
	case errors.Is(err, windows.WSAECONNREFUSED),
		errors.Is(err, windows.WSAECONNRESET),
		errors.Is(err, windows.WSAENETRESET),
		errors.Is(err, windows.WSAEMSGSIZE):
		return true
	default:
		return false
	}
}
