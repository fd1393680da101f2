//go:build windows

// Socket-option plumbing for Windows, generalizing the teacher's
// setSocketOptions (internal/transport/socket_windows_test.go: "Windows
// supports SO_REUSEADDR only (no SO_REUSEPORT)") to the full reuse-policy
// enum and adding the SIO_UDP_CONNRESET ioctl the engine's read loop
// depends on to treat a previously-unreachable peer as non-fatal.
package sockopts

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// SIO_UDP_CONNRESET silences WSAECONNRESET on a UDP socket after it
// receives an ICMP port-unreachable for a prior send; without this, the
// next recv on the same socket fails instead of simply finding no data.
const sioUDPConnReset = windows.IOC_IN | windows.IOC_VENDOR | 12

func applyReusePolicy(fd uintptr, policy ReusePolicy) error {
	switch policy {
	case ReuseNone:
		return nil
	case ReuseAddrOnly, ReuseAddrPort:
		// SO_REUSEPORT does not exist on Windows; SO_REUSEADDR is the only
		// lever available for either policy value.
		return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	default:
		return nil
	}
}

func setBroadcast(fd uintptr) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
}

func disableConnReset(fd uintptr) error {
	var bytesReturned uint32
	flag := uint32(0)
	return windows.WSAIoctl(
		windows.Handle(fd),
		sioUDPConnReset,
		(*byte)(unsafe.Pointer(&flag)),
		uint32(unsafe.Sizeof(flag)),
		nil,
		0,
		&bytesReturned,
		nil,
		0,
	)
}
