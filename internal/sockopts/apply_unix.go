//go:build unix

// Socket-option plumbing grounded on the pack's uping sender/listener,
// which drives golang.org/x/sys/unix directly for raw, non-blocking socket
// setup (SO_REUSEADDR/SO_REUSEPORT, SO_BROADCAST) rather than reaching for
// any higher-level wrapper.
package sockopts

import "golang.org/x/sys/unix"

func applyReusePolicy(fd uintptr, policy ReusePolicy) error {
	switch policy {
	case ReuseNone:
		return nil
	case ReuseAddrOnly:
		return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	case ReuseAddrPort:
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
		return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	default:
		return nil
	}
}

func setBroadcast(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
}

// disableConnReset is a Windows-only concept (WSAIoctl SIO_UDP_CONNRESET);
// Unix has no socket option that turns off reset-family errors on a UDP
// socket, so this is a no-op. Any such errno that recvfrom does return is
// treated as benign by the engine's read loop (internal/engine/reset_unix.go).
func disableConnReset(fd uintptr) error {
	return nil
}
