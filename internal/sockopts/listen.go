package sockopts

import (
	"fmt"
	"net"
	"syscall"
)

// NewListenConfig returns a net.ListenConfig whose Control hook applies the
// reuse-address policy and disables UDP connection-reset semantics before
// the socket is bound — the pre-bind setsockopt window net.ListenPacket
// alone doesn't expose.
func NewListenConfig(policy ReusePolicy) net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			if err := applyOnRawConn(rc, func(fd uintptr) error {
				return applyReusePolicy(fd, policy)
			}); err != nil {
				return err
			}
			return applyOnRawConn(rc, disableConnReset)
		},
	}
}

// applyOnRawConn runs fn against the connection's file descriptor, folding
// together the Control-call error and fn's own returned error.
func applyOnRawConn(rc syscall.RawConn, fn func(fd uintptr) error) error {
	var opErr error
	err := rc.Control(func(fd uintptr) {
		opErr = fn(fd)
	})
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	return opErr
}
