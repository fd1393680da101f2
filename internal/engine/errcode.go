package engine

import (
	"errors"
	"syscall"
)

// platformCode extracts the platform errno wrapped inside err, for
// recording in a CloseContext alongside a fatal (send, receive) condition.
// It returns 0 if err is nil or does not wrap a syscall.Errno, matching the
// teacher-equivalent original's fallback of reporting 0 only when no real
// code is available.
func platformCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
