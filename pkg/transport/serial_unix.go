//go:build unix

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Errors the kernel reports once a USB serial adapter has been unplugged or the fd closed.
func isDeviceGone(err error) bool {
	return errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.EBADF)
}
