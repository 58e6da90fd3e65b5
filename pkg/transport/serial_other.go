//go:build !unix

package transport

func isDeviceGone(_ error) bool {
	return false
}
