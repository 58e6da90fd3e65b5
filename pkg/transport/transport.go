package transport

import "errors"

var ErrClosed = errors.New("transport closed")
var ErrWriteTimeout = errors.New("transport write timeout")

// Transport is the byte pipe to an ANT stick.
//
// Read may return an empty slice when nothing arrived within the driver's read timeout.
// Once the device has gone away, Read and Write return an error wrapping ErrClosed.
type Transport interface {
	Open() error
	Close() error
	Read() ([]byte, error)
	Write([]byte) error
}
