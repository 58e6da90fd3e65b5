package transport

import (
	"sync"
	"time"
)

const loopbackQueue = 1024

// DefaultLoopbackWriteTimeout is how long a Write waits for room on the other side.
const DefaultLoopbackWriteTimeout = time.Second

type loopbackLink struct {
	done   chan struct{}
	lock   sync.Mutex
	closed bool
}

// Loopback is one end of an in-memory transport. What one end writes the other end reads.
type Loopback struct {
	link         *loopbackLink
	in           chan []byte
	out          chan []byte
	readErrs     chan error
	WriteTimeout time.Duration
}

// NewLoopback creates a connected pair. The host end goes to the engine, the device end to
// whatever plays the stick.
func NewLoopback() (*Loopback, *Loopback) {
	link := &loopbackLink{done: make(chan struct{})}
	a := make(chan []byte, loopbackQueue)
	b := make(chan []byte, loopbackQueue)
	host := &Loopback{
		link:         link,
		in:           a,
		out:          b,
		readErrs:     make(chan error, 8),
		WriteTimeout: DefaultLoopbackWriteTimeout,
	}
	device := &Loopback{
		link:         link,
		in:           b,
		out:          a,
		readErrs:     make(chan error, 8),
		WriteTimeout: DefaultLoopbackWriteTimeout,
	}
	return host, device
}

func (l *Loopback) Open() error {
	select {
	case <-l.link.done:
		return ErrClosed
	default:
		return nil
	}
}

// Close closes both ends.
func (l *Loopback) Close() error {
	l.link.lock.Lock()
	defer l.link.lock.Unlock()
	if !l.link.closed {
		l.link.closed = true
		close(l.link.done)
	}
	return nil
}

// Done is closed once either end has been closed.
func (l *Loopback) Done() <-chan struct{} {
	return l.link.done
}

// FailRead makes a future Read return err instead of data.
func (l *Loopback) FailRead(err error) {
	l.readErrs <- err
}

func (l *Loopback) Read() ([]byte, error) {
	select {
	case err := <-l.readErrs:
		return nil, err
	default:
	}

	select {
	case err := <-l.readErrs:
		return nil, err
	case data := <-l.in:
		return data, nil
	case <-l.link.done:
		return nil, ErrClosed
	}
}

func (l *Loopback) Write(data []byte) error {
	buff := make([]byte, len(data))
	copy(buff, data)

	timer := time.NewTimer(l.WriteTimeout)
	defer timer.Stop()

	select {
	case <-l.link.done:
		return ErrClosed
	default:
	}

	select {
	case l.out <- buff:
		return nil
	case <-l.link.done:
		return ErrClosed
	case <-timer.C:
		return ErrWriteTimeout
	}
}
