package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const DefaultBaudRate = 115200
const DefaultReadTimeout = 100 * time.Millisecond

const readBufferSize = 512

// Serial talks to a serial-over-USB ANT stick (ANT USB-m and friends).
type Serial struct {
	portName    string
	mode        *serial.Mode
	readTimeout time.Duration
	lock        sync.Mutex
	port        serial.Port
	buffer      []byte
}

func NewSerial(portName string, baudRate int, readTimeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Serial{
		portName: portName,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout: readTimeout,
		buffer:      make([]byte, readBufferSize),
	}
}

func (s *Serial) Open() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := serial.Open(s.portName, s.mode)
	if err != nil {
		return fmt.Errorf("serial open %s: %w", s.portName, err)
	}
	err = port.SetReadTimeout(s.readTimeout)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("serial read timeout %s: %w", s.portName, err)
	}
	_ = port.ResetInputBuffer()
	s.port = port
	return nil
}

func (s *Serial) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) getPort() serial.Port {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.port
}

// Read returns whatever arrived within the read timeout. Only one goroutine may call Read.
func (s *Serial) Read() ([]byte, error) {
	port := s.getPort()
	if port == nil {
		return nil, ErrClosed
	}
	n, err := port.Read(s.buffer)
	if err != nil {
		return nil, classify(err)
	}
	data := make([]byte, n)
	copy(data, s.buffer[:n])
	return data, nil
}

func (s *Serial) Write(data []byte) error {
	port := s.getPort()
	if port == nil {
		return ErrClosed
	}
	n, err := port.Write(data)
	if err != nil {
		return classify(err)
	}
	if n < len(data) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteTimeout, n, len(data))
	}
	return nil
}

func classify(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if isDeviceGone(err) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
