package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialTransport talks to a handheld radio over a real serial port. A
// single mutex guards the port handle, writes are serialized through a
// dedicated mutex, and callbacks are stored under a RWMutex so they can be
// swapped without racing the reader goroutine.
type SerialTransport struct {
	portName string
	mode     *serial.Mode

	mu   sync.Mutex
	port serial.Port

	writeMu sync.Mutex

	cbMu    sync.RWMutex
	onData  func([]byte)
	onError func(kind ErrorKind, message string)

	cancel context.CancelFunc
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a SerialTransport for the given OS port name
// (e.g. "/dev/ttyUSB0", "COM3") at the given baud rate.
func NewSerialTransport(portName string, baud int) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		mode:     &serial.Mode{BaudRate: baud},
	}
}

func (s *SerialTransport) SetOnData(fn func([]byte)) {
	s.cbMu.Lock()
	s.onData = fn
	s.cbMu.Unlock()
}

func (s *SerialTransport) SetOnError(fn func(kind ErrorKind, message string)) {
	s.cbMu.Lock()
	s.onError = fn
	s.cbMu.Unlock()
}

// Open opens the serial port and starts the background reader. The port
// open call does not consult ctx; once open, the reader runs until Close.
func (s *SerialTransport) Open(ctx context.Context) error {
	port, err := serial.Open(s.portName, s.mode)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", s.portName, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	_, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.readLoop(port)
	return nil
}

func (s *SerialTransport) readLoop(port serial.Port) {
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.cbMu.RLock()
			onData := s.onData
			s.cbMu.RUnlock()
			if onData != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onData(chunk)
			}
		}
		if err != nil {
			kind := IoError
			if err == io.EOF {
				kind = Disconnected
			}
			logrus.WithError(err).WithField("port", s.portName).Warn("serial: read loop ending")
			s.cbMu.RLock()
			onError := s.onError
			s.cbMu.RUnlock()
			if onError != nil {
				onError(kind, err.Error())
			}
			return
		}
	}
}

// Write serializes a write through writeMu; safe for concurrent callers.
func (s *SerialTransport) Write(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := port.Write(data)
	return err
}

// Close closes the serial port. Safe to call more than once.
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if port == nil {
		return nil
	}
	return port.Close()
}
