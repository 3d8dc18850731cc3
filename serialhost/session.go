package serialhost

import (
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// session is one open serial port plus its inbound buffer.
type session struct {
	deviceID int
	path     string
	port     serial.Port
	closed   atomic.Bool

	// pins is only touched by the reader goroutine.
	pins pinSniffer

	mu    sync.Mutex
	buf   []byte
	limit int
}

func newSession(deviceID int, path string, port serial.Port, limit int) *session {
	return &session{deviceID: deviceID, path: path, port: port, limit: limit}
}

// push appends data, discarding the oldest bytes past the limit. It returns
// how many bytes were discarded.
func (s *session) push(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, data...)
	if s.limit <= 0 || len(s.buf) <= s.limit {
		return 0
	}
	dropped := len(s.buf) - s.limit
	s.buf = append(s.buf[:0], s.buf[dropped:]...)
	return dropped
}

func (s *session) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf
	s.buf = nil
	if out == nil {
		return []byte{}
	}
	return out
}

func (s *session) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// close closes the port once. Later calls are no-ops.
func (s *session) close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.port.Close()
}
