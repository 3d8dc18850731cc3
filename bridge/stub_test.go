package bridge

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubPlatform is an in-memory platform. With echo set, every accepted write
// is appended to the inbound buffer and announced through the data callback.
type stubPlatform struct {
	mu sync.Mutex

	devices []PlatformDevice
	listErr error

	perms      map[int]bool
	requestErr error
	permCB     func(bool)

	connectOK    bool
	connectErr   error
	connectGate  chan struct{}
	dropOnOpen   bool
	connectCalls int
	disconnects  int
	connected    bool
	connectedID  int

	echo       bool
	writeLimit int
	writePanic bool
	inbound    []byte

	onData  func([]byte)
	onState func(bool, int)
	onPin   func(string)
}

func newStub() *stubPlatform {
	return &stubPlatform{
		perms:     map[int]bool{1: true, 2: true},
		connectOK: true,
		devices: []PlatformDevice{
			{DeviceID: 1, VendorID: 0x0403, ProductID: 0x6001, DeviceName: "/dev/ttyUSB0", ProductName: "RNode", DriverType: "FTDI"},
			{DeviceID: 2, VendorID: 0x303a, ProductID: 0x1001, DeviceName: "/dev/ttyACM0", DriverType: "CDC-ACM"},
		},
	}
}

func (s *stubPlatform) ConnectedDevices() ([]PlatformDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices, s.listErr
}

func (s *stubPlatform) HasPermission(id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms[id], nil
}

func (s *stubPlatform) RequestPermission(id int, cb func(bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requestErr != nil {
		return s.requestErr
	}
	s.permCB = cb
	return nil
}

// grant completes the outstanding permission request from another goroutine.
func (s *stubPlatform) grant(id int, granted bool) {
	s.mu.Lock()
	s.perms[id] = granted
	cb := s.permCB
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb(granted)
	}()
	<-done
}

func (s *stubPlatform) Connect(id, baud int) (bool, error) {
	s.mu.Lock()
	s.connectCalls++
	gate := s.connectGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	if s.connectErr != nil || !s.connectOK {
		s.mu.Unlock()
		return false, s.connectErr
	}
	s.connected = true
	s.connectedID = id
	drop := s.dropOnOpen
	s.mu.Unlock()
	if drop {
		// The link dies before the open call has even returned.
		s.dropLink()
	}
	return true, nil
}

func (s *stubPlatform) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	return nil
}

func (s *stubPlatform) IsConnected() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}

func (s *stubPlatform) ConnectedDeviceID() (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedID, s.connected, nil
}

func (s *stubPlatform) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.writePanic {
		s.mu.Unlock()
		panic("usb write exploded")
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	var cb func([]byte)
	if s.echo {
		s.inbound = append(s.inbound, p[:n]...)
		cb = s.onData
	}
	s.mu.Unlock()
	if cb != nil {
		cb(append([]byte(nil), p[:n]...))
	}
	return n, nil
}

func (s *stubPlatform) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbound
	s.inbound = nil
	return out, nil
}

func (s *stubPlatform) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound), nil
}

func (s *stubPlatform) SetOnDataReceived(fn func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = fn
	return nil
}

func (s *stubPlatform) SetOnConnectionStateChanged(fn func(bool, int)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
	return nil
}

func (s *stubPlatform) SetOnBluetoothPinReceived(fn func(string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPin = fn
	return nil
}

// dropLink simulates the platform noticing the cable was pulled.
func (s *stubPlatform) dropLink() {
	s.mu.Lock()
	id := s.connectedID
	s.connected = false
	cb := s.onState
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb(false, id)
	}()
	<-done
}

func (s *stubPlatform) calls() (connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCalls, s.disconnects
}

// panickyPlatform panics on every call.
type panickyPlatform struct{ *stubPlatform }

func (p *panickyPlatform) ConnectedDevices() ([]PlatformDevice, error) {
	panic("enumeration crashed")
}

func (p *panickyPlatform) HasPermission(int) (bool, error) {
	panic("permission service died")
}

func (p *panickyPlatform) RequestPermission(int, func(bool)) error {
	panic("dialog crashed")
}

var errPlatform = errors.New("usb service unavailable")
