package serialhost

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errUnplugged = errors.New("device not configured")

// fakePort is a serial.Port fed from a channel. Methods the host never
// calls are left to the embedded nil interface.
type fakePort struct {
	serial.Port

	mode    *serial.Mode
	timeout time.Duration
	rx      chan []byte
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	written   []byte
	dtr       bool
	unplugged bool
	pending   []byte
}

func newFakePort() *fakePort {
	return &fakePort{rx: make(chan []byte, 16), done: make(chan struct{})}
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) SetDTR(dtr bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = dtr
	return nil
}

func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return 0, errors.New("port closed")
	case data := <-p.rx:
		n := copy(buf, data)
		p.mu.Lock()
		p.pending = append(p.pending, data[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-time.After(p.timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unplugged {
		return nil, errUnplugged
	}
	return &serial.ModemStatusBits{}, nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakePort) unplug() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unplugged = true
}

func (p *fakePort) sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

var testPorts = []*enumerator.PortDetails{
	{Name: "/dev/ttyS0"},
	{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A10KX3", Product: "FT232R USB UART"},
	{Name: "/dev/ttyACM0", IsUSB: true, VID: "303a", PID: "1001", Product: "RNode"},
	{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1a86", PID: "7523"},
}

// testHost returns a host wired to fakes. The returned port is handed out
// by the next open.
func testHost(t *testing.T) (*Host, *fakePort) {
	t.Helper()
	h := New(Options{
		Logger:            testLogger(),
		ReadTimeout:       2 * time.Millisecond,
		BufferSize:        32,
		PermissionTimeout: 100 * time.Millisecond,
		PermissionPoll:    time.Millisecond,
	})
	port := newFakePort()
	h.listPorts = func() ([]*enumerator.PortDetails, error) { return testPorts, nil }
	h.lookupUSB = func() usbIndex {
		idx := usbIndex{}
		idx.add(0x0403, 0x6001, usbInfo{bus: 1, address: 4, class: 0, manufacturer: "FTDI"})
		idx.add(0x303a, 0x1001, usbInfo{bus: 3, address: 9, class: usbClassComm})
		return idx
	}
	h.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		port.mode = mode
		return port, nil
	}
	h.access = func(string) error { return nil }
	t.Cleanup(func() { _ = h.Disconnect() })
	return h, port
}
