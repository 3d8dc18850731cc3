package serialhost

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/Thiagojm/rnode_usb_bridge/bridge"
)

var errNotOpen = errors.New("no serial port open")

// Options tunes the host. Zero values fall back to DefaultOptions.
type Options struct {
	// ReadTimeout bounds each read on the port, and so how quickly the
	// reader notices a close.
	ReadTimeout time.Duration
	// BufferSize caps the inbound buffer; the oldest bytes go first.
	BufferSize int
	// PermissionTimeout is how long RequestPermission waits for access.
	PermissionTimeout time.Duration
	// PermissionPoll is the access re-check interval during a request.
	PermissionPoll time.Duration
	// DTR asserts DTR after opening. Some boards reset on DTR, so it is off
	// by default.
	DTR    bool
	Logger *slog.Logger
}

// DefaultOptions returns the settings used for RNode boards.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:       50 * time.Millisecond,
		BufferSize:        64 * 1024,
		PermissionTimeout: 2 * time.Minute,
		PermissionPoll:    500 * time.Millisecond,
	}
}

// Host implements bridge.Platform on top of go.bug.st/serial.
type Host struct {
	opts Options
	log  *slog.Logger

	listPorts func() ([]*enumerator.PortDetails, error)
	lookupUSB func() usbIndex
	openPort  func(name string, mode *serial.Mode) (serial.Port, error)
	access    func(path string) error

	mu      sync.Mutex
	devices map[int]string
	sess    *session

	cbMu    sync.RWMutex
	onData  func([]byte)
	onState func(bool, int)
	onPin   func(string)
}

var _ bridge.Platform = (*Host)(nil)

// New returns a host with opts applied over DefaultOptions.
func New(opts Options) *Host {
	def := DefaultOptions()
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.PermissionTimeout <= 0 {
		opts.PermissionTimeout = def.PermissionTimeout
	}
	if opts.PermissionPoll <= 0 {
		opts.PermissionPoll = def.PermissionPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "serialhost")

	return &Host{
		opts:      opts,
		log:       log,
		listPorts: enumerator.GetDetailedPortsList,
		lookupUSB: func() usbIndex { return lookupUSB(log) },
		openPort:  serial.Open,
		access:    checkAccess,
		devices:   make(map[int]string),
	}
}

// ConnectedDevices enumerates USB serial ports.
func (h *Host) ConnectedDevices() ([]bridge.PlatformDevice, error) {
	ports, err := h.listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerating ports: %w", err)
	}
	usb := h.lookupUSB()

	var out []bridge.PlatformDevice
	paths := make(map[int]string)
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vid, pid := parseUSBID(p.VID), parseUSBID(p.PID)
		info, ok := usb.take(vid, pid)
		class := -1
		if ok {
			class = info.class
		}
		id := deviceID(p.Name, info, ok)
		out = append(out, bridge.PlatformDevice{
			DeviceID:         id,
			VendorID:         int(vid),
			ProductID:        int(pid),
			DeviceName:       p.Name,
			ManufacturerName: info.manufacturer,
			ProductName:      p.Product,
			SerialNumber:     p.SerialNumber,
			DriverType:       detectDriver(vid, class, p.Name).String(),
		})
		paths[id] = p.Name
	}

	h.mu.Lock()
	h.devices = paths
	h.mu.Unlock()
	return out, nil
}

// parseUSBID parses the hex VID/PID strings the enumerator reports.
func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// pathFor resolves a device id, re-enumerating once if it is unknown.
func (h *Host) pathFor(deviceID int) (string, error) {
	h.mu.Lock()
	path, ok := h.devices[deviceID]
	h.mu.Unlock()
	if ok {
		return path, nil
	}
	if _, err := h.ConnectedDevices(); err != nil {
		return "", err
	}
	h.mu.Lock()
	path, ok = h.devices[deviceID]
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("device %d not attached", deviceID)
	}
	return path, nil
}

// HasPermission reports whether the port can be opened read/write.
func (h *Host) HasPermission(deviceID int) (bool, error) {
	path, err := h.pathFor(deviceID)
	if err != nil {
		return false, err
	}
	return h.access(path) == nil, nil
}

// RequestPermission has no dialog to show on a desktop host. It logs how to
// grant access and polls until access appears or the timeout passes.
// onResult is always called from a separate goroutine.
func (h *Host) RequestPermission(deviceID int, onResult func(granted bool)) error {
	path, err := h.pathFor(deviceID)
	if err != nil {
		return err
	}
	if h.access(path) != nil {
		h.log.Info("waiting for serial port access; add a udev rule or join the dialout group",
			"device_id", deviceID, "path", path, "timeout", h.opts.PermissionTimeout)
	}

	go func() {
		deadline := time.NewTimer(h.opts.PermissionTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(h.opts.PermissionPoll)
		defer ticker.Stop()

		for {
			if h.access(path) == nil {
				onResult(true)
				return
			}
			select {
			case <-ticker.C:
			case <-deadline.C:
				h.log.Warn("permission request timed out", "device_id", deviceID, "path", path)
				onResult(false)
				return
			}
		}
	}()
	return nil
}

// Connect opens the device's serial port and starts the reader.
func (h *Host) Connect(deviceID, baudRate int) (bool, error) {
	path, err := h.pathFor(deviceID)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	if s := h.sess; s != nil {
		h.mu.Unlock()
		if s.deviceID == deviceID {
			return true, nil
		}
		return false, fmt.Errorf("already connected to device %d", s.deviceID)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := h.openPort(path, mode)
	if err != nil {
		h.mu.Unlock()
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(h.opts.ReadTimeout); err != nil {
		h.mu.Unlock()
		_ = port.Close()
		return false, fmt.Errorf("set read timeout: %w", err)
	}
	if h.opts.DTR {
		_ = port.SetDTR(true)
	}
	if err := port.ResetInputBuffer(); err != nil {
		// not fatal, stale bytes just reach the caller
		h.log.Debug("reset input buffer failed", "path", path, "err", err)
	}

	s := newSession(deviceID, path, port, h.opts.BufferSize)
	h.sess = s
	h.mu.Unlock()

	h.log.Info("serial port open", "device_id", deviceID, "path", path, "baud_rate", baudRate)
	go h.pump(s)
	h.emitState(true, deviceID)
	return true, nil
}

// pump reads until the port fails or is closed.
func (h *Host) pump(s *session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if dropped := s.push(data); dropped > 0 {
				h.log.Warn("inbound buffer full, dropped oldest bytes", "device_id", s.deviceID, "dropped", dropped)
			}
			h.emitData(data)
			for _, pin := range s.pins.feed(data) {
				h.log.Info("bluetooth pairing pin received", "device_id", s.deviceID)
				h.emitPin(pin)
			}
			continue
		}
		if err == nil {
			// Read timed out. Probe the modem lines so an unplugged
			// adapter is noticed even when it goes quiet.
			_, err = s.port.GetModemStatusBits()
		}
		if err != nil {
			if s.closed.Load() {
				return
			}
			h.log.Warn("serial port lost", "device_id", s.deviceID, "path", s.path, "err", err)
			h.lost(s)
			return
		}
	}
}

func (h *Host) lost(s *session) {
	h.mu.Lock()
	if h.sess == s {
		h.sess = nil
	}
	h.mu.Unlock()
	_ = s.close()
	h.emitState(false, s.deviceID)
}

// Disconnect closes the open port, if any.
func (h *Host) Disconnect() error {
	h.mu.Lock()
	s := h.sess
	h.sess = nil
	h.mu.Unlock()
	if s == nil {
		return nil
	}

	err := s.close()
	h.log.Info("serial port closed", "device_id", s.deviceID, "path", s.path)
	h.emitState(false, s.deviceID)
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

func (h *Host) current() *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func (h *Host) IsConnected() (bool, error) {
	return h.current() != nil, nil
}

func (h *Host) ConnectedDeviceID() (int, bool, error) {
	s := h.current()
	if s == nil {
		return 0, false, nil
	}
	return s.deviceID, true, nil
}

// Write hands p to the serial driver. go.bug.st/serial has no write
// deadline; the tty layer's own buffering bounds how long this takes.
func (h *Host) Write(p []byte) (int, error) {
	s := h.current()
	if s == nil {
		return 0, errNotOpen
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.path, err)
	}
	return n, nil
}

// Read drains the inbound buffer without waiting.
func (h *Host) Read() ([]byte, error) {
	s := h.current()
	if s == nil {
		return []byte{}, nil
	}
	return s.drain(), nil
}

func (h *Host) Available() (int, error) {
	s := h.current()
	if s == nil {
		return 0, nil
	}
	return s.buffered(), nil
}

func (h *Host) SetOnDataReceived(fn func(data []byte)) error {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onData = fn
	return nil
}

func (h *Host) SetOnConnectionStateChanged(fn func(connected bool, deviceID int)) error {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onState = fn
	return nil
}

func (h *Host) SetOnBluetoothPinReceived(fn func(pin string)) error {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onPin = fn
	return nil
}

func (h *Host) emitData(data []byte) {
	h.cbMu.RLock()
	fn := h.onData
	h.cbMu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

func (h *Host) emitState(connected bool, deviceID int) {
	h.cbMu.RLock()
	fn := h.onState
	h.cbMu.RUnlock()
	if fn != nil {
		fn(connected, deviceID)
	}
}

func (h *Host) emitPin(pin string) {
	h.cbMu.RLock()
	fn := h.onPin
	h.cbMu.RUnlock()
	if fn != nil {
		fn(pin)
	}
}
