package bridge

import (
	"errors"
	"log/slog"
)

// Handle is the composition root and the only surface callers use.
// Create one with New at process start, pass it to whoever needs it, and
// Bind it once the platform layer is up. Methods are safe for concurrent use.
type Handle struct {
	b     *binding
	log   *slog.Logger
	reg   *DeviceRegistry
	perms *PermissionManager
	conn  *ConnectionManager
	data  *DataChannel
}

// New returns an unbound handle. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "bridge")

	b := &binding{}
	perms := newPermissionManager(b, log)
	conn := newConnectionManager(b, perms, log)
	data := &DataChannel{b: b, conn: conn, log: log}
	conn.notify = data.stateChanged

	return &Handle{
		b:     b,
		log:   log,
		reg:   &DeviceRegistry{b: b},
		perms: perms,
		conn:  conn,
		data:  data,
	}
}

// Bind attaches the platform layer. Binding again replaces the previous
// platform, which supports re-initialization after a platform restart; any
// connection the handle believed live is dropped and reported as
// disconnected. Binding nil is the same as Unbind.
func (h *Handle) Bind(p Platform) {
	if p == nil {
		h.Unbind()
		return
	}
	h.conn.reset()
	ref := &platformRef{Platform: p}
	h.b.ref.Store(ref)
	h.log.Debug("platform bound")

	// Events from a platform that has since been replaced are dropped.
	live := func() bool { return h.b.current() == ref }
	h.guard("set_on_data_received", h.b.call("set_on_data_received", func(p Platform) error {
		return p.SetOnDataReceived(func(data []byte) {
			if live() {
				h.data.dataReceived(data)
			}
		})
	}))
	h.guard("set_on_connection_state_changed", h.b.call("set_on_connection_state_changed", func(p Platform) error {
		return p.SetOnConnectionStateChanged(func(connected bool, deviceID int) {
			if live() {
				h.conn.platformStateChanged(connected, deviceID)
			}
		})
	}))
	h.guard("set_on_bluetooth_pin_received", h.b.call("set_on_bluetooth_pin_received", func(p Platform) error {
		return p.SetOnBluetoothPinReceived(func(pin string) {
			if live() {
				h.data.pinReceived(pin)
			}
		})
	}))
}

// Unbind detaches the platform. Subscribers stay registered.
func (h *Handle) Unbind() {
	h.b.ref.Store(nil)
	h.conn.reset()
	h.log.Debug("platform unbound")
}

// IsAvailable reports whether a platform is bound.
func (h *Handle) IsAvailable() bool { return h.b.bound() }

// guard logs err at a level matching its kind. It returns err unchanged.
func (h *Handle) guard(op string, err error) error {
	switch {
	case err == nil:
	case errors.Is(err, ErrUnbound):
		h.log.Debug("platform not bound", "op", op)
	case errors.Is(err, ErrTransportFailure):
		h.log.Error("platform call failed", "op", op, "err", err)
	default:
		h.log.Warn("operation refused", "op", op, "err", err)
	}
	return err
}

// ListDevices returns the attached USB-serial devices. On failure the slice
// is empty and non-nil and the error says why.
func (h *Handle) ListDevices() ([]DeviceDescriptor, error) {
	devices, err := h.reg.List()
	return devices, h.guard("list_devices", err)
}

// HasPermission reports whether access to deviceID is granted. Any failure
// answers false.
func (h *Handle) HasPermission(deviceID int) bool {
	granted, err := h.perms.Has(deviceID)
	if h.guard("has_permission", err) != nil {
		return false
	}
	return granted
}

// RequestPermission starts the platform consent flow and returns at once.
// onResult is invoked exactly once, possibly from another goroutine. When the
// request cannot be dispatched, including while unbound, it is invoked
// synchronously with false.
func (h *Handle) RequestPermission(deviceID int, onResult func(granted bool)) {
	h.guard("request_permission", h.perms.Request(deviceID, onResult))
}

// PermissionState returns the result of the last completed permission
// request for deviceID.
func (h *Handle) PermissionState(deviceID int) (granted, known bool) {
	return h.perms.Last(deviceID)
}

// Connect opens deviceID. A baudRate of zero or less means DefaultBaudRate.
// It returns false without permission, while another device is connected,
// or when the platform rejects the open.
func (h *Handle) Connect(deviceID, baudRate int) bool {
	return h.guard("connect", h.conn.Connect(deviceID, baudRate)) == nil
}

// Disconnect closes the active connection, if any.
func (h *Handle) Disconnect() {
	h.guard("disconnect", h.conn.Disconnect())
}

// IsConnected reports whether a connection is live.
func (h *Handle) IsConnected() bool { return h.conn.IsConnected() }

// ConnectedDeviceID returns the connected device, if any.
func (h *Handle) ConnectedDeviceID() (int, bool) { return h.conn.ConnectedDeviceID() }

// State returns a snapshot of the connection state machine.
func (h *Handle) State() ConnectionState { return h.conn.State() }

// Reconcile checks the handle's view of the connection against the
// platform and reports whether a connection is still live afterwards.
func (h *Handle) Reconcile() bool {
	h.guard("reconcile", h.conn.Reconcile())
	return h.conn.IsConnected()
}

// Write sends p and returns the number of bytes accepted.
func (h *Handle) Write(p []byte) (int, error) {
	n, err := h.data.Write(p)
	return n, h.guard("write", err)
}

// Read returns the buffered inbound bytes, possibly none. It never blocks.
func (h *Handle) Read() []byte {
	data, err := h.data.Read()
	h.guard("read", err)
	return data
}

// Available returns the number of buffered inbound bytes.
func (h *Handle) Available() int {
	n, err := h.data.Available()
	h.guard("available", err)
	return n
}

// SetOnDataReceived replaces the inbound data subscriber. nil unsubscribes.
// The subscriber observes bytes; they remain readable through Read.
func (h *Handle) SetOnDataReceived(fn func(data []byte)) {
	if fn == nil {
		h.data.onData.replace(nil)
		return
	}
	h.data.onData.replace(&fn)
}

// SetOnConnectionStateChanged replaces the connection state subscriber.
func (h *Handle) SetOnConnectionStateChanged(fn func(connected bool, deviceID int)) {
	if fn == nil {
		h.data.onState.replace(nil)
		return
	}
	h.data.onState.replace(&fn)
}

// SetOnBluetoothPinReceived replaces the Bluetooth pairing PIN subscriber.
func (h *Handle) SetOnBluetoothPinReceived(fn func(pin string)) {
	if fn == nil {
		h.data.onPin.replace(nil)
		return
	}
	h.data.onPin.replace(&fn)
}
