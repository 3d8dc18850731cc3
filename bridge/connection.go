package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	errAborted  = errors.New("connection aborted by disconnect")
	errLinkLost = errors.New("link lost while connecting")
)

// attempt is one in-flight connect. Callers racing on the same device wait
// on done and share err.
type attempt struct {
	deviceID int
	baudRate int
	done     chan struct{}
	err      error

	// lost is set under mu when the platform reports the device gone
	// before the open returned.
	lost bool
}

func (a *attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// ConnectionManager owns the single active connection.
//
// Transitions are serialized by mu. The platform open runs outside mu with
// the state parked in StatusConnecting, so platform-driven events arriving
// during the open can still take mu. Queries read an atomic snapshot.
type ConnectionManager struct {
	b     *binding
	perms *PermissionManager
	log   *slog.Logger

	mu      sync.Mutex
	pending *attempt
	state   atomic.Pointer[ConnectionState]

	// notify receives every transition this manager recognizes.
	notify func(connected bool, deviceID int)
}

func newConnectionManager(b *binding, perms *PermissionManager, log *slog.Logger) *ConnectionManager {
	m := &ConnectionManager{b: b, perms: perms, log: log}
	m.state.Store(&disconnected)
	return m
}

// State returns the current snapshot.
func (m *ConnectionManager) State() ConnectionState { return *m.state.Load() }

// IsConnected reports whether a connection is live.
func (m *ConnectionManager) IsConnected() bool {
	return m.State().Status == StatusConnected
}

// ConnectedDeviceID returns the connected device, if any.
func (m *ConnectionManager) ConnectedDeviceID() (int, bool) {
	st := m.State()
	if st.Status != StatusConnected {
		return 0, false
	}
	return st.DeviceID, true
}

// setState must be called with mu held.
func (m *ConnectionManager) setState(st ConnectionState) {
	m.state.Store(&st)
}

func (m *ConnectionManager) emit(connected bool, deviceID int) {
	if m.notify != nil {
		m.notify(connected, deviceID)
	}
}

// Connect opens deviceID at baudRate. A call for the device that is already
// connected, or already being connected, succeeds without opening twice.
func (m *ConnectionManager) Connect(deviceID, baudRate int) error {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if !m.b.bound() {
		return newError("connect", ErrUnbound, nil)
	}

	m.mu.Lock()
	st := m.State()
	switch st.Status {
	case StatusConnected:
		m.mu.Unlock()
		if st.DeviceID == deviceID {
			return nil
		}
		return newError("connect", ErrDeviceBusy, fmt.Errorf("connected to device %d", st.DeviceID))
	case StatusConnecting:
		a := m.pending
		m.mu.Unlock()
		if a.deviceID != deviceID {
			return newError("connect", ErrDeviceBusy, fmt.Errorf("connecting to device %d", a.deviceID))
		}
		<-a.done
		return a.err
	}

	a := &attempt{deviceID: deviceID, baudRate: baudRate, done: make(chan struct{})}
	m.pending = a
	m.setState(ConnectionState{Status: StatusConnecting, DeviceID: deviceID, BaudRate: baudRate})
	m.mu.Unlock()

	err := m.open(a)

	m.mu.Lock()
	if m.pending != a {
		// Disconnect or a rebind reset the state while the open was running.
		m.mu.Unlock()
		if err == nil {
			_ = m.release("connect")
		}
		err = newError("connect", ErrTransportFailure, errAborted)
		a.finish(err)
		return err
	}
	m.pending = nil
	lost := err == nil && a.lost
	if lost {
		err = newError("connect", ErrTransportFailure, errLinkLost)
	}
	if err != nil {
		m.setState(disconnected)
	} else {
		m.setState(ConnectionState{Status: StatusConnected, DeviceID: deviceID, BaudRate: baudRate})
	}
	m.mu.Unlock()

	if lost {
		m.log.Warn("transport lost during connect", "device_id", deviceID)
		_ = m.release("connect")
	}
	a.finish(err)
	if err != nil {
		return err
	}
	m.log.Info("connected", "device_id", deviceID, "baud_rate", baudRate)
	m.emit(true, deviceID)
	return nil
}

func (m *ConnectionManager) open(a *attempt) error {
	granted, err := m.perms.Has(a.deviceID)
	if err != nil {
		return err
	}
	if !granted {
		return newError("connect", ErrPermissionDenied, fmt.Errorf("device %d", a.deviceID))
	}

	var ok bool
	err = m.b.call("connect", func(p Platform) error {
		var err error
		ok, err = p.Connect(a.deviceID, a.baudRate)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return newError("connect", ErrTransportFailure, fmt.Errorf("platform rejected open of device %d", a.deviceID))
	}
	return nil
}

func (m *ConnectionManager) release(op string) error {
	return m.b.call(op, func(p Platform) error { return p.Disconnect() })
}

// Disconnect moves to StatusDisconnected and releases the transport. It is
// safe in any state.
func (m *ConnectionManager) Disconnect() error {
	m.mu.Lock()
	st := m.State()
	m.pending = nil
	m.setState(disconnected)
	m.mu.Unlock()

	err := m.release("disconnect")
	if st.Status == StatusConnected {
		m.log.Info("disconnected", "device_id", st.DeviceID)
		m.emit(false, st.DeviceID)
	}
	return err
}

// platformStateChanged handles transitions signalled by the platform. Only
// loss of the current or pending connection is acted on; successful opens
// are recognized by Connect itself. A loss during the open is left for
// Connect to apply once the open returns.
func (m *ConnectionManager) platformStateChanged(connected bool, deviceID int) {
	if connected {
		return
	}
	m.mu.Lock()
	st := m.State()
	if st.Status == StatusConnecting && m.pending != nil && m.pending.deviceID == deviceID {
		m.pending.lost = true
		m.mu.Unlock()
		return
	}
	if st.Status != StatusConnected || st.DeviceID != deviceID {
		m.mu.Unlock()
		return
	}
	m.setState(disconnected)
	m.mu.Unlock()

	m.log.Warn("transport lost", "device_id", deviceID)
	m.emit(false, deviceID)
}

// reset drops all connection state without touching the platform. Used when
// the platform binding changes underneath us.
func (m *ConnectionManager) reset() {
	m.mu.Lock()
	st := m.State()
	m.pending = nil
	m.setState(disconnected)
	m.mu.Unlock()

	if st.Status == StatusConnected {
		m.emit(false, st.DeviceID)
	}
}

// Reconcile asks the platform whether the connection the manager believes
// is live still exists, and treats a mismatch as transport loss.
func (m *ConnectionManager) Reconcile() error {
	st := m.State()
	if st.Status != StatusConnected {
		return nil
	}

	var (
		live   bool
		liveID int
		has    bool
	)
	err := m.b.call("reconcile", func(p Platform) error {
		var err error
		if live, err = p.IsConnected(); err != nil || !live {
			return err
		}
		liveID, has, err = p.ConnectedDeviceID()
		return err
	})
	if err != nil {
		return err
	}
	if !live || !has || liveID != st.DeviceID {
		m.platformStateChanged(false, st.DeviceID)
	}
	return nil
}
