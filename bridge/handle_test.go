package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateEvent struct {
	connected bool
	deviceID  int
}

type stateRecorder struct {
	mu     sync.Mutex
	events []stateEvent
}

func (r *stateRecorder) record(connected bool, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stateEvent{connected, id})
}

func (r *stateRecorder) snapshot() []stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stateEvent(nil), r.events...)
}

func boundHandle(t *testing.T) (*Handle, *stubPlatform) {
	t.Helper()
	h := New(testLogger())
	stub := newStub()
	h.Bind(stub)
	require.True(t, h.IsAvailable())
	return h, stub
}

func TestUnboundHandleDegrades(t *testing.T) {
	h := New(testLogger())
	assert.False(t, h.IsAvailable())

	devices, err := h.ListDevices()
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.ErrorIs(t, err, ErrUnbound)

	assert.False(t, h.HasPermission(1))
	assert.False(t, h.Connect(1, 0))
	assert.False(t, h.IsConnected())

	n, err := h.Write([]byte{0xC0})
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrUnbound)

	assert.Equal(t, []byte{}, h.Read())
	assert.Equal(t, 0, h.Available())

	_, ok := h.ConnectedDeviceID()
	assert.False(t, ok)

	h.Disconnect()
	assert.Equal(t, StatusDisconnected, h.State().Status)
	assert.False(t, h.Reconcile())
}

func TestRequestPermissionUnboundIsSynchronousFalse(t *testing.T) {
	h := New(testLogger())

	called := 0
	var got bool
	h.RequestPermission(7, func(granted bool) {
		called++
		got = granted
	})

	assert.Equal(t, 1, called)
	assert.False(t, got)
	_, known := h.PermissionState(7)
	assert.False(t, known)
}

func TestRequestPermissionCompletesExactlyOnce(t *testing.T) {
	h, stub := boundHandle(t)
	stub.perms[3] = false

	results := make(chan bool, 2)
	h.RequestPermission(3, func(granted bool) { results <- granted })
	assert.Empty(t, results, "request must not complete before the user answers")

	stub.grant(3, true)
	stub.grant(3, false)

	assert.True(t, <-results)
	assert.Empty(t, results)

	granted, known := h.PermissionState(3)
	assert.True(t, known)
	assert.True(t, granted, "the late second answer is not recorded")
	assert.False(t, h.HasPermission(3), "the platform itself moved on")
}

func TestRequestPermissionDispatchFailure(t *testing.T) {
	h, stub := boundHandle(t)
	stub.requestErr = errPlatform

	calls := 0
	h.RequestPermission(1, func(granted bool) {
		calls++
		assert.False(t, granted)
	})
	assert.Equal(t, 1, calls)

	_, known := h.PermissionState(1)
	assert.False(t, known)
}

func TestListDevicesMapsDescriptors(t *testing.T) {
	h, _ := boundHandle(t)

	devices, err := h.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, DeviceDescriptor{
		DeviceID:    1,
		VendorID:    0x0403,
		ProductID:   0x6001,
		DeviceName:  "/dev/ttyUSB0",
		ProductName: "RNode",
		DriverType:  DriverFTDI,
	}, devices[0])
	assert.Equal(t, DriverCDCACM, devices[1].DriverType)
	assert.Empty(t, devices[1].SerialNumber)
}

func TestListDevicesFailureIsDistinctFromEmpty(t *testing.T) {
	h, stub := boundHandle(t)

	stub.devices = nil
	devices, err := h.ListDevices()
	require.NoError(t, err)
	assert.Empty(t, devices)

	stub.listErr = errPlatform
	devices, err = h.ListDevices()
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, errPlatform)
}

func TestPlatformPanicsAreContained(t *testing.T) {
	h := New(testLogger())
	h.Bind(&panickyPlatform{newStub()})

	devices, err := h.ListDevices()
	assert.Empty(t, devices)
	assert.ErrorIs(t, err, ErrTransportFailure)

	assert.False(t, h.HasPermission(1))
	assert.False(t, h.Connect(1, 0))

	calls := 0
	h.RequestPermission(1, func(granted bool) {
		calls++
		assert.False(t, granted)
	})
	assert.Equal(t, 1, calls)
}

func TestConnectRequiresPermission(t *testing.T) {
	h, stub := boundHandle(t)
	stub.perms[1] = false

	assert.False(t, h.Connect(1, 0))
	assert.Equal(t, StatusDisconnected, h.State().Status)

	connects, _ := stub.calls()
	assert.Zero(t, connects)

	err := h.conn.Connect(1, 0)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestConnectIsIdempotent(t *testing.T) {
	h, stub := boundHandle(t)

	require.True(t, h.Connect(1, 0))
	first := h.State()
	assert.Equal(t, ConnectionState{Status: StatusConnected, DeviceID: 1, BaudRate: DefaultBaudRate}, first)

	assert.True(t, h.Connect(1, 0))
	assert.Equal(t, first, h.State())

	connects, _ := stub.calls()
	assert.Equal(t, 1, connects)
}

func TestConnectRacingCallsOpenOnce(t *testing.T) {
	h, stub := boundHandle(t)
	stub.connectGate = make(chan struct{})

	const callers = 8
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.Connect(1, 9600)
		}()
	}

	require.Eventually(t, func() bool {
		return h.State().Status == StatusConnecting
	}, time.Second, time.Millisecond)
	close(stub.connectGate)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	connects, _ := stub.calls()
	assert.Equal(t, 1, connects)
	assert.Equal(t, ConnectionState{Status: StatusConnected, DeviceID: 1, BaudRate: 9600}, h.State())
}

func TestConnectSecondDeviceIsBusy(t *testing.T) {
	h, _ := boundHandle(t)

	require.True(t, h.Connect(1, 0))
	assert.False(t, h.Connect(2, 0))
	assert.ErrorIs(t, h.conn.Connect(2, 0), ErrDeviceBusy)

	id, ok := h.ConnectedDeviceID()
	assert.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestConnectPlatformRejection(t *testing.T) {
	h, stub := boundHandle(t)

	stub.connectOK = false
	assert.False(t, h.Connect(1, 0))
	assert.Equal(t, StatusDisconnected, h.State().Status)

	stub.connectOK = true
	stub.connectErr = errPlatform
	err := h.conn.Connect(1, 0)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.ErrorIs(t, err, errPlatform)
}

func TestDisconnectIsAlwaysSafe(t *testing.T) {
	h, stub := boundHandle(t)
	rec := &stateRecorder{}
	h.SetOnConnectionStateChanged(rec.record)

	h.Disconnect()
	assert.False(t, h.IsConnected())
	assert.Empty(t, rec.snapshot())

	require.True(t, h.Connect(2, 0))
	h.Disconnect()
	h.Disconnect()

	assert.False(t, h.IsConnected())
	_, ok := h.ConnectedDeviceID()
	assert.False(t, ok)
	assert.Equal(t, []stateEvent{{true, 2}, {false, 2}}, rec.snapshot())

	_, disconnects := stub.calls()
	assert.Equal(t, 3, disconnects)
}

func TestDisconnectDuringConnectAbortsIt(t *testing.T) {
	h, stub := boundHandle(t)
	stub.connectGate = make(chan struct{})

	result := make(chan error, 1)
	go func() { result <- h.conn.Connect(1, 0) }()
	require.Eventually(t, func() bool {
		return h.State().Status == StatusConnecting
	}, time.Second, time.Millisecond)

	h.Disconnect()
	close(stub.connectGate)

	err := <-result
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.False(t, h.IsConnected())
	connected, _ := stub.IsConnected()
	assert.False(t, connected)
}

func TestTransportLossFromPlatform(t *testing.T) {
	h, stub := boundHandle(t)
	rec := &stateRecorder{}
	h.SetOnConnectionStateChanged(rec.record)

	require.True(t, h.Connect(1, 0))
	stub.dropLink()

	assert.False(t, h.IsConnected())
	assert.Equal(t, []stateEvent{{true, 1}, {false, 1}}, rec.snapshot())

	// A late duplicate loss signal is not a new transition.
	stub.dropLink()
	assert.Len(t, rec.snapshot(), 2)
}

func TestTransportLossDuringConnect(t *testing.T) {
	h, stub := boundHandle(t)
	stub.dropOnOpen = true
	rec := &stateRecorder{}
	h.SetOnConnectionStateChanged(rec.record)

	err := h.conn.Connect(1, 0)
	assert.ErrorIs(t, err, ErrTransportFailure)

	live, _ := stub.IsConnected()
	assert.False(t, live)
	assert.Equal(t, live, h.IsConnected())
	assert.Equal(t, StatusDisconnected, h.State().Status)
	assert.Empty(t, rec.snapshot(), "a connection that never came up is not announced")

	// The next attempt really opens again instead of taking the idempotent path.
	stub.mu.Lock()
	stub.dropOnOpen = false
	stub.mu.Unlock()
	require.True(t, h.Connect(1, 0))
	assert.Equal(t, 2, stub.connectCalls)
	live, _ = stub.IsConnected()
	assert.True(t, live)
}

func TestReconcileDetectsSilentLoss(t *testing.T) {
	h, stub := boundHandle(t)
	require.True(t, h.Connect(1, 0))
	assert.True(t, h.Reconcile())

	stub.mu.Lock()
	stub.connected = false
	stub.mu.Unlock()

	assert.False(t, h.Reconcile())
	assert.False(t, h.IsConnected())
}

func TestWriteWithoutConnection(t *testing.T) {
	h, _ := boundHandle(t)

	n, err := h.Write([]byte("hello"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.True(t, h.Connect(1, 0))
	n, err = h.Write(nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWritePanicBecomesTransportFailure(t *testing.T) {
	h, stub := boundHandle(t)
	require.True(t, h.Connect(1, 0))
	stub.writePanic = true

	n, err := h.Write([]byte{1, 2, 3})
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.True(t, h.IsConnected())
}

func TestEchoingTransportIsPassedThrough(t *testing.T) {
	h, stub := boundHandle(t)
	stub.echo = true
	stub.writeLimit = 4
	require.True(t, h.Connect(1, 0))

	n, err := h.Write([]byte{0xC0, 0x00, 0x01, 0x02, 0xC0})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Available and Read reflect the stub's buffer exactly; the bridge adds
	// no bytes of its own.
	assert.Equal(t, 4, h.Available())
	assert.Equal(t, []byte{0xC0, 0x00, 0x01, 0x02}, h.Read())
	assert.Equal(t, 0, h.Available())
	assert.Equal(t, []byte{}, h.Read())
}

func TestDataCallbackDoesNotDrainBuffer(t *testing.T) {
	h, stub := boundHandle(t)
	stub.echo = true
	require.True(t, h.Connect(1, 0))

	var mu sync.Mutex
	var seen []byte
	h.SetOnDataReceived(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, data...)
	})

	_, err := h.Write([]byte("ping"))
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []byte("ping"), seen)
	mu.Unlock()
	assert.Equal(t, []byte("ping"), h.Read())
}

func TestCallbackReplacement(t *testing.T) {
	h, stub := boundHandle(t)
	stub.echo = true
	require.True(t, h.Connect(1, 0))

	var first, second int
	h.SetOnDataReceived(func([]byte) { first++ })
	_, _ = h.Write([]byte{1})
	h.SetOnDataReceived(func([]byte) { second++ })
	_, _ = h.Write([]byte{2})
	h.SetOnDataReceived(nil)
	_, _ = h.Write([]byte{3})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestCallbackSwapDuringDelivery(t *testing.T) {
	h, stub := boundHandle(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				stub.onData([]byte{0x42})
			}
		}
	}()

	for i := 0; i < 200; i++ {
		h.SetOnDataReceived(func(data []byte) {
			if len(data) != 1 || data[0] != 0x42 {
				t.Errorf("unexpected delivery %x", data)
			}
		})
		h.SetOnDataReceived(nil)
	}
	close(stop)
	wg.Wait()
}

func TestSubscriberPanicIsContained(t *testing.T) {
	h, stub := boundHandle(t)
	h.SetOnBluetoothPinReceived(func(string) { panic("ui gone") })

	assert.NotPanics(t, func() { stub.onPin("123456") })
}

func TestBluetoothPinDelivery(t *testing.T) {
	h, stub := boundHandle(t)

	var pins []string
	h.SetOnBluetoothPinReceived(func(pin string) { pins = append(pins, pin) })
	stub.onPin("004217")

	assert.Equal(t, []string{"004217"}, pins)
}

func TestSubscribersSurviveRebind(t *testing.T) {
	h := New(testLogger())
	var pins []string
	h.SetOnBluetoothPinReceived(func(pin string) { pins = append(pins, pin) })

	stub := newStub()
	h.Bind(stub)
	stub.onPin("111111")
	assert.Equal(t, []string{"111111"}, pins)
}

func TestRebindResetsConnectionAndIgnoresStalePlatform(t *testing.T) {
	h, old := boundHandle(t)
	rec := &stateRecorder{}
	h.SetOnConnectionStateChanged(rec.record)
	var data [][]byte
	h.SetOnDataReceived(func(b []byte) { data = append(data, b) })

	require.True(t, h.Connect(1, 0))

	fresh := newStub()
	h.Bind(fresh)
	assert.False(t, h.IsConnected())
	assert.Equal(t, []stateEvent{{true, 1}, {false, 1}}, rec.snapshot())

	old.onData([]byte("stale"))
	assert.Empty(t, data)

	fresh.onData([]byte("fresh"))
	assert.Equal(t, [][]byte{[]byte("fresh")}, data)

	require.True(t, h.Connect(2, 0))
	connects, _ := fresh.calls()
	assert.Equal(t, 1, connects)
}

func TestUnbind(t *testing.T) {
	h, _ := boundHandle(t)
	require.True(t, h.Connect(1, 0))

	h.Unbind()
	assert.False(t, h.IsAvailable())
	assert.False(t, h.IsConnected())
	assert.False(t, h.HasPermission(1))

	h.Bind(nil)
	assert.False(t, h.IsAvailable())
}

func TestErrorFormatting(t *testing.T) {
	err := newError("write", ErrNotConnected, nil)
	assert.Equal(t, "bridge: write: not connected", err.Error())

	err = newError("connect", ErrTransportFailure, errPlatform)
	assert.Equal(t, "bridge: connect: transport failure: usb service unavailable", err.Error())
	assert.True(t, errors.Is(err, errPlatform))
	assert.False(t, errors.Is(err, ErrNotConnected))
}
