package bridge

// PlatformDevice is a device as reported by the platform layer.
type PlatformDevice struct {
	DeviceID         int
	VendorID         int
	ProductID        int
	DeviceName       string
	ManufacturerName string
	ProductName      string
	SerialNumber     string
	DriverType       string
}

// Platform is the privileged host layer that owns the USB driver stack.
//
// Implementations may invoke the registered callbacks from their own
// goroutines, concurrently with calls into the Platform. RequestPermission
// must return without waiting for the user and call onResult later.
type Platform interface {
	ConnectedDevices() ([]PlatformDevice, error)

	HasPermission(deviceID int) (bool, error)
	RequestPermission(deviceID int, onResult func(granted bool)) error

	Connect(deviceID, baudRate int) (bool, error)
	Disconnect() error
	IsConnected() (bool, error)
	ConnectedDeviceID() (int, bool, error)

	Write(p []byte) (int, error)
	Read() ([]byte, error)
	Available() (int, error)

	SetOnDataReceived(fn func(data []byte)) error
	SetOnConnectionStateChanged(fn func(connected bool, deviceID int)) error
	SetOnBluetoothPinReceived(fn func(pin string)) error
}
