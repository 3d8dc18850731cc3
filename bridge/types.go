package bridge

import "strings"

// DefaultBaudRate is the serial speed RNode firmware listens on.
const DefaultBaudRate = 115200

// DriverType is the detected USB-to-serial chipset family.
type DriverType int

const (
	DriverUnknown DriverType = iota
	DriverFTDI
	DriverCP210x
	DriverCH340
	DriverCDCACM
)

// String returns the name used on the platform boundary.
func (d DriverType) String() string {
	switch d {
	case DriverFTDI:
		return "FTDI"
	case DriverCP210x:
		return "CP210x"
	case DriverCH340:
		return "CH340"
	case DriverCDCACM:
		return "CDC-ACM"
	default:
		return "Unknown"
	}
}

// ParseDriverType maps a platform driver name to a DriverType. Names are
// matched case-insensitively; anything unrecognized is DriverUnknown.
func ParseDriverType(s string) DriverType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FTDI":
		return DriverFTDI
	case "CP210X", "CP2102", "CP2104":
		return DriverCP210x
	case "CH340", "CH341", "CH34X":
		return DriverCH340
	case "CDC-ACM", "CDC_ACM", "CDCACM", "CDC":
		return DriverCDCACM
	default:
		return DriverUnknown
	}
}

// DeviceDescriptor is an immutable snapshot of one attached USB-serial device.
// Optional string fields are empty when the platform did not report them.
type DeviceDescriptor struct {
	// DeviceID is stable for the lifetime of the physical attachment.
	DeviceID  int
	VendorID  int
	ProductID int
	// DeviceName is the platform path, e.g. /dev/ttyACM0.
	DeviceName       string
	ManufacturerName string
	ProductName      string
	SerialNumber     string
	DriverType       DriverType
}

// Status is the phase of the connection state machine.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionState is a snapshot of the connection state machine. DeviceID and
// BaudRate are meaningful only while connecting or connected.
type ConnectionState struct {
	Status   Status
	DeviceID int
	BaudRate int
}

var disconnected = ConnectionState{Status: StatusDisconnected}
