package serialhost

import (
	"path/filepath"
	"strings"

	"github.com/Thiagojm/rnode_usb_bridge/bridge"
)

// USB vendor ids of the serial bridge chips RNode boards ship with.
const (
	vendorFTDI      = 0x0403 // FTDI FT232/FT2232
	vendorSiLabs    = 0x10C4 // Silicon Labs CP210x
	vendorWCH       = 0x1A86 // WCH CH340/CH341
	vendorEspressif = 0x303A // ESP32-S2/S3 native USB, enumerates as CDC-ACM
)

// usbClassComm is the USB communications device class (CDC).
const usbClassComm = 0x02

// detectDriver guesses the chipset family from the vendor id, the USB class
// reported by libusb, and finally the kernel's device name.
func detectDriver(vid uint16, class int, path string) bridge.DriverType {
	switch vid {
	case vendorFTDI:
		return bridge.DriverFTDI
	case vendorSiLabs:
		return bridge.DriverCP210x
	case vendorWCH:
		return bridge.DriverCH340
	case vendorEspressif:
		return bridge.DriverCDCACM
	}
	if class == usbClassComm {
		return bridge.DriverCDCACM
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, "ttyACM") || strings.HasPrefix(base, "cu.usbmodem") {
		return bridge.DriverCDCACM
	}
	return bridge.DriverUnknown
}
