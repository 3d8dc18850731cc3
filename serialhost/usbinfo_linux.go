//go:build linux

package serialhost

import (
	"log/slog"

	"github.com/google/gousb"

	"github.com/Thiagojm/rnode_usb_bridge/bridge"
)

// lookupUSB lists USB devices through libusb. Serial candidates are opened
// briefly to read their manufacturer string; devices we lack access to keep
// an empty one.
func lookupUSB(log *slog.Logger) (idx usbIndex) {
	idx = usbIndex{}
	defer func() {
		if r := recover(); r != nil {
			log.Debug("libusb unavailable, using serial enumeration only", "err", r)
		}
	}()

	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		class := classOf(desc)
		idx.add(uint16(desc.Vendor), uint16(desc.Product), usbInfo{
			bus:     desc.Bus,
			address: desc.Address,
			class:   class,
		})
		return detectDriver(uint16(desc.Vendor), class, "") != bridge.DriverUnknown
	})
	if err != nil {
		log.Debug("some usb devices could not be opened", "err", err)
	}
	for _, d := range devs {
		if name, err := d.Manufacturer(); err == nil {
			idx.setManufacturer(d.Desc.Bus, d.Desc.Address, name)
		}
		_ = d.Close()
	}
	return idx
}

// classOf returns the CDC class if the device or any of its interfaces
// declares it, otherwise the device class.
func classOf(desc *gousb.DeviceDesc) int {
	if desc.Class == gousb.ClassComm {
		return usbClassComm
	}
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassComm {
					return usbClassComm
				}
			}
		}
	}
	return int(desc.Class)
}
