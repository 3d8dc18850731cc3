package bridge

// DeviceRegistry enumerates attached USB-serial devices.
type DeviceRegistry struct {
	b *binding
}

// List returns a fresh snapshot of attached devices. On failure it returns an
// empty, non-nil slice together with the error, so "no devices" and
// "enumeration failed" stay distinguishable.
func (r *DeviceRegistry) List() ([]DeviceDescriptor, error) {
	var raw []PlatformDevice
	err := r.b.call("list_devices", func(p Platform) error {
		var err error
		raw, err = p.ConnectedDevices()
		return err
	})
	if err != nil {
		return []DeviceDescriptor{}, err
	}

	out := make([]DeviceDescriptor, 0, len(raw))
	for _, d := range raw {
		out = append(out, DeviceDescriptor{
			DeviceID:         d.DeviceID,
			VendorID:         d.VendorID,
			ProductID:        d.ProductID,
			DeviceName:       d.DeviceName,
			ManufacturerName: d.ManufacturerName,
			ProductName:      d.ProductName,
			SerialNumber:     d.SerialNumber,
			DriverType:       ParseDriverType(d.DriverType),
		})
	}
	return out, nil
}
