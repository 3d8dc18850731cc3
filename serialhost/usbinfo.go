package serialhost

import "hash/fnv"

// usbInfo is what libusb knows about a device beyond the serial enumerator.
type usbInfo struct {
	bus          int
	address      int
	class        int
	manufacturer string
}

type usbKey struct{ vid, pid uint16 }

// usbIndex groups libusb devices by VID/PID so serial ports can be matched
// to them in enumeration order.
type usbIndex map[usbKey][]usbInfo

func (idx usbIndex) add(vid, pid uint16, info usbInfo) {
	k := usbKey{vid, pid}
	idx[k] = append(idx[k], info)
}

// take returns and removes the first unclaimed device with vid/pid.
func (idx usbIndex) take(vid, pid uint16) (usbInfo, bool) {
	k := usbKey{vid, pid}
	list := idx[k]
	if len(list) == 0 {
		return usbInfo{}, false
	}
	idx[k] = list[1:]
	return list[0], true
}

func (idx usbIndex) setManufacturer(bus, address int, name string) {
	for _, list := range idx {
		for i := range list {
			if list[i].bus == bus && list[i].address == address {
				list[i].manufacturer = name
				return
			}
		}
	}
}

// deviceID derives an id that stays fixed while the device is attached.
// Bus and address change on every re-plug, which is exactly the lifetime
// wanted. Without libusb data the port name is hashed instead.
func deviceID(portName string, info usbInfo, ok bool) int {
	if ok {
		return info.bus<<8 | info.address
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(portName))
	return int(h.Sum32() & 0x7fffffff)
}
