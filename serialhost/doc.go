// Package serialhost is a platform layer for bridge.Handle on desktop and
// embedded hosts. It finds USB serial adapters through go.bug.st/serial's
// enumerator, enriches them with libusb data on Linux, and runs RNode
// sessions over go.bug.st/serial.
//
// Features:
//   - Driver family detection for FTDI, CP210x, CH340 and CDC-ACM adapters
//   - Stable device ids from USB bus/address where libusb is available
//   - Access probing instead of a consent dialog; permission requests wait
//     for access to appear (udev rule, group membership) up to a timeout
//   - A background reader feeding a bounded buffer and the data callback
//   - Bluetooth pairing PIN frames picked out of the inbound stream
package serialhost
