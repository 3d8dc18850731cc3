package bridge

import (
	"fmt"
	"log/slog"
)

// DataChannel moves bytes over the active connection and fans inbound
// events out to the registered subscribers.
type DataChannel struct {
	b    *binding
	conn *ConnectionManager
	log  *slog.Logger

	onData  slot[func(data []byte)]
	onState slot[func(connected bool, deviceID int)]
	onPin   slot[func(pin string)]
}

// Write sends p over the active connection and returns the number of bytes
// the platform accepted. With no active connection it returns ErrNotConnected,
// which is distinct from a successful zero-byte write.
func (c *DataChannel) Write(p []byte) (int, error) {
	if !c.b.bound() {
		return 0, newError("write", ErrUnbound, nil)
	}
	if !c.conn.IsConnected() {
		return 0, newError("write", ErrNotConnected, nil)
	}

	var n int
	err := c.b.call("write", func(pl Platform) error {
		var err error
		n, err = pl.Write(p)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, newError("write", ErrTransportFailure, fmt.Errorf("platform returned %d", n))
	}
	return n, nil
}

// Read drains whatever the platform has buffered. It never waits for data.
func (c *DataChannel) Read() ([]byte, error) {
	var data []byte
	err := c.b.call("read", func(p Platform) error {
		var err error
		data, err = p.Read()
		return err
	})
	if err != nil || data == nil {
		return []byte{}, err
	}
	return data, nil
}

// Available reports how many bytes Read would return now.
func (c *DataChannel) Available() (int, error) {
	var n int
	err := c.b.call("available", func(p Platform) error {
		var err error
		n, err = p.Available()
		return err
	})
	if err != nil || n < 0 {
		return 0, err
	}
	return n, nil
}

func (c *DataChannel) dataReceived(data []byte) {
	if fn := c.onData.load(); fn != nil {
		deliver(c.log, "data_received", func() { (*fn)(data) })
	}
}

func (c *DataChannel) stateChanged(connected bool, deviceID int) {
	if fn := c.onState.load(); fn != nil {
		deliver(c.log, "connection_state_changed", func() { (*fn)(connected, deviceID) })
	}
}

func (c *DataChannel) pinReceived(pin string) {
	if fn := c.onPin.load(); fn != nil {
		deliver(c.log, "bluetooth_pin_received", func() { (*fn)(pin) })
	}
}
