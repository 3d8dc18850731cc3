// rnodebridge drives an RNode over USB serial through the bridge handle.
// It lists devices, negotiates access, connects, streams inbound bytes as
// hex and can send a hex payload.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/Thiagojm/rnode_usb_bridge/bridge"
	"github.com/Thiagojm/rnode_usb_bridge/config"
	"github.com/Thiagojm/rnode_usb_bridge/logging"
	"github.com/Thiagojm/rnode_usb_bridge/serialhost"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns instead of exiting so deferred cleanup (port, log file)
// always happens.
func run(args []string) int {
	fs := flag.NewFlagSet("rnodebridge", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "path to config file")
	list := fs.Bool("list", false, "list attached USB serial devices and exit")
	deviceID := fs.Int("device", 0, "device id to connect to (0 picks the first recognised device)")
	baud := fs.Int("baud", 0, "baud rate (0 uses serial.baud_rate from the config)")
	request := fs.Bool("request", false, "request access if the port is not yet accessible")
	send := fs.String("send", "", "hex payload to write after connecting")
	reconcile := fs.Duration("reconcile", 5*time.Second, "interval for re-checking the link with the host (0 disables)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	payload, err := hex.DecodeString(*send)
	if err != nil {
		log.Printf("bad -send payload: %v", err)
		return exitUsage
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Printf("config error: %v", err)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("invalid config: %v", err)
		return exitUsage
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		log.Printf("logging error: %v", err)
		return exitUsage
	}
	defer closer.Close()

	host := serialhost.New(serialhost.Options{
		ReadTimeout:       cfg.Serial.ReadTimeout,
		BufferSize:        cfg.Serial.BufferSize,
		PermissionTimeout: cfg.Serial.PermissionTimeout,
		PermissionPoll:    cfg.Serial.PermissionPoll,
		DTR:               cfg.Serial.DTR,
		Logger:            logger,
	})
	h := bridge.New(logger)
	h.Bind(host)
	defer h.Unbind()

	devices, err := h.ListDevices()
	if err != nil {
		log.Printf("list devices error: %v", err)
		return exitError
	}
	if *list {
		printDevices(devices)
		return exitOK
	}

	dev, ok := pickDevice(devices, *deviceID)
	if !ok {
		if *deviceID != 0 {
			log.Printf("device %d not found; run with -list", *deviceID)
		} else {
			log.Printf("no USB serial device found")
		}
		return exitError
	}
	fmt.Printf("Using %s on %s (id %d, %s)\n", describe(dev), dev.DeviceName, dev.DeviceID, dev.DriverType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !h.HasPermission(dev.DeviceID) {
		if !*request {
			log.Printf("no access to %s; rerun with -request or fix the port permissions", dev.DeviceName)
			return exitError
		}
		if !awaitPermission(ctx, h, dev.DeviceID) {
			log.Printf("access to %s was not granted", dev.DeviceName)
			return exitError
		}
	}

	h.SetOnDataReceived(func(data []byte) {
		fmt.Printf("%s  rx %3d  %s\n", time.Now().Format(time.RFC3339), len(data), hex.EncodeToString(data))
	})
	h.SetOnBluetoothPinReceived(func(pin string) {
		fmt.Printf("%s  bluetooth pairing PIN: %s\n", time.Now().Format(time.RFC3339), pin)
	})
	lost := make(chan struct{}, 1)
	h.SetOnConnectionStateChanged(func(connected bool, id int) {
		if !connected && id == dev.DeviceID {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	rate := *baud
	if rate <= 0 {
		rate = cfg.Serial.BaudRate
	}
	if !h.Connect(dev.DeviceID, rate) {
		log.Printf("connect to %s failed", dev.DeviceName)
		return exitError
	}
	defer h.Disconnect()
	st := h.State()
	fmt.Printf("connected at %d baud\n", st.BaudRate)

	if len(payload) > 0 {
		n, err := h.Write(payload)
		if err != nil {
			log.Printf("write error: %v", err)
			return exitError
		}
		fmt.Printf("%s  tx %3d  %s\n", time.Now().Format(time.RFC3339), n, hex.EncodeToString(payload[:n]))
	}

	log.Printf("streaming from %s. press Ctrl+C to stop...", dev.DeviceName)
	var tick <-chan time.Time
	if *reconcile > 0 {
		t := time.NewTicker(*reconcile)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("%d bytes left unread\n", h.Available())
			return exitOK
		case <-lost:
			log.Printf("device %s disconnected", dev.DeviceName)
			return exitError
		case <-tick:
			if !h.Reconcile() {
				log.Printf("device %s no longer connected", dev.DeviceName)
				return exitError
			}
			// Drain so the host buffer does not fill; bytes were already
			// printed by the data callback.
			_ = h.Read()
		}
	}
}

// awaitPermission issues a permission request and waits for its result.
func awaitPermission(ctx context.Context, h *bridge.Handle, deviceID int) bool {
	result := make(chan bool, 1)
	h.RequestPermission(deviceID, func(granted bool) { result <- granted })
	log.Printf("waiting for access to device %d...", deviceID)
	select {
	case granted := <-result:
		return granted
	case <-ctx.Done():
		return false
	}
}

// pickDevice returns the device with the given id, or for id 0 the first
// device with a recognised driver, falling back to the first device.
func pickDevice(devices []bridge.DeviceDescriptor, id int) (bridge.DeviceDescriptor, bool) {
	if id != 0 {
		for _, d := range devices {
			if d.DeviceID == id {
				return d, true
			}
		}
		return bridge.DeviceDescriptor{}, false
	}
	for _, d := range devices {
		if d.DriverType != bridge.DriverUnknown {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return bridge.DeviceDescriptor{}, false
}

func describe(d bridge.DeviceDescriptor) string {
	switch {
	case d.ManufacturerName != "" && d.ProductName != "":
		return d.ManufacturerName + " " + d.ProductName
	case d.ProductName != "":
		return d.ProductName
	default:
		return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
	}
}

func printDevices(devices []bridge.DeviceDescriptor) {
	if len(devices) == 0 {
		fmt.Println("No USB serial devices found")
		return
	}
	fmt.Printf("Found %d USB serial device(s):\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  %d. id=%-8d %04x:%04x  %-8s %-16s %s", i+1, d.DeviceID, d.VendorID, d.ProductID,
			d.DriverType, d.DeviceName, describe(d))
		if d.SerialNumber != "" {
			fmt.Printf("  serial %s", d.SerialNumber)
		}
		fmt.Println()
	}
}
