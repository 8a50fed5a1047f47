package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// HardwareAdapter drives the host radio through tinygo-org/bluetooth. On
// macOS, device addresses are CoreBluetooth UUIDs rather than MAC
// addresses; Address fields carry whichever form the platform uses.
type HardwareAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*hardwareConnection // keyed by device address
}

// NewHardwareAdapter creates an adapter on the default host radio.
func NewHardwareAdapter() *HardwareAdapter {
	return &HardwareAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*hardwareConnection),
	}
}

func (a *HardwareAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Fan adapter-level disconnect events out to the affected connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		address := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[address]
		delete(a.connections, address)
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

func (a *HardwareAdapter) Scan(ctx context.Context, callback func(Device)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		callback(Device{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *HardwareAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *HardwareAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// Wrap it so we also respect ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed on its
		// own; we can't cancel it from here.
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &hardwareConnection{device: result.device}
		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

// Compile-time check that HardwareAdapter implements Adapter.
var _ Adapter = (*HardwareAdapter)(nil)

type hardwareConnection struct {
	device       bluetooth.Device
	disconnectCb func()
}

func (c *hardwareConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &hardwareCharacteristic{char: chars[0]}, nil
}

func (c *hardwareConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *hardwareConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type hardwareCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

// Write uses the acknowledged GATT write so failures are observable.
func (c *hardwareCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}

func (c *hardwareCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, 64)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *hardwareCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

// HardwareBonder observes bonding through the host stack. tinygo/bluetooth
// exposes no bonding query, initiation, or removal, so this bonder runs the
// connected-as-paired heuristic: the stack bonds on its own when the sensor
// demands an encrypted link, and an established connection is the closest
// observable proxy for that having happened.
type HardwareBonder struct {
	adapter *HardwareAdapter

	mu         sync.Mutex
	pinHandler func(address string)
}

// NewHardwareBonder creates a bonder sharing the adapter's connection view.
func NewHardwareBonder(adapter *HardwareAdapter) *HardwareBonder {
	return &HardwareBonder{adapter: adapter}
}

func (b *HardwareBonder) HasBondQuery() bool { return false }

func (b *HardwareBonder) IsBonded(string) (bool, error) {
	return false, ErrPlatformUnsupported
}

func (b *HardwareBonder) IsConnected(address string) bool {
	b.adapter.mu.Lock()
	defer b.adapter.mu.Unlock()
	_, ok := b.adapter.connections[address]
	return ok
}

// Bond has nothing to initiate on this stack: pairing starts when the
// peripheral demands security on an established link. An existing
// connection therefore satisfies the call; anything else cannot bond.
func (b *HardwareBonder) Bond(_ context.Context, address string, _ bool) error {
	if b.IsConnected(address) {
		return nil
	}
	return ErrNotConnected
}

func (b *HardwareBonder) SubmitPin(string, string) error {
	return ErrPlatformUnsupported
}

func (b *HardwareBonder) CancelBond(string) error {
	return ErrPlatformUnsupported
}

// OnPinRequest stores the handler. The host stack surfaces its PIN dialogs
// itself, so the handler never fires on this platform.
func (b *HardwareBonder) OnPinRequest(handler func(address string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinHandler = handler
}

func (b *HardwareBonder) Unbond(string) error {
	return ErrPlatformUnsupported
}

// Compile-time check that HardwareBonder implements Bonder.
var _ Bonder = (*HardwareBonder)(nil)
