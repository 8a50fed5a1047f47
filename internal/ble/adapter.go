// Package ble implements the onboarding protocol for MeDUSA tremor sensors:
// device discovery, connection management, platform-mediated pairing, and
// Wi-Fi credential provisioning over a custom GATT service.
package ble

import "context"

// MeDUSA provisioning GATT UUIDs.
const (
	ServiceUUID     = "c0de0000-7e1a-4f83-bf3a-0c0ffee0c0de"
	SSIDCharUUID    = "c0de0001-7e1a-4f83-bf3a-0c0ffee0c0de"
	PSKCharUUID     = "c0de0002-7e1a-4f83-bf3a-0c0ffee0c0de"
	ControlCharUUID = "c0de0003-7e1a-4f83-bf3a-0c0ffee0c0de"
	StatusCharUUID  = "c0de0004-7e1a-4f83-bf3a-0c0ffee0c0de"
)

// Control bytes accepted by the CONTROL characteristic.
const (
	ControlConnect      byte = 0x01
	ControlClear        byte = 0x02
	ControlFactoryReset byte = 0x03
)

// DefaultNameFilter matches the advertised name of MeDUSA sensors. The
// match is a case-insensitive substring test.
const DefaultNameFilter = "medusa"

// Device represents a discovered BLE peripheral. Address is the platform
// identifier: a MAC address on Linux/Windows, a CoreBluetooth UUID on macOS.
type Device struct {
	Address string
	Name    string
	RSSI    int
}

// Characteristic represents a cached GATT characteristic handle.
type Characteristic interface {
	// Write sends data using write-with-response; an error means the
	// peripheral did not acknowledge the write.
	Write(data []byte) error
	// Read performs a single read of the characteristic value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Connection represents an active link to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE radio for testing.
type Adapter interface {
	// Enable powers on the radio.
	Enable() error
	// Scan streams discovered peripherals to callback until ctx is cancelled
	// or StopScan is called. Results are raw: unfiltered and possibly
	// repeated. The callback is invoked sequentially.
	Scan(ctx context.Context, callback func(Device)) error
	// StopScan ends an in-progress scan.
	StopScan() error
	// Connect establishes a connection to the peripheral at address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Bonder abstracts the platform bonding subsystem. The pairing ceremony
// itself (key exchange, link encryption) is owned by the platform; this
// interface only drives and observes it.
type Bonder interface {
	// HasBondQuery reports whether IsBonded gives a real answer. Platforms
	// without a bonding query fall back to the connected-as-paired proxy.
	HasBondQuery() bool
	// IsBonded queries the platform bond table for address. Only meaningful
	// when HasBondQuery is true.
	IsBonded(address string) (bool, error)
	// IsConnected reports link state for address; used as an approximate
	// pairing probe where HasBondQuery is false.
	IsConnected(address string) bool
	// Bond initiates platform bonding with address and blocks until the
	// handshake concludes. A PIN requested by the platform mid-handshake
	// arrives via the OnPinRequest handler and must be fed back with
	// SubmitPin before the platform's own authentication window closes.
	Bond(ctx context.Context, address string, requireAuthenticatedEncryption bool) error
	// SubmitPin feeds a PIN into the in-flight bond for address.
	SubmitPin(address, pin string) error
	// CancelBond rejects the in-flight bond for address.
	CancelBond(address string) error
	// OnPinRequest registers the handler invoked when the platform requests
	// authentication material during a bond.
	OnPinRequest(handler func(address string))
	// Unbond removes the platform bond. Platforms without programmatic
	// unpair must return ErrPlatformUnsupported, never false success.
	Unbond(address string) error
}
