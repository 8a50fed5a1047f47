package ble

import (
	"errors"
	"fmt"
)

// Protocol-level failures are returned unchanged to the caller; nothing in
// this package retries on its own.
var (
	ErrRadioUnavailable    = errors.New("ble: radio unavailable")
	ErrConnectionFailed    = errors.New("ble: connection failed")
	ErrConnectionLost      = errors.New("ble: connection lost")
	ErrPairingCancelled    = errors.New("ble: pairing cancelled by user")
	ErrServiceNotFound     = errors.New("ble: provisioning service not found")
	ErrProvisioningTimeout = errors.New("ble: provisioning timed out")
	ErrPlatformUnsupported = errors.New("ble: operation not supported by platform")
	ErrNotConnected        = errors.New("ble: not connected")
	ErrNotPaired           = errors.New("ble: device not paired")
	ErrScanInProgress      = errors.New("ble: scan already in progress")
)

// WriteError reports a failed write-with-response to one of the
// provisioning characteristics. Characteristic is the wire name
// ("SSID", "PSK", "CONTROL"), never the payload.
type WriteError struct {
	Characteristic string
	Err            error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ble: write to %s characteristic failed: %v", e.Characteristic, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PairingError reports a platform-level bonding handshake failure. User
// cancellation is not a PairingError; it surfaces as ErrPairingCancelled.
type PairingError struct {
	Address string
	Err     error
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("ble: pairing with %s failed: %v", e.Address, e.Err)
}

func (e *PairingError) Unwrap() error { return e.Err }

// ProvisioningError reports a terminal failure code observed on the STATUS
// characteristic.
type ProvisioningError struct {
	Code  StatusCode
	Label string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("ble: provisioning failed: %s (0x%02X)", e.Label, byte(e.Code))
}
