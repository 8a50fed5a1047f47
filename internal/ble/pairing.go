package ble

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// PinProvider supplies the PIN shown out-of-band on the sensor's display.
// Returning ok=false signals that the user cancelled pairing. The provider
// is invoked at most once per pairing attempt.
type PinProvider func(ctx context.Context, device Device) (pin string, ok bool)

// PairingRecord tracks bonding state for one sensor. Records survive
// disconnects; PinPending is set only while a PIN request is in flight.
type PairingRecord struct {
	Address    string
	Paired     bool
	PinPending bool
}

// PairingCoordinator drives the platform bonding handshake and bridges its
// PIN request to the application-supplied PinProvider. Construct one per
// workflow; it holds no process-wide state.
type PairingCoordinator struct {
	bonder      Bonder
	pinProvider PinProvider

	// RequireAuthenticatedEncryption selects the platform protection level:
	// encryption plus MITM protection via the PIN when true (the default),
	// encryption only when false.
	RequireAuthenticatedEncryption bool

	mu      sync.Mutex
	records map[string]*PairingRecord
}

// NewPairingCoordinator creates a coordinator using provider for PIN entry.
func NewPairingCoordinator(bonder Bonder, provider PinProvider) *PairingCoordinator {
	return &PairingCoordinator{
		bonder:                         bonder,
		pinProvider:                    provider,
		RequireAuthenticatedEncryption: true,
		records:                        make(map[string]*PairingRecord),
	}
}

// EnsurePaired completes authenticated bonding with the given sensor.
// Already-bonded devices return success immediately without consulting the
// PinProvider, so calling this repeatedly is safe. Otherwise the platform
// bond is initiated and, when the platform requests authentication
// material, the PinProvider is invoked once and its PIN is submitted to the
// same in-flight handshake; the PIN cannot be cached for a later attempt.
func (c *PairingCoordinator) EnsurePaired(ctx context.Context, device Device) error {
	address := device.Address

	paired, err := c.probe(address)
	if err != nil {
		return err
	}
	if paired {
		c.setPaired(address, true)
		return nil
	}

	attempt := uuid.NewString()
	slog.Info("[BLE] pairing started", "address", address, "attempt", attempt)

	cancelled := make(chan struct{})
	var pinOnce sync.Once
	c.bonder.OnPinRequest(func(requested string) {
		if requested != address {
			return
		}
		pinOnce.Do(func() {
			c.setPinPending(address, true)
			go func() {
				defer c.setPinPending(address, false)
				pin, ok := c.pinProvider(ctx, device)
				if !ok {
					slog.Info("[BLE] pairing cancelled by user", "address", address, "attempt", attempt)
					close(cancelled)
					_ = c.bonder.CancelBond(address)
					return
				}
				// Must reach the in-flight handshake before the platform's
				// authentication window closes.
				if err := c.bonder.SubmitPin(address, pin); err != nil {
					slog.Warn("[BLE] PIN submission failed", "address", address, "attempt", attempt, "error", err)
				}
			}()
		})
	})

	err = c.bonder.Bond(ctx, address, c.RequireAuthenticatedEncryption)

	select {
	case <-cancelled:
		return ErrPairingCancelled
	default:
	}
	if err != nil {
		return &PairingError{Address: address, Err: err}
	}

	c.setPaired(address, true)
	slog.Info("[BLE] paired", "address", address, "attempt", attempt)
	return nil
}

// Unpair removes the platform bond. Where the platform offers no
// programmatic unpair this returns ErrPlatformUnsupported rather than
// reporting false success.
func (c *PairingCoordinator) Unpair(address string) error {
	if err := c.bonder.Unbond(address); err != nil {
		return err
	}
	c.setPaired(address, false)
	slog.Info("[BLE] unpaired", "address", address)
	return nil
}

// Paired reports the coordinator's view of the bond with address.
func (c *PairingCoordinator) Paired(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[address]
	return ok && record.Paired
}

// Record returns a copy of the pairing record for address.
func (c *PairingCoordinator) Record(address string) (PairingRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[address]
	if !ok {
		return PairingRecord{}, false
	}
	return *record, true
}

// probe asks the platform whether address is bonded. Where no bonding query
// exists, "currently connected" serves as a proxy; that path can report
// false positives, so it is logged whenever it decides the outcome.
func (c *PairingCoordinator) probe(address string) (bool, error) {
	if c.bonder.HasBondQuery() {
		return c.bonder.IsBonded(address)
	}
	if c.bonder.IsConnected(address) {
		slog.Warn("[BLE] no bond query on this platform; treating connected device as paired", "address", address)
		return true, nil
	}
	return false, nil
}

func (c *PairingCoordinator) record(address string) *PairingRecord {
	record, ok := c.records[address]
	if !ok {
		record = &PairingRecord{Address: address}
		c.records[address] = record
	}
	return record
}

func (c *PairingCoordinator) setPaired(address string, paired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(address).Paired = paired
}

func (c *PairingCoordinator) setPinPending(address string, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(address).PinPending = pending
}
