package ble

import (
	"context"
	"errors"
	"testing"
)

func testDevice() Device {
	return Device{Address: testAddress, Name: "medusa-pi-01", RSSI: -40}
}

// countingProvider returns a PinProvider that answers with pin and counts
// how many times it was consulted.
func countingProvider(pin string, ok bool, calls *int) PinProvider {
	return func(context.Context, Device) (string, bool) {
		*calls++
		return pin, ok
	}
}

func TestEnsurePairedAlreadyBondedSkipsProvider(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.bonded[testAddress] = true

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("000000", true, &calls))

	for i := 0; i < 2; i++ {
		if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
			t.Fatalf("EnsurePaired() call %d error = %v", i+1, err)
		}
	}
	if calls != 0 {
		t.Errorf("PinProvider consulted %d times for an already-bonded device, want 0", calls)
	}
	if bonder.bondAttempts() != 0 {
		t.Errorf("Bond() called %d times, want 0", bonder.bondAttempts())
	}
	if !coordinator.Paired(testAddress) {
		t.Error("Paired() = false after successful EnsurePaired")
	}
}

func TestEnsurePairedPinRoundTrip(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.requestPin = true
	bonder.expectedPin = "123456"

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("123456", true, &calls))

	if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
		t.Fatalf("EnsurePaired() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("PinProvider consulted %d times, want exactly 1", calls)
	}
	record, ok := coordinator.Record(testAddress)
	if !ok || !record.Paired {
		t.Errorf("Record() = %+v, %v; want a paired record", record, ok)
	}
	if record.PinPending {
		t.Error("PinPending still set after the handshake concluded")
	}
}

func TestEnsurePairedProviderCancel(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.requestPin = true
	bonder.expectedPin = "123456"

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("", false, &calls))

	err := coordinator.EnsurePaired(context.Background(), testDevice())
	if !errors.Is(err, ErrPairingCancelled) {
		t.Fatalf("EnsurePaired() error = %v, want ErrPairingCancelled", err)
	}
	if coordinator.Paired(testAddress) {
		t.Error("Paired() = true after a cancelled handshake")
	}
}

func TestEnsurePairedWrongPin(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.requestPin = true
	bonder.expectedPin = "123456"

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("999999", true, &calls))

	err := coordinator.EnsurePaired(context.Background(), testDevice())
	var pairingErr *PairingError
	if !errors.As(err, &pairingErr) {
		t.Fatalf("EnsurePaired() error = %v, want *PairingError", err)
	}
	if pairingErr.Address != testAddress {
		t.Errorf("PairingError.Address = %q, want %q", pairingErr.Address, testAddress)
	}
	if coordinator.Paired(testAddress) {
		t.Error("Paired() = true after an authentication failure")
	}
}

func TestEnsurePairedBondError(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.bondErr = errors.New("controller busy")

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("123456", true, &calls))

	err := coordinator.EnsurePaired(context.Background(), testDevice())
	var pairingErr *PairingError
	if !errors.As(err, &pairingErr) {
		t.Fatalf("EnsurePaired() error = %v, want *PairingError", err)
	}
}

func TestEnsurePairedHeuristicProxy(t *testing.T) {
	// No bond query: an existing connection counts as paired and the
	// provider is never consulted.
	bonder := newMockBonder()
	bonder.connected[testAddress] = true

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("123456", true, &calls))

	if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
		t.Fatalf("EnsurePaired() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("PinProvider consulted %d times on the connected-proxy path, want 0", calls)
	}
	if bonder.bondAttempts() != 0 {
		t.Errorf("Bond() called %d times on the connected-proxy path, want 0", bonder.bondAttempts())
	}
	if !coordinator.Paired(testAddress) {
		t.Error("Paired() = false after proxy success")
	}
}

func TestEnsurePairedHeuristicNotConnected(t *testing.T) {
	// No bond query and no connection: the coordinator proceeds to bond.
	bonder := newMockBonder()

	var calls int
	coordinator := NewPairingCoordinator(bonder, countingProvider("123456", true, &calls))

	if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
		t.Fatalf("EnsurePaired() error = %v", err)
	}
	if bonder.bondAttempts() != 1 {
		t.Errorf("Bond() called %d times, want 1", bonder.bondAttempts())
	}
}

func TestUnpairPlatformUnsupported(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.bonded[testAddress] = true
	bonder.unbondErr = ErrPlatformUnsupported

	coordinator := NewPairingCoordinator(bonder, countingProvider("", true, new(int)))
	if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
		t.Fatalf("EnsurePaired() error = %v", err)
	}

	if err := coordinator.Unpair(testAddress); !errors.Is(err, ErrPlatformUnsupported) {
		t.Fatalf("Unpair() error = %v, want ErrPlatformUnsupported", err)
	}
	if !coordinator.Paired(testAddress) {
		t.Error("Paired() = false after a failed Unpair; the record must be untouched")
	}
}

func TestUnpairClearsRecord(t *testing.T) {
	bonder := newMockBonder()
	bonder.hasQuery = true
	bonder.bonded[testAddress] = true

	coordinator := NewPairingCoordinator(bonder, countingProvider("", true, new(int)))
	if err := coordinator.EnsurePaired(context.Background(), testDevice()); err != nil {
		t.Fatalf("EnsurePaired() error = %v", err)
	}

	if err := coordinator.Unpair(testAddress); err != nil {
		t.Fatalf("Unpair() error = %v", err)
	}
	if coordinator.Paired(testAddress) {
		t.Error("Paired() = true after Unpair")
	}
	if bonded, _ := bonder.IsBonded(testAddress); bonded {
		t.Error("platform still reports the device bonded after Unpair")
	}
}
