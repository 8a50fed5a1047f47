package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

func connectTestSession(t *testing.T, adapter *mockAdapter) *Session {
	t.Helper()
	session := NewSession(adapter)
	if err := session.Connect(context.Background(), testAddress, time.Second); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return session
}

func TestSessionConnectCachesHandles(t *testing.T) {
	adapter := newMockAdapter(nil)
	session := connectTestSession(t, adapter)

	if session.State() != StateConnected {
		t.Fatalf("State() = %v, want Connected", session.State())
	}
	for _, uuid := range provisioningCharUUIDs {
		if _, err := session.Characteristic(uuid); err != nil {
			t.Errorf("Characteristic(%s) error = %v", uuid, err)
		}
	}
}

func TestSessionConnectServiceMissing(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.missingService = true
	session := NewSession(adapter)

	err := session.Connect(context.Background(), testAddress, time.Second)
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("Connect() error = %v, want ErrServiceNotFound", err)
	}
	if session.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected after failed connect", session.State())
	}
}

func TestSessionConnectFailure(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.connectErr = errors.New("peripheral out of range")
	session := NewSession(adapter)

	err := session.Connect(context.Background(), testAddress, time.Second)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if session.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", session.State())
	}
}

func TestSessionDisconnectIsAlwaysSafe(t *testing.T) {
	adapter := newMockAdapter(nil)
	session := NewSession(adapter)

	// Disconnect before any connect.
	session.Disconnect()
	session.Disconnect()

	if err := session.Connect(context.Background(), testAddress, time.Second); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	session.Disconnect()
	session.Disconnect()

	if session.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", session.State())
	}
}

func TestSessionLinkLossInvalidatesHandles(t *testing.T) {
	adapter := newMockAdapter(nil)
	session := connectTestSession(t, adapter)

	lost := session.Lost()
	adapter.latestConnection().SimulateDisconnect()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("Lost() channel not closed after link loss")
	}

	if session.State() != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", session.State())
	}
	if _, err := session.Characteristic(StatusCharUUID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Characteristic() after link loss error = %v, want ErrNotConnected", err)
	}
}

func TestSessionReconnectAfterLinkLoss(t *testing.T) {
	adapter := newMockAdapter(nil)
	session := connectTestSession(t, adapter)

	adapter.latestConnection().SimulateDisconnect()

	if err := session.Connect(context.Background(), testAddress, time.Second); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if session.State() != StateConnected {
		t.Errorf("State() = %v, want Connected", session.State())
	}

	select {
	case <-session.Lost():
		t.Error("fresh Lost() channel is already closed after reconnect")
	default:
	}
}

func TestSessionRejectsDoubleConnect(t *testing.T) {
	adapter := newMockAdapter(nil)
	session := connectTestSession(t, adapter)

	if err := session.Connect(context.Background(), testAddress, time.Second); err == nil {
		t.Fatal("second Connect() on a connected session should fail")
	}
}
