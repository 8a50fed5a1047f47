package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionState is the connection lifecycle state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session owns the link to a single sensor and the four provisioning
// characteristic handles. Handles are valid only while the session is
// Connected and are invalidated on disconnect or link loss; other
// components reach them through Characteristic, never through the platform
// connection directly.
type Session struct {
	adapter Adapter

	mu      sync.Mutex
	state   SessionState
	address string
	conn    Connection
	chars   map[string]Characteristic
	lost    chan struct{}
}

// NewSession creates a disconnected session on the given adapter.
func NewSession(adapter Adapter) *Session {
	return &Session{adapter: adapter, lost: closedChan()}
}

var provisioningCharUUIDs = []string{SSIDCharUUID, PSKCharUUID, ControlCharUUID, StatusCharUUID}

// Connect opens the link to address and discovers the provisioning service
// and its four characteristics. On timeout or error the session reverts to
// Disconnected and returns ErrConnectionFailed; a present link without the
// provisioning service returns ErrServiceNotFound.
func (s *Session) Connect(ctx context.Context, address string, timeout time.Duration) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("ble: session is %s, want Disconnected", s.state)
	}
	s.state = StateConnecting
	s.address = address
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.adapter.Connect(ctx, address)
	if err != nil {
		s.reset()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	chars := make(map[string]Characteristic, len(provisioningCharUUIDs))
	for _, uuid := range provisioningCharUUIDs {
		char, err := conn.DiscoverCharacteristic(ServiceUUID, uuid)
		if err != nil {
			_ = conn.Disconnect()
			s.reset()
			return fmt.Errorf("%w: %v", ErrServiceNotFound, err)
		}
		chars[uuid] = char
	}

	s.mu.Lock()
	s.state = StateConnected
	s.conn = conn
	s.chars = chars
	s.lost = make(chan struct{})
	s.mu.Unlock()

	// Registered after the session fields are in place so a racing loss
	// event cannot close a stale channel.
	conn.OnDisconnect(s.linkLost)

	slog.Info("[BLE] connected", "address", address)
	return nil
}

// Disconnect releases the link, subscriptions, and cached handles. Always
// safe, even when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	if s.state == StateConnected {
		close(s.lost)
	}
	s.state = StateDisconnected
	s.conn = nil
	s.chars = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session holds a live link.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Address returns the address of the device this session targets. Valid
// after the first Connect attempt.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Characteristic returns the cached handle for uuid, or ErrNotConnected
// once the link is down and the handles have been invalidated.
func (s *Session) Characteristic(uuid string) (Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, ErrNotConnected
	}
	char, ok := s.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("ble: no cached handle for characteristic %s", uuid)
	}
	return char, nil
}

// Lost returns a channel closed when the link drops. A fresh channel is
// installed on every successful Connect; before any connect it is already
// closed.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// linkLost handles a platform-reported disconnect.
func (s *Session) linkLost() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.conn = nil
	s.chars = nil
	close(s.lost)
	address := s.address
	s.mu.Unlock()

	slog.Warn("[BLE] link lost", "address", address)
}

// reset reverts a failed connect attempt.
func (s *Session) reset() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.conn = nil
	s.chars = nil
	s.mu.Unlock()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
