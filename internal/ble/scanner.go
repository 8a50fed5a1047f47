package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Scanner discovers MeDUSA sensors. One Scanner runs at most one scan at a
// time; each Start begins with a fresh discovered set, so devices seen in a
// previous scan are reported again.
type Scanner struct {
	adapter Adapter

	mu       sync.Mutex
	scanning bool
	cancel   context.CancelFunc
}

// NewScanner creates a scanner on the given adapter.
func NewScanner(adapter Adapter) *Scanner {
	return &Scanner{adapter: adapter}
}

// Start begins radio discovery and returns a lazy stream of matching
// devices. The stream ends when timeout elapses, ctx is cancelled, or Stop
// is called. nameFilter is matched case-insensitively as a substring of the
// advertised name; empty means DefaultNameFilter. Non-matching peripherals
// are dropped, never buffered. Devices are de-duplicated by address in
// first-seen order.
func (s *Scanner) Start(ctx context.Context, timeout time.Duration, nameFilter string) (<-chan Device, error) {
	if nameFilter == "" {
		nameFilter = DefaultNameFilter
	}
	filter := strings.ToLower(nameFilter)

	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	s.scanning = true
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan Device, 16)
	seen := make(map[string]bool)

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			s.scanning = false
			s.cancel = nil
			s.mu.Unlock()
			close(out)
		}()

		err := s.adapter.Scan(scanCtx, func(d Device) {
			if !strings.Contains(strings.ToLower(d.Name), filter) {
				return
			}
			if seen[d.Address] {
				return
			}
			seen[d.Address] = true
			select {
			case out <- d:
				slog.Debug("[BLE] discovered device", "address", d.Address, "name", d.Name, "rssi", d.RSSI)
			case <-scanCtx.Done():
			}
		})
		if err != nil && scanCtx.Err() == nil {
			slog.Warn("[BLE] scan ended with error", "error", err)
		}
	}()

	return out, nil
}

// Stop cancels the active scan and closes its stream. Safe to call
// repeatedly or when no scan is running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
