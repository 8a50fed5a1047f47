package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EngineOptions tunes provisioning timing. The defaults match the sensor
// firmware: a short settle after each credential write, 1 Hz status
// polling, 30 polls maximum.
type EngineOptions struct {
	SettleDelay  time.Duration // pause after SSID and PSK writes
	PollInterval time.Duration // spacing between STATUS reads
	PollBudget   int           // maximum STATUS reads per Provision call
}

// DefaultEngineOptions returns the firmware-matched defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		SettleDelay:  100 * time.Millisecond,
		PollInterval: time.Second,
		PollBudget:   30,
	}
}

// Engine writes Wi-Fi credentials to a connected, paired sensor and drives
// the status poll to a terminal outcome. It keeps no state across calls
// beyond the session and pairing records it observes, so any operation can
// be re-invoked after a terminal failure.
type Engine struct {
	session *Session
	pairing *PairingCoordinator
	opts    EngineOptions
}

// NewEngine creates a provisioning engine bound to one session. Zero-value
// option fields fall back to the defaults.
func NewEngine(session *Session, pairing *PairingCoordinator, opts EngineOptions) *Engine {
	defaults := DefaultEngineOptions()
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaults.SettleDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.PollBudget <= 0 {
		opts.PollBudget = defaults.PollBudget
	}
	return &Engine{session: session, pairing: pairing, opts: opts}
}

// Provision writes ssid and psk to the sensor and commands it to join the
// network, then polls STATUS until a terminal code or the poll budget runs
// out. The write order SSID, PSK, CONTROL is fixed; each write waits for
// the peripheral's acknowledgment before the next proceeds, and any write
// failure aborts the remaining steps. The psk value is never logged.
func (e *Engine) Provision(ctx context.Context, ssid, psk string) error {
	if err := e.preconditions(); err != nil {
		return err
	}

	requestID := uuid.NewString()
	slog.Info("[BLE] provisioning started",
		"request", requestID,
		"address", e.session.Address(),
		"ssid", ssid,
		"psk_len", len(psk),
	)

	if err := e.writeChar(SSIDCharUUID, "SSID", []byte(ssid)); err != nil {
		return err
	}
	time.Sleep(e.opts.SettleDelay)

	if err := e.writeChar(PSKCharUUID, "PSK", []byte(psk)); err != nil {
		return err
	}
	time.Sleep(e.opts.SettleDelay)

	if err := e.writeChar(ControlCharUUID, "CONTROL", []byte{ControlConnect}); err != nil {
		return err
	}

	return e.poll(ctx, requestID)
}

// poll reads STATUS once per interval until a terminal code, link loss, ctx
// cancellation, or budget exhaustion.
func (e *Engine) poll(ctx context.Context, requestID string) error {
	statusChar, err := e.session.Characteristic(StatusCharUUID)
	if err != nil {
		return ErrConnectionLost
	}

	for i := 1; i <= e.opts.PollBudget; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.session.Lost():
			return ErrConnectionLost
		case <-time.After(e.opts.PollInterval):
		}

		raw, err := statusChar.Read()
		if err != nil {
			if !e.session.Connected() {
				return ErrConnectionLost
			}
			return fmt.Errorf("ble: read STATUS: %w", err)
		}
		if len(raw) == 0 {
			continue
		}

		outcome := Classify(StatusCode(raw[0]))
		slog.Debug("[BLE] status poll",
			"request", requestID,
			"poll", i,
			"code", fmt.Sprintf("0x%02X", byte(outcome.Code)),
			"label", outcome.Label,
		)

		switch {
		case outcome.Code.TerminalSuccess():
			slog.Info("[BLE] provisioning succeeded", "request", requestID, "polls", i)
			return nil
		case outcome.Code.TerminalFailure():
			slog.Warn("[BLE] provisioning failed", "request", requestID, "polls", i, "label", outcome.Label)
			return &ProvisioningError{Code: outcome.Code, Label: outcome.Label}
		}
		// In-progress, unknown codes included: keep polling.
	}

	return ErrProvisioningTimeout
}

// ReadStatus performs a single diagnostic read of the STATUS characteristic
// outside any poll loop.
func (e *Engine) ReadStatus() (Outcome, error) {
	statusChar, err := e.session.Characteristic(StatusCharUUID)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := statusChar.Read()
	if err != nil {
		return Outcome{}, fmt.Errorf("ble: read STATUS: %w", err)
	}
	if len(raw) == 0 {
		return Outcome{}, fmt.Errorf("ble: empty STATUS read")
	}
	return Classify(StatusCode(raw[0])), nil
}

// ClearCredentials erases the stored Wi-Fi credentials on the sensor.
// Acknowledged by the write-with-response alone; no status polling.
func (e *Engine) ClearCredentials() error {
	if err := e.preconditions(); err != nil {
		return err
	}
	return e.writeChar(ControlCharUUID, "CONTROL", []byte{ControlClear})
}

// FactoryReset returns the sensor to its out-of-box state. Acknowledged by
// the write-with-response alone.
func (e *Engine) FactoryReset() error {
	if err := e.preconditions(); err != nil {
		return err
	}
	return e.writeChar(ControlCharUUID, "CONTROL", []byte{ControlFactoryReset})
}

// preconditions enforces Connected + Paired. Service presence is implied by
// Connected: Session.Connect fails unless all four provisioning
// characteristics were discovered.
func (e *Engine) preconditions() error {
	if !e.session.Connected() {
		return ErrNotConnected
	}
	if !e.pairing.Paired(e.session.Address()) {
		return ErrNotPaired
	}
	return nil
}

func (e *Engine) writeChar(charUUID, name string, data []byte) error {
	char, err := e.session.Characteristic(charUUID)
	if err != nil {
		return &WriteError{Characteristic: name, Err: err}
	}
	if err := char.Write(data); err != nil {
		return &WriteError{Characteristic: name, Err: err}
	}
	return nil
}
