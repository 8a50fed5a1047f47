package ble

import "fmt"

// StatusCode is one byte read from the STATUS characteristic.
type StatusCode byte

// Status codes reported by the sensor firmware.
const (
	StatusIdle           StatusCode = 0x01
	StatusPairing        StatusCode = 0x02
	StatusReady          StatusCode = 0x03
	StatusConnecting     StatusCode = 0x04
	StatusAuthenticating StatusCode = 0x05
	StatusObtainingIP    StatusCode = 0x06
	StatusSuccess        StatusCode = 0x07

	StatusFailPairing        StatusCode = 0xF0
	StatusFailAuthentication StatusCode = 0xF1
	StatusFailNetwork        StatusCode = 0xF2
	StatusFailInternal       StatusCode = 0xFF
)

// Every code at or above the floor is a terminal failure.
const statusFailureFloor StatusCode = 0xF0

var statusLabels = map[StatusCode]string{
	StatusIdle:               "Idle",
	StatusPairing:            "Pairing",
	StatusReady:              "Ready",
	StatusConnecting:         "Connecting",
	StatusAuthenticating:     "Authenticating",
	StatusObtainingIP:        "ObtainingIP",
	StatusSuccess:            "Success",
	StatusFailPairing:        "Fail: Pairing",
	StatusFailAuthentication: "Fail: Authentication",
	StatusFailNetwork:        "Fail: Network",
	StatusFailInternal:       "Fail: Internal",
}

// Label returns the semantic label for c. Codes outside the table resolve
// to Unknown(0xNN); firmware newer than this client may emit progress codes
// we have no name for, and those must not end a poll loop.
func (c StatusCode) Label() string {
	if label, ok := statusLabels[c]; ok {
		return label
	}
	return fmt.Sprintf("Unknown(0x%02X)", byte(c))
}

// TerminalSuccess reports whether c concludes provisioning successfully.
func (c StatusCode) TerminalSuccess() bool { return c == StatusSuccess }

// TerminalFailure reports whether c concludes provisioning with a failure.
func (c StatusCode) TerminalFailure() bool { return c >= statusFailureFloor }

// Terminal reports whether polling must stop on observing c.
func (c StatusCode) Terminal() bool { return c.TerminalSuccess() || c.TerminalFailure() }

// InProgress reports whether polling continues on observing c. Unknown codes
// are in progress.
func (c StatusCode) InProgress() bool { return !c.Terminal() }

// Outcome classifies one observed status byte. It is recomputed on every
// poll and never retained as history.
type Outcome struct {
	Code     StatusCode
	Label    string
	Terminal bool
}

// Classify builds the Outcome for a single STATUS read.
func Classify(code StatusCode) Outcome {
	return Outcome{Code: code, Label: code.Label(), Terminal: code.Terminal()}
}
