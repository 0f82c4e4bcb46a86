package bootcore

import (
	"errors"
	"fmt"
)

// StatusByte is one of the single-byte status codes emitted on HOST.
type StatusByte byte

const (
	StatusOK           StatusByte = 0x00
	StatusMACError     StatusByte = 0x01
	StatusVersionError StatusByte = 0x02
	StatusConfigured   StatusByte = 0x43 // ASCII 'C'
	ModeInstallByte    StatusByte = 'U'
	ModeReadbackByte   StatusByte = 'R'
	ModeBootByte       StatusByte = 'B'
	AppTerminatorByte  StatusByte = 0x01
)

// ErrWatchdogReset is returned by Halt once the watchdog fires, standing in
// for the device reset that would otherwise end the process.
var ErrWatchdogReset = errors.New("watchdog reset")

// ErrNoImage is the non-fatal, no-status-byte condition at boot handoff
// when fw_bytes == 0 (no firmware has ever been installed).
var ErrNoImage = errors.New("no firmware image installed")

// ProtocolError is a fatal, terminal protocol violation: the engine has
// already emitted Status on HOST (if non-zero) and commits no further
// state; the caller is expected to follow up with Halt.
type ProtocolError struct {
	Status StatusByte
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

// ErrMACMismatch reports an authentication failure over received frame or
// request material.
func ErrMACMismatch(context string) *ProtocolError {
	return &ProtocolError{Status: StatusMACError, Reason: "mac verification failed: " + context}
}

// ErrVersionRollback reports a refused downgrade install.
func ErrVersionRollback(declared, current uint16) *ProtocolError {
	return &ProtocolError{
		Status: StatusVersionError,
		Reason: fmt.Sprintf("version rollback refused: declared %d < current %d", declared, current),
	}
}
