package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolFormat    = errors.New("protocol format error")
	ErrNotImplemented    = errors.New("not implemented")
	ErrSecurityViolation = errors.New("security violation")
	ErrTimeout           = errors.New("call timed out")
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrStateConflict     = errors.New("state conflict")
	ErrDataIntegrity     = errors.New("data integrity violation")
	ErrNotFound          = errors.New("not found")

	// ErrSuperseded fails calls of a session replaced by a newer connection.
	ErrSuperseded = fmt.Errorf("%w: session superseded", ErrDeviceUnreachable)
)

// Reason maps an error to the rejection reason shown to operators.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSuperseded):
		return "Superseded"
	case errors.Is(err, ErrDeviceUnreachable):
		return "DeviceUnreachable"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrStateConflict):
		return "StateConflict"
	case errors.Is(err, ErrProtocolFormat):
		return "ProtocolFormatError"
	case errors.Is(err, ErrNotImplemented):
		return "NotImplemented"
	case errors.Is(err, ErrSecurityViolation):
		return "SecurityViolation"
	case errors.Is(err, ErrDataIntegrity):
		return "DataIntegrityViolation"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "InternalError"
	}
}

type CommandStatus string

const (
	CommandAccepted  CommandStatus = "Accepted"
	CommandRejected  CommandStatus = "Rejected"
	CommandScheduled CommandStatus = "Scheduled"
)

// CommandResult is the synchronous acknowledgement of an operator command.
// Physical effects are observed later through device reports.
type CommandResult struct {
	Status  CommandStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Payload any           `json:"payload,omitempty"`
}

// Rejected builds a result from a local error.
func Rejected(err error) CommandResult {
	return CommandResult{Status: CommandRejected, Reason: Reason(err)}
}
