package vmsched

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Status is a scheduler status code, modeled on the hypervisor's hvmm_status_t.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusUnknown
	StatusIgnored
	StatusInvalidVMID
	StatusUnsupported
	StatusTimerArm
	StatusEntryReturned
	StatusCollaboratorFailed
	StatusBadConfig
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknown:
		return "UNKNOWN_ERROR"
	case StatusIgnored:
		return "IGNORED"
	case StatusInvalidVMID:
		return "INVALID_VMID"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusTimerArm:
		return "TIMER_ARM"
	case StatusEntryReturned:
		return "ENTRY_RETURNED"
	case StatusCollaboratorFailed:
		return "COLLABORATOR_FAILED"
	case StatusBadConfig:
		return "BAD_CONFIG"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// SchedError wraps a Status code with an optional message and cause.
type SchedError struct {
	Code    Status
	message string // Optional custom message for specific errors
	err     error
}

func (e *SchedError) Error() string {
	var msg string
	switch {
	case e.message != "":
		msg = e.message
	case isProductionEnv():
		msg = e.sanitizedError()
	default:
		msg = e.detailedError()
	}
	if e.err != nil {
		return msg + ": " + e.err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *SchedError) Unwrap() error { return e.err }

// Is reports whether target is a *SchedError carrying the same code, so that
// errors.Is(err, ErrInvalidVMID) holds for every invalid-identifier error.
func (e *SchedError) Is(target error) bool {
	t, ok := target.(*SchedError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// detailedError provides full error context for development
func (e *SchedError) detailedError() string {
	switch e.Code {
	case StatusSuccess:
		return "sched: success"
	case StatusIgnored:
		return "sched: request ignored (IGNORED) - self-switch, locked cell or nothing pending"
	case StatusInvalidVMID:
		return "sched: invalid vmid (INVALID_VMID) - identifier outside the CPU's partition"
	case StatusUnsupported:
		return "sched: collaborator unavailable (UNSUPPORTED) - a required hardware hook is missing"
	case StatusTimerArm:
		return "sched: timer arm failed (TIMER_ARM) - no scheduling tick, running single-guest"
	case StatusEntryReturned:
		return "sched: guest entry returned (ENTRY_RETURNED) - first dispatch must not return"
	case StatusCollaboratorFailed:
		return "sched: collaborator failed (COLLABORATOR_FAILED) - switch completed with hardware errors"
	case StatusBadConfig:
		return "sched: bad configuration (BAD_CONFIG) - check cpu count, partitions and tick interval"
	default:
		return fmt.Sprintf("sched: unknown error code %d", uint32(e.Code))
	}
}

// sanitizedError provides minimal error information for production
func (e *SchedError) sanitizedError() string {
	switch e.Code {
	case StatusSuccess:
		return "sched: success"
	case StatusIgnored:
		return "sched: request ignored"
	case StatusInvalidVMID:
		return "sched: invalid vmid"
	case StatusUnsupported:
		return "sched: collaborator unavailable"
	case StatusTimerArm:
		return "sched: timer arm failed"
	case StatusEntryReturned:
		return "sched: guest entry returned"
	case StatusCollaboratorFailed:
		return "sched: collaborator failed"
	case StatusBadConfig:
		return "sched: bad configuration"
	default:
		return "sched: scheduler error"
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("VMSCHED_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	if debug := os.Getenv("VMSCHED_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

func schedErr(code Status, cause error) error {
	return &SchedError{Code: code, err: cause}
}

func schedErrf(code Status, format string, args ...any) error {
	return &SchedError{Code: code, err: fmt.Errorf(format, args...)}
}

// IsIgnored reports whether err is the benign "ignored" outcome.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrIgnored)
}

// Common specific errors for API consumers
var (
	ErrIgnored                 = &SchedError{Code: StatusIgnored}
	ErrInvalidVMID             = &SchedError{Code: StatusInvalidVMID}
	ErrCollaboratorUnavailable = &SchedError{Code: StatusUnsupported}
	ErrTimerArm                = &SchedError{Code: StatusTimerArm}
	ErrEntryReturned           = &SchedError{Code: StatusEntryReturned}
	ErrCollaboratorFailed      = &SchedError{Code: StatusCollaboratorFailed}
	ErrBadConfig               = &SchedError{Code: StatusBadConfig}
)
