package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the domain error taxonomy. Transport adapters map
// these to wire statuses with errors.Is.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionTerminated  = errors.New("session terminated")
	ErrDriverOpenFailed   = errors.New("browser open failed")
	ErrPageClosed         = errors.New("page closed")
	ErrManualModeRequired = errors.New("manual mode required")
	ErrPriorityConflict   = errors.New("priority conflict")
	ErrScriptUnsafe       = errors.New("script rejected by safety check")
	ErrProfileNotFound    = errors.New("fingerprint profile not found")
	ErrFingerprintLimit   = errors.New("fingerprint profile quota exceeded")
	ErrNotManualMode      = errors.New("session not in manual mode")
	ErrUnknownCommand     = errors.New("unknown command kind")
	ErrInvalidParams      = errors.New("invalid command params")
)

// UpgradePageClosed rewraps driver errors that indicate a dead page or
// browser context so transports can map them to a dedicated status.
func UpgradePageClosed(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "page closed") || strings.Contains(msg, "context closed") ||
		strings.Contains(msg, "target closed") {
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	}
	return err
}

// PriorityConflictError carries the competing ranks for diagnostics.
type PriorityConflictError struct {
	Requested Priority
	Current   Priority
}

func (e *PriorityConflictError) Error() string {
	return fmt.Sprintf("priority conflict: requested %s, session held at %s", e.Requested, e.Current)
}

// Unwrap makes errors.Is(err, ErrPriorityConflict) hold.
func (e *PriorityConflictError) Unwrap() error { return ErrPriorityConflict }
