package auth

import (
	"errors"
	"fmt"
	"strings"
)

// State is a step of the login state machine.
type State int

const (
	StateStart State = iota
	StateSSOEntry
	StateCredentialsSubmitted
	StateMFAFactorSelection
	StateMFAChallengeIssued
	StateAwaitingPushApproval
	StateAwaitingUserCode
	StateVerified
	StateAuthenticated
	StateFailed
)

var stateNames = [...]string{
	"start", "sso-entry", "credentials-submitted", "mfa-factor-selection",
	"mfa-challenge-issued", "awaiting-push-approval", "awaiting-user-code",
	"verified", "authenticated", "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MFAMode selects how the second factor is answered.
type MFAMode string

const (
	MFAPush   MFAMode = "push"
	MFAOTP    MFAMode = "otp"
	MFASelect MFAMode = "select"
)

// ParseMFAMode accepts push, otp or select in any case. "pn" is an alias for push.
func ParseMFAMode(s string) (MFAMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push", "pn":
		return MFAPush, nil
	case "otp", "code":
		return MFAOTP, nil
	case "select", "sms":
		return MFASelect, nil
	}
	return "", fmt.Errorf("auth: unknown MFA mode %q (want push, otp or select)", s)
}

var (
	// ErrAuthentication matches every *Error.
	ErrAuthentication = errors.New("authentication failed")
	// ErrElementNotFound reports that no locator of a step appeared in time.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoInput reports that the operator supplied nothing usable.
	ErrNoInput = errors.New("no operator input")
)

// Error is returned for any failed login. Stage is the step being attempted.
type Error struct {
	Stage State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrAuthentication }
