package auth

import (
	"errors"
	"fmt"
)

// Result names how an authentication step ended.
type Result string

const (
	Admitted            Result = "admitted"
	PendingSecondFactor Result = "pending_second_factor"
	InvalidCredentials  Result = "invalid_credentials"
	Locked              Result = "locked"
	Authenticated       Result = "authenticated"
	InvalidToken        Result = "invalid_token"
)

// Destination is the page a client goes to after a step.
type Destination string

const (
	DestinationAdmin       Destination = "/admin.html"
	DestinationHome        Destination = "/home.html"
	DestinationVerifyTwoFA Destination = "/verify-2fa.html"
)

// Outcome is the non-fault result of a login or second-factor step.
// Destination is set for Admitted, Authenticated and PendingSecondFactor;
// RemainingSeconds only for Locked.
type Outcome struct {
	Result           Result
	Destination      Destination
	RemainingSeconds int
}

// Err converts a failed outcome into the matching error value, or nil when
// the step succeeded.
func (o Outcome) Err() error {
	switch o.Result {
	case InvalidCredentials:
		return ErrInvalidCredentials
	case InvalidToken:
		return ErrInvalidToken
	case Locked:
		return &LockedError{RemainingSeconds: o.RemainingSeconds}
	}
	return nil
}

var (
	// ErrValidation marks a missing or malformed field the caller can fix.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid verification code")

	// ErrConflict is returned when registering an email that is taken.
	ErrConflict = errors.New("user already exists")

	// ErrFederatedDisabled is returned when no federated verifier is set.
	ErrFederatedDisabled = errors.New("federated login is not configured")
)

// LockedError reports an active login lockout.
type LockedError struct {
	RemainingSeconds int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("login locked for %d more seconds", e.RemainingSeconds)
}
