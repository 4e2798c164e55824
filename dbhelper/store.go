// Package dbhelper persists the three email-keyed collections of the
// service: users, login attempts and TOTP secrets.
//
// Every read-modify-write on a single email is atomic with respect to other
// callers using the same email. Different emails never block each other.
package dbhelper

import (
	"context"
	"errors"

	"github.com/secureapp/apiv1/models"
)

var (
	// ErrNotFound is returned when no record exists for the email.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when creating a record whose email is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// UserStore owns credential records.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
	Create(ctx context.Context, user models.User) error
	// CreateIfAbsent stores user unless the email is taken. It returns the
	// stored record and whether it was created by this call.
	CreateIfAbsent(ctx context.Context, user models.User) (models.User, bool, error)
}

// AttemptStore owns login-attempt counters.
type AttemptStore interface {
	GetAttempts(ctx context.Context, email string) (models.LoginAttempts, error)
	// UpdateAttempts runs fn on the record for email, creating an empty one
	// first if needed, and saves the result. No other update for the same
	// email can interleave.
	UpdateAttempts(ctx context.Context, email string, fn func(*models.LoginAttempts) error) (models.LoginAttempts, error)
}

// SecretStore owns TOTP secrets.
type SecretStore interface {
	GetSecret(ctx context.Context, email string) (models.TotpSecret, error)
	// GetOrCreateSecret returns the stored secret, calling generate only
	// when none exists. The bool reports whether a secret was created.
	GetOrCreateSecret(ctx context.Context, email string, generate func() (string, error)) (models.TotpSecret, bool, error)
	SetSecretEnabled(ctx context.Context, email string, enabled bool) error
}

// Store is the union every backend implements.
type Store interface {
	UserStore
	AttemptStore
	SecretStore
}
