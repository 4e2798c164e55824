package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the credential record for one identity. Password holds whatever
// the configured utils.PasswordHasher produced; federated users have none.
type User struct {
	gorm.Model
	Username string `json:"username"`
	Email    string `json:"email" gorm:"uniqueIndex;size:255"`
	Password string `json:"password,omitempty"`
}

// LoginAttempts tracks consecutive password failures for an email. The row
// may exist for an email that has no User.
type LoginAttempts struct {
	gorm.Model
	Email        string     `json:"email" gorm:"uniqueIndex;size:255"`
	NumAttempts  uint       `json:"numAttempts"`
	BanExpiresAt *time.Time `json:"banExpiresAt,omitempty"`
}

// Locked reports whether a ban is running at now.
func (a *LoginAttempts) Locked(now time.Time) bool {
	return a.BanExpiresAt != nil && now.Before(*a.BanExpiresAt)
}

// TotpSecret is the single home of an identity's TOTP shared secret.
// Enabled flips to true once the owner proves possession with a valid code.
type TotpSecret struct {
	gorm.Model
	Email   string `json:"email" gorm:"uniqueIndex;size:255"`
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
}
