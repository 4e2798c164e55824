package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	hashRounds = 10
	// bcrypt rejects longer inputs
	bcryptMaxPasswordBytes = 72
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// PasswordHasher turns passwords into their stored form and checks
// candidates against it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare reports whether password matches stored. An empty stored
	// value never matches.
	Compare(stored, password string) bool
}

// BcryptHasher stores salted bcrypt hashes. Passwords longer than bcrypt
// accepts are reduced to the base64 SHA-256 digest first, for both Hash and
// Compare.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: hashRounds}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	cost := h.Cost
	if cost == 0 {
		cost = hashRounds
	}
	bytes, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	return string(bytes), err
}

func (h *BcryptHasher) Compare(stored, password string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(password)) == nil
}

func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxPasswordBytes {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// PlainHasher keeps passwords as given. It exists for deployments that
// still carry cleartext records; comparison is constant time.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return password, nil
}

func (PlainHasher) Compare(stored, password string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// NewPasswordHasher picks a hasher by its configured name.
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch name {
	case "", "bcrypt":
		return NewBcryptHasher(), nil
	case "plain":
		return PlainHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password hashing scheme %q", name)
	}
}

// RemainingSeconds rounds the time left until deadline up to whole seconds.
func RemainingSeconds(deadline, now time.Time) int {
	diff := deadline.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int((diff + time.Second - 1) / time.Second)
}

func GenerateBanMessage(remainingSeconds int) string {
	if remainingSeconds <= 1 {
		return "Too many failed attempts. Please try again in 1 second."
	}
	return fmt.Sprintf("Too many failed attempts. Please try again in %d seconds.", remainingSeconds)
}
