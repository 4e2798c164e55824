// Package auth composes the credential store, login throttle and TOTP
// verifier into the login, registration and second-factor decisions.
//
// Every check here runs on the server. Outcomes that are part of normal
// operation (wrong password, lockout, pending second factor) come back as an
// Outcome; a returned error is always an internal fault except for the
// validation, conflict and federated-disabled sentinels.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/federated"
	"github.com/secureapp/apiv1/metrics"
	"github.com/secureapp/apiv1/models"
	"github.com/secureapp/apiv1/throttle"
	"github.com/secureapp/apiv1/twofactor"
	"github.com/secureapp/apiv1/utils"
)

// Options wires an Authenticator. Federated may be nil.
type Options struct {
	Users       dbhelper.UserStore
	Throttle    *throttle.Throttle
	TwoFactor   *twofactor.Verifier
	Hasher      utils.PasswordHasher
	Federated   federated.Verifier
	AdminEmails []string
	Logger      *zap.Logger
}

type Authenticator struct {
	users     dbhelper.UserStore
	throttle  *throttle.Throttle
	twoFactor *twofactor.Verifier
	hasher    utils.PasswordHasher
	federated federated.Verifier
	admins    map[string]struct{}
	logger    *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

func New(opts Options) *Authenticator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = utils.NewBcryptHasher()
	}
	admins := make(map[string]struct{}, len(opts.AdminEmails))
	for _, email := range opts.AdminEmails {
		admins[email] = struct{}{}
	}
	return &Authenticator{
		users:     opts.Users,
		throttle:  opts.Throttle,
		twoFactor: opts.TwoFactor,
		hasher:    hasher,
		federated: opts.Federated,
		admins:    admins,
		logger:    logger,
	}
}

// Login runs the password step for email at now.
func (a *Authenticator) Login(ctx context.Context, email, password string, now time.Time) (Outcome, error) {
	admission, err := a.throttle.CheckAdmission(ctx, email, now)
	if err != nil {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultError)
		return Outcome{}, err
	}
	if admission.Locked {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultLocked)
		return Outcome{Result: Locked, RemainingSeconds: admission.RemainingSeconds}, nil
	}

	user, err := a.users.FindByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, dbhelper.ErrNotFound) {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultError)
		return Outcome{}, err
	}

	var matched bool
	if found {
		matched = a.hasher.Compare(user.Password, password)
	} else {
		// keep unknown emails as slow as wrong passwords
		a.hasher.Compare(a.dummy(), password)
	}

	if !matched {
		return a.loginFailed(ctx, email, now)
	}

	admission, err = a.throttle.RecordSuccess(ctx, email, now)
	if err != nil {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultError)
		return Outcome{}, err
	}
	if admission.Locked {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultLocked)
		return Outcome{Result: Locked, RemainingSeconds: admission.RemainingSeconds}, nil
	}
	outcome, err := a.afterFirstFactor(ctx, email)
	if err != nil {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultError)
		return Outcome{}, err
	}
	metrics.RecordLogin(metrics.MethodPassword, string(outcome.Result))
	return outcome, nil
}

func (a *Authenticator) loginFailed(ctx context.Context, email string, now time.Time) (Outcome, error) {
	admission, err := a.throttle.RecordFailure(ctx, email, now)
	if err != nil {
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultError)
		return Outcome{}, err
	}
	if admission.Locked {
		a.logger.Warn("login lockout started",
			zap.String("email", email),
			zap.Uint("failures", admission.FailureCount),
			zap.Int("remainingSeconds", admission.RemainingSeconds),
		)
		metrics.RecordLockout()
		metrics.RecordLogin(metrics.MethodPassword, metrics.ResultLocked)
		return Outcome{Result: Locked, RemainingSeconds: admission.RemainingSeconds}, nil
	}
	metrics.RecordLogin(metrics.MethodPassword, metrics.ResultInvalidCredentials)
	return Outcome{Result: InvalidCredentials}, nil
}

// CompleteTwoFactor checks token for email. A wrong token does not count
// against the login throttle.
func (a *Authenticator) CompleteTwoFactor(ctx context.Context, email, token string, now time.Time) (Outcome, error) {
	ok, err := a.twoFactor.Verify(ctx, email, token, now)
	if errors.Is(err, twofactor.ErrNoSecret) {
		ok, err = false, nil
	}
	if err != nil {
		metrics.RecordTwoFactorVerification(metrics.ResultError)
		return Outcome{}, err
	}
	if !ok {
		metrics.RecordTwoFactorVerification(metrics.ResultInvalidToken)
		return Outcome{Result: InvalidToken}, nil
	}
	metrics.RecordTwoFactorVerification(metrics.ResultAuthenticated)
	return Outcome{Result: Authenticated, Destination: a.Classify(email)}, nil
}

// Register stores a new credential record. Any empty field is a validation
// error; a taken email is ErrConflict whatever the other fields are.
func (a *Authenticator) Register(ctx context.Context, username, email, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" || password == "" {
		metrics.RecordRegistration(metrics.ResultError)
		return fmt.Errorf("%w: %s", ErrValidation, utils.MissingFieldsError)
	}
	hash, err := a.hasher.Hash(password)
	if err != nil {
		metrics.RecordRegistration(metrics.ResultError)
		return err
	}
	err = a.users.Create(ctx, models.User{Username: username, Email: email, Password: hash})
	if errors.Is(err, dbhelper.ErrAlreadyExists) {
		metrics.RecordRegistration(metrics.ResultConflict)
		return ErrConflict
	}
	if err != nil {
		metrics.RecordRegistration(metrics.ResultError)
		return err
	}
	a.logger.Info("user registered", zap.String("email", email))
	metrics.RecordRegistration(metrics.ResultCreated)
	return nil
}

// UpsertFederatedUser returns the record for id.Email, creating a
// passwordless one named after id when none exists. Existing records are
// returned untouched.
func (a *Authenticator) UpsertFederatedUser(ctx context.Context, id federated.Identity) (models.User, error) {
	name := strings.TrimSpace(id.DisplayName)
	if name == "" {
		name = utils.DefaultFederatedName
	}
	user, created, err := a.users.CreateIfAbsent(ctx, models.User{Username: name, Email: id.Email})
	if err != nil {
		return models.User{}, err
	}
	if created {
		a.logger.Info("federated user created", zap.String("email", id.Email))
	}
	return user, nil
}

// FederatedLogin verifies credential with the configured identity provider
// and continues like a successful password step. It does not pass through
// the throttle.
func (a *Authenticator) FederatedLogin(ctx context.Context, credential string) (Outcome, error) {
	if a.federated == nil {
		return Outcome{}, ErrFederatedDisabled
	}
	id, err := a.federated.Verify(ctx, credential)
	if errors.Is(err, federated.ErrInvalidCredential) {
		a.logger.Info("federated credential rejected", zap.Error(err))
		metrics.RecordLogin(metrics.MethodFederated, metrics.ResultInvalidCredentials)
		return Outcome{Result: InvalidCredentials}, nil
	}
	if err != nil {
		metrics.RecordLogin(metrics.MethodFederated, metrics.ResultError)
		return Outcome{}, err
	}
	if _, err := a.UpsertFederatedUser(ctx, id); err != nil {
		metrics.RecordLogin(metrics.MethodFederated, metrics.ResultError)
		return Outcome{}, err
	}
	outcome, err := a.afterFirstFactor(ctx, id.Email)
	if err != nil {
		metrics.RecordLogin(metrics.MethodFederated, metrics.ResultError)
		return Outcome{}, err
	}
	metrics.RecordLogin(metrics.MethodFederated, string(outcome.Result))
	return outcome, nil
}

// Classify picks the landing page for an authenticated email.
func (a *Authenticator) Classify(email string) Destination {
	if _, ok := a.admins[email]; ok {
		return DestinationAdmin
	}
	return DestinationHome
}

// IsAdmin reports whether email is on the admin allow-list.
func (a *Authenticator) IsAdmin(email string) bool {
	return a.Classify(email) == DestinationAdmin
}

// SeedDemoUsers registers the demo accounts unless they already exist.
func (a *Authenticator) SeedDemoUsers(ctx context.Context) error {
	demo := []struct{ username, email, password string }{
		{"admin", "admin@admin.com", "admin"},
		{"user", "user@user.com", "user"},
	}
	for _, d := range demo {
		hash, err := a.hasher.Hash(d.password)
		if err != nil {
			return err
		}
		_, created, err := a.users.CreateIfAbsent(ctx, models.User{Username: d.username, Email: d.email, Password: hash})
		if err != nil {
			return fmt.Errorf("seed %s: %w", d.email, err)
		}
		if created {
			a.logger.Info("demo user seeded", zap.String("email", d.email))
		}
	}
	return nil
}

func (a *Authenticator) afterFirstFactor(ctx context.Context, email string) (Outcome, error) {
	enabled, err := a.twoFactor.Enabled(ctx, email)
	if err != nil {
		return Outcome{}, err
	}
	if enabled {
		return Outcome{Result: PendingSecondFactor, Destination: DestinationVerifyTwoFA}, nil
	}
	return Outcome{Result: Admitted, Destination: a.Classify(email)}, nil
}

func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash("not-a-real-password")
		if err == nil {
			a.dummyHash = hash
		}
	})
	return a.dummyHash
}
