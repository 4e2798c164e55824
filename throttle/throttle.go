// Package throttle decides whether a password login may proceed for an
// email and keeps the consecutive-failure count that drives timed lockouts.
package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/models"
	"github.com/secureapp/apiv1/utils"
)

// Admission is the throttle's verdict for one email at one instant.
type Admission struct {
	Locked           bool
	RemainingSeconds int
	FailureCount     uint
}

type Throttle struct {
	store       dbhelper.AttemptStore
	maxAttempts uint
	lockout     time.Duration
}

// New returns a throttle that locks an email for lockout once maxAttempts
// consecutive failures have been recorded. Non-positive values fall back to
// the package defaults.
func New(store dbhelper.AttemptStore, maxAttempts int, lockout time.Duration) *Throttle {
	if maxAttempts < 1 {
		maxAttempts = utils.DefaultMaxLoginAttempts
	}
	if lockout <= 0 {
		lockout = utils.DefaultLoginBanDuration
	}
	return &Throttle{store: store, maxAttempts: uint(maxAttempts), lockout: lockout}
}

func (t *Throttle) MaxAttempts() int { return int(t.maxAttempts) }

func (t *Throttle) Lockout() time.Duration { return t.lockout }

// CheckAdmission never writes. An expired lockout reads as admitted with a
// zero count even though the stale record is only cleared by the next write.
func (t *Throttle) CheckAdmission(ctx context.Context, email string, now time.Time) (Admission, error) {
	attempts, err := t.store.GetAttempts(ctx, email)
	if errors.Is(err, dbhelper.ErrNotFound) {
		return Admission{}, nil
	}
	if err != nil {
		return Admission{}, err
	}
	return t.evaluate(&attempts, now), nil
}

// RecordFailure counts one verified-wrong credential. A failure arriving
// while a lockout is running is neither counted nor allowed to extend it.
func (t *Throttle) RecordFailure(ctx context.Context, email string, now time.Time) (Admission, error) {
	var admission Admission
	_, err := t.store.UpdateAttempts(ctx, email, func(a *models.LoginAttempts) error {
		if a.Locked(now) {
			admission = t.evaluate(a, now)
			return nil
		}
		if a.BanExpiresAt != nil {
			// previous lockout ran out, start a fresh window
			a.NumAttempts = 0
			a.BanExpiresAt = nil
		}
		a.NumAttempts++
		if a.NumAttempts >= t.maxAttempts {
			until := now.Add(t.lockout)
			a.BanExpiresAt = &until
			admission = Admission{
				Locked:           true,
				RemainingSeconds: utils.RemainingSeconds(until, now),
				FailureCount:     a.NumAttempts,
			}
			return nil
		}
		admission = Admission{FailureCount: a.NumAttempts}
		return nil
	})
	if err != nil {
		return Admission{}, err
	}
	return admission, nil
}

// errUntouched aborts an attempts update that has nothing to change.
var errUntouched = errors.New("attempts unchanged")

// RecordSuccess clears the failure count for email. The check runs in the
// same update as the reset, so a lockout started by a parallel failure after
// the caller's admission check survives and is reported back as Locked.
func (t *Throttle) RecordSuccess(ctx context.Context, email string, now time.Time) (Admission, error) {
	var admission Admission
	_, err := t.store.UpdateAttempts(ctx, email, func(a *models.LoginAttempts) error {
		if a.Locked(now) {
			admission = t.evaluate(a, now)
			return errUntouched
		}
		if a.NumAttempts == 0 && a.BanExpiresAt == nil {
			return errUntouched
		}
		a.NumAttempts = 0
		a.BanExpiresAt = nil
		return nil
	})
	if err != nil && !errors.Is(err, errUntouched) {
		return Admission{}, err
	}
	return admission, nil
}

func (t *Throttle) evaluate(a *models.LoginAttempts, now time.Time) Admission {
	if a.Locked(now) {
		return Admission{
			Locked:           true,
			RemainingSeconds: utils.RemainingSeconds(*a.BanExpiresAt, now),
			FailureCount:     a.NumAttempts,
		}
	}
	if a.BanExpiresAt != nil {
		return Admission{}
	}
	return Admission{FailureCount: a.NumAttempts}
}
