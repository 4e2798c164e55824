package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/xlzd/gotp"

	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/utils"
)

// skewSteps is how many 30 second steps either side of now are accepted.
const skewSteps = 1

type Verifier struct {
	store dbhelper.SecretStore
}

func NewVerifier(store dbhelper.SecretStore) *Verifier {
	return &Verifier{store: store}
}

// Verify reports whether token is the code for email's secret at now or one
// step either side of it. A malformed token or secret is simply false. The
// only errors are ErrNoSecret and store faults.
func (v *Verifier) Verify(ctx context.Context, email, token string, now time.Time) (bool, error) {
	secret, err := v.store.GetSecret(ctx, email)
	if errors.Is(err, dbhelper.ErrNotFound) {
		return false, ErrNoSecret
	}
	if err != nil {
		return false, oops.Code("TOTP_SECRET_LOOKUP_FAILED").With("email", email).Wrap(err)
	}
	return CheckCode(secret.Secret, token, now), nil
}

// VerifyAndEnable is Verify followed by marking 2FA as enabled for email
// when the code is good. It reports whether the code was good.
func (v *Verifier) VerifyAndEnable(ctx context.Context, email, token string, now time.Time) (bool, error) {
	ok, err := v.Verify(ctx, email, token, now)
	if err != nil || !ok {
		return ok, err
	}
	if err := v.store.SetSecretEnabled(ctx, email, true); err != nil {
		return false, oops.Code("TOTP_ENABLE_FAILED").With("email", email).Wrap(err)
	}
	return true, nil
}

// Enabled reports whether email has a confirmed TOTP enrollment.
func (v *Verifier) Enabled(ctx context.Context, email string) (bool, error) {
	secret, err := v.store.GetSecret(ctx, email)
	if errors.Is(err, dbhelper.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("TOTP_SECRET_LOOKUP_FAILED").With("email", email).Wrap(err)
	}
	return secret.Enabled, nil
}

// CheckCode compares token with the codes for secret in the window around
// now.
func CheckCode(secret, token string, now time.Time) bool {
	if len(token) != utils.TOTPDigits {
		return false
	}
	candidates, err := codesAround(secret, now)
	if err != nil {
		return false
	}
	matched := 0
	for _, code := range candidates {
		matched |= subtle.ConstantTimeCompare([]byte(code), []byte(token))
	}
	return matched == 1
}

func codesAround(secret string, now time.Time) (codes []string, err error) {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	if secret == "" {
		return nil, errors.New("empty secret")
	}
	// gotp panics on secrets that are not valid base32
	defer func() {
		if r := recover(); r != nil {
			codes, err = nil, fmt.Errorf("compute totp: %v", r)
		}
	}()

	otp := gotp.NewDefaultTOTP(secret)
	ts := now.Unix()
	for step := -skewSteps; step <= skewSteps; step++ {
		codes = append(codes, otp.At(int(ts)+step*utils.TOTPPeriod))
	}
	return codes, nil
}
