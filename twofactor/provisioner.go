// Package twofactor issues TOTP shared secrets, builds their provisioning
// URIs and checks submitted codes against them.
package twofactor

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"

	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/utils"
)

// ErrNoSecret is returned when no TOTP secret has been provisioned for the
// email.
var ErrNoSecret = errors.New("no totp secret on file")

type Provisioner struct {
	store  dbhelper.SecretStore
	issuer string
	rand   io.Reader
}

// NewProvisioner returns a provisioner labelling URIs with issuer.
func NewProvisioner(store dbhelper.SecretStore, issuer string) *Provisioner {
	if issuer == "" {
		issuer = utils.DefaultTOTPIssuer
	}
	return &Provisioner{store: store, issuer: issuer, rand: rand.Reader}
}

func (p *Provisioner) Issuer() string { return p.issuer }

// Provision returns the otpauth URI for email, generating and storing a
// secret on first use. Later calls reuse the stored secret.
func (p *Provisioner) Provision(ctx context.Context, email string) (uri string, created bool, err error) {
	secret, created, err := p.store.GetOrCreateSecret(ctx, email, func() (string, error) {
		return p.newSecret(email)
	})
	if err != nil {
		return "", false, oops.Code("TOTP_PROVISION_FAILED").With("email", email).Wrap(err)
	}
	return ProvisioningURI(p.issuer, email, secret.Secret), created, nil
}

func (p *Provisioner) newSecret(email string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: email,
		SecretSize:  utils.TOTPSecretBytes,
		Rand:        p.rand,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the otpauth URI authenticator apps import. The
// label is "issuer:account" with each half escaped separately.
func ProvisioningURI(issuer, account, secret string) string {
	params := []string{
		"secret=" + escape(secret),
		"issuer=" + escape(issuer),
		"algorithm=SHA1",
		"digits=" + strconv.Itoa(utils.TOTPDigits),
		"period=" + strconv.Itoa(utils.TOTPPeriod),
	}
	return "otpauth://totp/" + escape(issuer) + ":" + escape(account) + "?" + strings.Join(params, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
