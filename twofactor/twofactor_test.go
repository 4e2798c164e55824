package twofactor

import (
	"bytes"
	"context"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureapp/apiv1/dbhelper"
	"github.com/secureapp/apiv1/models"
)

const testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

var t0 = time.Date(2024, 3, 1, 12, 0, 15, 0, time.UTC)

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func secretFromURI(t *testing.T, uri string) string {
	t.Helper()
	u, err := url.Parse(uri)
	require.NoError(t, err)
	return u.Query().Get("secret")
}

func TestProvisioningURIFormat(t *testing.T) {
	uri := ProvisioningURI("AlatBayar", "bob@x.com", testSecret)
	assert.Equal(t,
		"otpauth://totp/AlatBayar:bob%40x.com?secret="+testSecret+"&issuer=AlatBayar&algorithm=SHA1&digits=6&period=30",
		uri)

	uri = ProvisioningURI("Secure App", "a b@x.com", testSecret)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Secure%20App:a%20b%40x.com?"), uri)
	assert.Contains(t, uri, "issuer=Secure%20App")
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := dbhelper.NewMemoryStore()
	p := NewProvisioner(store, "AlatBayar")

	first, created, err := p.Provision(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := p.Provision(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	secret := secretFromURI(t, first)
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw)*8, 160)

	stored, err := store.GetSecret(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Secret)
	assert.False(t, stored.Enabled, "provisioning alone does not enable 2FA")

	other, _, err := p.Provision(ctx, "carol@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, secret, secretFromURI(t, other))
}

func TestProvisionKeepsExistingSecret(t *testing.T) {
	ctx := context.Background()
	store := dbhelper.NewMemoryStore()
	_, _, err := store.GetOrCreateSecret(ctx, "bob@x.com", func() (string, error) { return testSecret, nil })
	require.NoError(t, err)

	uri, created, err := NewProvisioner(store, "").Provision(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, testSecret, secretFromURI(t, uri))
	assert.Contains(t, uri, "issuer=AlatBayar")
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestProvisionGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	store := dbhelper.NewMemoryStore()
	p := NewProvisioner(store, "AlatBayar")
	p.rand = brokenReader{}

	_, _, err := p.Provision(ctx, "bob@x.com")
	require.Error(t, err)

	_, err = store.GetSecret(ctx, "bob@x.com")
	assert.ErrorIs(t, err, dbhelper.ErrNotFound)
}

func TestCheckCodeSkewWindow(t *testing.T) {
	window := map[string]bool{}
	for _, step := range []int{-1, 0, 1} {
		at := t0.Add(time.Duration(step*30) * time.Second)
		code := codeAt(t, testSecret, at)
		window[code] = true
		assert.True(t, CheckCode(testSecret, code, t0), "step %d", step)
	}

	for _, step := range []int{-2, 2} {
		code := codeAt(t, testSecret, t0.Add(time.Duration(step*30)*time.Second))
		if window[code] {
			continue
		}
		assert.False(t, CheckCode(testSecret, code, t0), "step %d", step)
	}
}

func TestCheckCodeFailsClosed(t *testing.T) {
	good := codeAt(t, testSecret, t0)

	assert.False(t, CheckCode(testSecret, "", t0))
	assert.False(t, CheckCode(testSecret, good[:5], t0))
	assert.False(t, CheckCode(testSecret, good+"0", t0))
	assert.False(t, CheckCode("", good, t0))
	assert.NotPanics(t, func() {
		assert.False(t, CheckCode("not-base32-!!", good, t0))
	})
}

func TestCheckCodeAcceptsLowercaseSecret(t *testing.T) {
	good := codeAt(t, testSecret, t0)
	assert.True(t, CheckCode(strings.ToLower(testSecret), good, t0))
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	store := dbhelper.NewMemoryStore()
	v := NewVerifier(store)

	_, err := v.Verify(ctx, "bob@x.com", "123456", t0)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, _, err = store.GetOrCreateSecret(ctx, "bob@x.com", func() (string, error) { return testSecret, nil })
	require.NoError(t, err)

	ok, err := v.Verify(ctx, "bob@x.com", codeAt(t, testSecret, t0), t0)
	require.NoError(t, err)
	assert.True(t, ok)

	enabled, err := v.Enabled(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.False(t, enabled, "plain verification does not enroll")

	ok, err = v.VerifyAndEnable(ctx, "bob@x.com", "abcdef", t0)
	require.NoError(t, err)
	assert.False(t, ok)
	enabled, err = v.Enabled(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.False(t, enabled)

	ok, err = v.VerifyAndEnable(ctx, "bob@x.com", codeAt(t, testSecret, t0), t0)
	require.NoError(t, err)
	assert.True(t, ok)
	enabled, err = v.Enabled(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = v.Enabled(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestVerifierMalformedStoredSecret(t *testing.T) {
	ctx := context.Background()
	store := dbhelper.NewMemoryStore()
	_, _, err := store.GetOrCreateSecret(ctx, "bob@x.com", func() (string, error) { return "%%%%", nil })
	require.NoError(t, err)

	ok, err := NewVerifier(store).Verify(ctx, "bob@x.com", "123456", t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

type faultySecrets struct {
	dbhelper.SecretStore
	err error
}

func (f faultySecrets) GetSecret(context.Context, string) (models.TotpSecret, error) {
	return models.TotpSecret{}, f.err
}

func TestVerifierStoreFault(t *testing.T) {
	boom := errors.New("io error")
	_, err := NewVerifier(faultySecrets{err: boom}).Verify(context.Background(), "bob@x.com", "123456", t0)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoSecret)
}

func TestRenderQRCode(t *testing.T) {
	dataURL, err := RenderQRCode(ProvisioningURI("AlatBayar", "bob@x.com", testSecret))
	require.NoError(t, err)

	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(dataURL, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, qrSize, img.Bounds().Dx())
}
