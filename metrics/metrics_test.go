package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { RegisterMetrics(reg) })
	assert.Panics(t, func() { RegisterMetrics(reg) }, "double registration panics")
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(Logins.WithLabelValues(MethodPassword, ResultLocked))
	RecordLogin(MethodPassword, ResultLocked)
	assert.Equal(t, before+1, testutil.ToFloat64(Logins.WithLabelValues(MethodPassword, ResultLocked)))

	before = testutil.ToFloat64(Lockouts)
	RecordLockout()
	assert.Equal(t, before+1, testutil.ToFloat64(Lockouts))

	before = testutil.ToFloat64(Registrations.WithLabelValues(ResultConflict))
	RecordRegistration(ResultConflict)
	assert.Equal(t, before+1, testutil.ToFloat64(Registrations.WithLabelValues(ResultConflict)))

	before = testutil.ToFloat64(TwoFactorVerifications.WithLabelValues(ResultInvalidToken))
	RecordTwoFactorVerification(ResultInvalidToken)
	assert.Equal(t, before+1, testutil.ToFloat64(TwoFactorVerifications.WithLabelValues(ResultInvalidToken)))

	before = testutil.ToFloat64(TwoFactorProvisions.WithLabelValues("true"))
	RecordTwoFactorProvision(true)
	assert.Equal(t, before+1, testutil.ToFloat64(TwoFactorProvisions.WithLabelValues("true")))
}
