// Package metrics holds the Prometheus counters for authentication events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultAdmitted           = "admitted"
	ResultPendingTwoFactor   = "pending_second_factor"
	ResultInvalidCredentials = "invalid_credentials"
	ResultLocked             = "locked"
	ResultAuthenticated      = "authenticated"
	ResultInvalidToken       = "invalid_token"
	ResultCreated            = "created"
	ResultConflict           = "conflict"
	ResultError              = "error"
)

// Method labels for logins.
const (
	MethodPassword  = "password"
	MethodFederated = "federated"
)

// Logins counts login attempts by method and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var Logins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "secureapp_logins_total",
		Help: "Total number of login attempts by method and result",
	},
	[]string{"method", "result"},
)

// Lockouts counts lockouts started by the login throttle.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "secureapp_login_lockouts_total",
		Help: "Total number of login lockouts started",
	},
)

// Registrations counts registration attempts by result.
var Registrations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "secureapp_registrations_total",
		Help: "Total number of registration attempts by result",
	},
	[]string{"result"},
)

// TwoFactorVerifications counts TOTP checks by result.
var TwoFactorVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "secureapp_twofactor_verifications_total",
		Help: "Total number of TOTP verifications by result",
	},
	[]string{"result"},
)

// TwoFactorProvisions counts provisioning requests, split by whether a new
// secret was issued.
var TwoFactorProvisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "secureapp_twofactor_provisions_total",
		Help: "Total number of TOTP provisioning requests",
	},
	[]string{"new_secret"},
)

// RegisterMetrics registers the package counters with reg. Panics if
// registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(Lockouts)
	reg.MustRegister(Registrations)
	reg.MustRegister(TwoFactorVerifications)
	reg.MustRegister(TwoFactorProvisions)
}

func RecordLogin(method, result string) {
	Logins.WithLabelValues(method, result).Inc()
}

func RecordLockout() {
	Lockouts.Inc()
}

func RecordRegistration(result string) {
	Registrations.WithLabelValues(result).Inc()
}

func RecordTwoFactorVerification(result string) {
	TwoFactorVerifications.WithLabelValues(result).Inc()
}

func RecordTwoFactorProvision(newSecret bool) {
	label := "false"
	if newSecret {
		label = "true"
	}
	TwoFactorProvisions.WithLabelValues(label).Inc()
}
