package utils

import "time"

// environment variables
const (
	EnvAppEnv             = "APP_ENV"
	EnvHTTPAddr           = "HTTP_ADDR"
	EnvLogFile            = "LOG_FILE"
	EnvStoreDriver        = "STORE_DRIVER"
	EnvStoreFile          = "STORE_FILE"
	EnvDBUser             = "DBUSER"
	EnvDBPass             = "DBPASS"
	EnvDBHost             = "DBHOST"
	EnvDBName             = "DBNAME"
	EnvDBConnectRetries   = "DB_CONNECT_RETRIES"
	EnvLoginMaxAttempts   = "LOGIN_MAX_ATTEMPTS"
	EnvLoginLockout       = "LOGIN_LOCKOUT"
	EnvTOTPIssuer         = "TOTP_ISSUER"
	EnvAdminEmails        = "ADMIN_EMAILS"
	EnvPasswordHashing    = "PASSWORD_HASHING"
	EnvSeedDemoUsers      = "SEED_DEMO_USERS"
	EnvFederatedSecret    = "FEDERATED_JWT_SECRET"
	EnvFederatedSecretOld = "FEDERATED_JWT_SECRET_OLD"
	EnvFederatedAudience  = "FEDERATED_AUDIENCE"
	EnvFederatedIssuer    = "FEDERATED_ISSUER"
	EnvRateLimitRPS       = "RATE_LIMIT_RPS"
	EnvTrustedProxies     = "RATE_LIMIT_TRUSTED_PROXIES"
	EnvStaticDir          = "STATIC_DIR"
)

// error messages
const (
	GenericSignupError        = "We had some trouble signing you up. Please try again!"
	EmailTakenSignupError     = "User already exists!"
	MissingFieldsError        = "Please fill all fields"
	GenericLoginError         = "We had some trouble logging you in. Please try again!"
	InvalidCredentialsError   = "Invalid credentials"
	InvalidTokenError         = "Invalid verification code"
	EmailRequiredError        = "Email is required"
	EmailAndTokenRequired     = "Email and token are required"
	NoTwoFactorSetupError     = "No 2FA setup for this user"
	GenerateQRCodeError       = "Failed to generate QR code"
	VerificationFailedError   = "Verification failed"
	FederatedLoginError       = "Authentication failed. Please try again."
	FederatedDisabledError    = "Federated login is not configured"
	GenericRateLimitError     = "Too many requests. Please slow down."
	RegistrationSuccessStatus = "Registration successful! Please login."
)

// login throttling defaults
const (
	DefaultMaxLoginAttempts = 5
	DefaultLoginBanDuration = 30 * time.Second
)

// DefaultAdminEmail is the whole default admin allow-list.
const DefaultAdminEmail = "admin@admin.com"

// two-factor defaults
const (
	DefaultTOTPIssuer = "AlatBayar"
	TOTPDigits        = 6
	TOTPPeriod        = 30
	TOTPSecretBytes   = 20
)

// DefaultFederatedName is used when the identity provider supplies no name.
const DefaultFederatedName = "Google User"
