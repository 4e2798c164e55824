package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/secureapp/apiv1/utils"
)

// Store drivers.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
	StoreFile   = "file"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPAddr    string
	LogFile     string

	StoreDriver      string
	StoreFile        string
	DBUser           string
	DBPass           string
	DBHost           string
	DBName           string
	DBConnectRetries int

	MaxLoginAttempts int
	LoginLockout     time.Duration
	PasswordHashing  string
	AdminEmails      []string
	SeedDemoUsers    bool

	TOTPIssuer string

	FederatedSecret    string
	FederatedSecretOld string
	FederatedAudience  string
	FederatedIssuer    string

	RateLimitRPS   float64
	TrustedProxies int // proxies appending to X-Forwarded-For; 0 trusts none
	StaticDir      string
}

// Load reads .env (when present) and the process environment. Overrides run
// before validation, so command-line flags can fill in what the environment
// lacks.
func Load(overrides ...func(*Config)) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Environment:        getEnv(utils.EnvAppEnv, "production"),
		HTTPAddr:           getEnv(utils.EnvHTTPAddr, ":5005"),
		LogFile:            os.Getenv(utils.EnvLogFile),
		StoreDriver:        getEnv(utils.EnvStoreDriver, StoreMySQL),
		StoreFile:          getEnv(utils.EnvStoreFile, "secrets.json"),
		DBUser:             os.Getenv(utils.EnvDBUser),
		DBPass:             os.Getenv(utils.EnvDBPass),
		DBHost:             getEnv(utils.EnvDBHost, "127.0.0.1:3306"),
		DBName:             os.Getenv(utils.EnvDBName),
		DBConnectRetries:   getInt(utils.EnvDBConnectRetries, 5),
		MaxLoginAttempts:   getInt(utils.EnvLoginMaxAttempts, utils.DefaultMaxLoginAttempts),
		LoginLockout:       getDuration(utils.EnvLoginLockout, utils.DefaultLoginBanDuration),
		PasswordHashing:    getEnv(utils.EnvPasswordHashing, "bcrypt"),
		AdminEmails:        getList(utils.EnvAdminEmails, []string{utils.DefaultAdminEmail}),
		SeedDemoUsers:      getBool(utils.EnvSeedDemoUsers, false),
		TOTPIssuer:         getEnv(utils.EnvTOTPIssuer, utils.DefaultTOTPIssuer),
		FederatedSecret:    os.Getenv(utils.EnvFederatedSecret),
		FederatedSecretOld: os.Getenv(utils.EnvFederatedSecretOld),
		FederatedAudience:  os.Getenv(utils.EnvFederatedAudience),
		FederatedIssuer:    os.Getenv(utils.EnvFederatedIssuer),
		RateLimitRPS:       getFloat(utils.EnvRateLimitRPS, 5),
		TrustedProxies:     getInt(utils.EnvTrustedProxies, 0),
		StaticDir:          os.Getenv(utils.EnvStaticDir),
	}

	for _, override := range overrides {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMySQL:
		if c.DBName == "" {
			return fmt.Errorf("%s is required for the %s store", utils.EnvDBName, StoreMySQL)
		}
	case StoreFile:
		if c.StoreFile == "" {
			return fmt.Errorf("%s is required for the %s store", utils.EnvStoreFile, StoreFile)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", utils.EnvLoginMaxAttempts)
	}
	if c.LoginLockout <= 0 {
		return fmt.Errorf("%s must be positive", utils.EnvLoginLockout)
	}
	if c.TrustedProxies < 0 {
		return fmt.Errorf("%s must not be negative", utils.EnvTrustedProxies)
	}
	return nil
}

// MySQLDSN builds the gorm MySQL data source name.
func (c Config) MySQLDSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPass, c.DBHost, c.DBName,
	)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
