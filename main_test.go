package main

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/auth"
	"github.com/secureapp/apiv1/config"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("addr"))
	assert.NotNil(t, root.PersistentFlags().Lookup("store"))
}

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.txt")
	logger, err := newLogger(config.Config{Environment: "development", LogFile: path})
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	logger.Info("hello from test")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello from test")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	store, closeStore, err := openStore(ctx, config.Config{StoreDriver: config.StoreMemory}, logger)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.NoError(t, closeStore())

	path := filepath.Join(t.TempDir(), "secrets.json")
	store, closeStore, err = openStore(ctx, config.Config{StoreDriver: config.StoreFile, StoreFile: path}, logger)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.NoError(t, closeStore())

	_, _, err = openStore(ctx, config.Config{StoreDriver: "bolt"}, logger)
	assert.Error(t, err)
}

func TestBuildDepsSeedsDemoUsers(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	cfg := config.Config{
		StoreDriver:      config.StoreMemory,
		MaxLoginAttempts: 5,
		LoginLockout:     30 * time.Second,
		PasswordHashing:  "plain",
		AdminEmails:      []string{"admin@admin.com"},
		SeedDemoUsers:    true,
		TOTPIssuer:       "AlatBayar",
		FederatedSecret:  base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
	}
	store, _, err := openStore(ctx, cfg, logger)
	require.NoError(t, err)

	deps, err := buildDeps(ctx, cfg, store, logger)
	require.NoError(t, err)
	require.NotNil(t, deps.Auth)
	assert.Equal(t, "AlatBayar", deps.Provisioner.Issuer())

	out, err := deps.Auth.Login(ctx, "admin@admin.com", "admin", time.Now())
	require.NoError(t, err)
	assert.Equal(t, auth.Outcome{Result: auth.Admitted, Destination: auth.DestinationAdmin}, out)

	out, err = deps.Auth.Login(ctx, "user@user.com", "user", time.Now())
	require.NoError(t, err)
	assert.Equal(t, auth.DestinationHome, out.Destination)
}

func TestBuildDepsRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	store, _, err := openStore(ctx, config.Config{StoreDriver: config.StoreMemory}, zap.NewNop())
	require.NoError(t, err)

	_, err = buildDeps(ctx, config.Config{PasswordHashing: "md5"}, store, zap.NewNop())
	assert.Error(t, err)

	_, err = buildDeps(ctx, config.Config{FederatedSecret: "!!!"}, store, zap.NewNop())
	assert.Error(t, err)
}
