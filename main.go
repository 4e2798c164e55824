package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/config"
)

// Flags shared by the subcommands. Empty means "use the environment".
var (
	addrFlag  string
	storeFlag string
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "secureapp",
		Short:         "Login, registration and TOTP two-factor API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&storeFlag, "store", "", "store driver: mysql, memory or file")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	return cmd
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the MySQL tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.StoreDriver != config.StoreMySQL {
				logger.Info("nothing to migrate", zap.String("store", cfg.StoreDriver))
				return nil
			}
			_, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations applied")
			return closeStore()
		},
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(func(c *config.Config) {
		if addrFlag != "" {
			c.HTTPAddr = addrFlag
		}
		if storeFlag != "" {
			c.StoreDriver = storeFlag
		}
	})
}

// newLogger builds a JSON logger, or a console one in development. LOG_FILE
// adds a file sink next to stderr.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogFile != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.LogFile)
		zcfg.ErrorOutputPaths = append(zcfg.ErrorOutputPaths, cfg.LogFile)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
