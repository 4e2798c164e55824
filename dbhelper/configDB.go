package dbhelper

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/secureapp/apiv1/models"
)

const connectBackoff = 500 * time.Millisecond

// OpenDB connects to MySQL, retrying with exponential backoff while the
// server is unreachable.
func OpenDB(ctx context.Context, dsn string, retries int, logger *zap.Logger) (*gorm.DB, error) {
	if retries < 0 {
		retries = 0
	}
	var db *gorm.DB
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(connectBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		db, err = gorm.Open(mysql.Open(dsn), gormConfig())
		if err != nil {
			logger.Warn("database not reachable", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// InitDB creates or migrates the tables.
func InitDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.LoginAttempts{},
		&models.TotpSecret{},
	)
}

// Single-statement writes are atomic on their own; multi-statement updates
// open explicit transactions.
func gormConfig() *gorm.Config {
	return &gorm.Config{SkipDefaultTransaction: true}
}
