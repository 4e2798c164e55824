package dbhelper

import (
	"context"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/secureapp/apiv1/models"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// Concurrent first writes for the same email race on the unique index, or
// deadlock on the gap locks InnoDB takes for the missing row. The loser
// re-runs its transaction and finds the winner's row.
var conflictBackoff = retry.WithMaxRetries(3, retry.NewExponential(10*time.Millisecond))

var _ Store = (*GormStore)(nil)

// GormStore keeps the collections in MySQL. Per-email atomicity comes from
// row locks taken with SELECT ... FOR UPDATE.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	result := s.db.WithContext(ctx).
		Raw("SELECT * FROM users WHERE email = ? AND deleted_at IS NULL LIMIT 1", email).
		Scan(&user)
	if result.Error != nil {
		return models.User{}, oops.Code("STORE_USER_LOOKUP_FAILED").With("email", email).Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *GormStore) Create(ctx context.Context, user models.User) error {
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return oops.Code("STORE_USER_CREATE_FAILED").With("email", user.Email).Wrap(err)
	}
	return nil
}

func (s *GormStore) CreateIfAbsent(ctx context.Context, user models.User) (models.User, bool, error) {
	existing, err := s.FindByEmail(ctx, user.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}
	err = s.Create(ctx, user)
	if errors.Is(err, ErrAlreadyExists) {
		existing, err = s.FindByEmail(ctx, user.Email)
		return existing, false, err
	}
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func (s *GormStore) GetAttempts(ctx context.Context, email string) (models.LoginAttempts, error) {
	var attempts models.LoginAttempts
	result := s.db.WithContext(ctx).
		Raw("SELECT * FROM login_attempts WHERE email = ? LIMIT 1", email).
		Scan(&attempts)
	if result.Error != nil {
		return models.LoginAttempts{}, oops.Code("STORE_ATTEMPTS_LOOKUP_FAILED").With("email", email).Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.LoginAttempts{}, ErrNotFound
	}
	return attempts, nil
}

func (s *GormStore) UpdateAttempts(ctx context.Context, email string, fn func(*models.LoginAttempts) error) (models.LoginAttempts, error) {
	var saved models.LoginAttempts
	err := retry.Do(ctx, conflictBackoff, func(ctx context.Context) error {
		attempts, err := s.updateAttemptsTx(ctx, email, fn)
		if isRetryableConflict(err) {
			return retry.RetryableError(err)
		}
		saved = attempts
		return err
	})
	if err != nil {
		return models.LoginAttempts{}, oops.Code("STORE_ATTEMPTS_UPDATE_FAILED").With("email", email).Wrap(err)
	}
	return saved, nil
}

func (s *GormStore) updateAttemptsTx(ctx context.Context, email string, fn func(*models.LoginAttempts) error) (models.LoginAttempts, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return models.LoginAttempts{}, tx.Error
	}
	defer tx.Rollback()

	var attempts models.LoginAttempts
	result := tx.Raw("SELECT * FROM login_attempts WHERE email = ? FOR UPDATE", email).Scan(&attempts)
	if result.Error != nil {
		return models.LoginAttempts{}, result.Error
	}
	if result.RowsAffected == 0 {
		attempts = models.LoginAttempts{Email: email}
	}
	if err := fn(&attempts); err != nil {
		return models.LoginAttempts{}, err
	}
	if err := tx.Save(&attempts).Error; err != nil {
		return models.LoginAttempts{}, err
	}
	if err := tx.Commit().Error; err != nil {
		return models.LoginAttempts{}, err
	}
	return attempts, nil
}

func (s *GormStore) GetSecret(ctx context.Context, email string) (models.TotpSecret, error) {
	var secret models.TotpSecret
	result := s.db.WithContext(ctx).
		Raw("SELECT * FROM totp_secrets WHERE email = ? AND deleted_at IS NULL LIMIT 1", email).
		Scan(&secret)
	if result.Error != nil {
		return models.TotpSecret{}, oops.Code("STORE_SECRET_LOOKUP_FAILED").With("email", email).Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.TotpSecret{}, ErrNotFound
	}
	return secret, nil
}

func (s *GormStore) GetOrCreateSecret(ctx context.Context, email string, generate func() (string, error)) (models.TotpSecret, bool, error) {
	secret, err := s.GetSecret(ctx, email)
	if err == nil {
		return secret, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.TotpSecret{}, false, err
	}

	value, err := generate()
	if err != nil {
		return models.TotpSecret{}, false, err
	}
	secret = models.TotpSecret{Email: email, Secret: value}
	if err := s.db.WithContext(ctx).Create(&secret).Error; err != nil {
		if isDuplicateKey(err) {
			// Another request provisioned first; keep its secret.
			existing, err := s.GetSecret(ctx, email)
			return existing, false, err
		}
		return models.TotpSecret{}, false, oops.Code("STORE_SECRET_CREATE_FAILED").With("email", email).Wrap(err)
	}
	return secret, true, nil
}

func (s *GormStore) SetSecretEnabled(ctx context.Context, email string, enabled bool) error {
	secret, err := s.GetSecret(ctx, email)
	if err != nil {
		return err
	}
	if secret.Enabled == enabled {
		return nil
	}
	err = s.db.WithContext(ctx).
		Model(&models.TotpSecret{}).
		Where("email = ?", email).
		Update("enabled", enabled).Error
	if err != nil {
		return oops.Code("STORE_SECRET_UPDATE_FAILED").With("email", email).Wrap(err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// isRetryableConflict reports errors after which re-running the whole
// transaction can succeed.
func isRetryableConflict(err error) bool {
	var mysqlErr *gomysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	switch mysqlErr.Number {
	case mysqlDuplicateEntry, mysqlDeadlockDetected, mysqlLockWaitTimeout:
		return true
	}
	return false
}
