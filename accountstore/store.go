package accountstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ofn-labs/authcore"
	"github.com/samber/oops"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store implements authcore.AccountProvider.
type Store struct {
	db *gorm.DB
}

var _ authcore.AccountProvider = (*Store)(nil)

// Open connects to dsn and migrates the accounts table.
func Open(dsn string) (*Store, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "open account database").Wrap(err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the accounts table. The
// connection should be opened with TranslateError so that unique violations
// are recognized.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&accountModel{}); err != nil {
		return nil, oops.Code("MIGRATION_FAILED").With("operation", "migrate accounts").Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (authcore.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where("email_normalized = ?", normalize(email)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authcore.Account{}, authcore.ErrAccountNotFound
		}
		return authcore.Account{}, err
	}
	return m.toAccount(), nil
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (authcore.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authcore.Account{}, authcore.ErrAccountNotFound
		}
		return authcore.Account{}, err
	}
	return m.toAccount(), nil
}

// CreateAccount inserts an unconfirmed account with a fresh UUID.
func (s *Store) CreateAccount(ctx context.Context, input authcore.CreateAccountInput) (authcore.Account, error) {
	m := accountModel{
		ID:              uuid.NewString(),
		Email:           strings.TrimSpace(input.Email),
		EmailNormalized: normalize(input.Email),
		PasswordHash:    input.PasswordHash,
		Status:          uint8(authcore.AccountUnconfirmed),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return authcore.Account{}, authcore.ErrDuplicate
		}
		return authcore.Account{}, err
	}
	return m.toAccount(), nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"password_hash": passwordHash,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return authcore.ErrAccountNotFound
	}
	return nil
}

// MarkConfirmed moves an account to confirmed. Confirming twice keeps the
// first ConfirmedAt.
func (s *Store) MarkConfirmed(ctx context.Context, accountID string, at time.Time) (authcore.Account, error) {
	var out authcore.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&accountModel{}).
			Where("id = ? AND status = ?", accountID, uint8(authcore.AccountUnconfirmed)).
			Updates(map[string]interface{}{
				"status":       uint8(authcore.AccountConfirmed),
				"confirmed_at": at.UTC(),
				"updated_at":   time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}

		var m accountModel
		if err := tx.Where("id = ?", accountID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return authcore.ErrAccountNotFound
			}
			return err
		}
		out = m.toAccount()
		return nil
	})
	if err != nil {
		return authcore.Account{}, err
	}
	return out, nil
}

// DeleteAccount removes the row outright so the email can be registered
// again. Deleting a missing account is not an error.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Delete(&accountModel{}, "id = ?", accountID).Error
}
