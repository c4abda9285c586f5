package accountstore

import (
	"time"

	"github.com/ofn-labs/authcore"
)

// accountModel is the accounts table row.
type accountModel struct {
	ID              string     `gorm:"type:varchar(36);primaryKey"`
	Email           string     `gorm:"type:varchar(254);not null"`
	EmailNormalized string     `gorm:"type:varchar(254);not null;uniqueIndex"`
	PasswordHash    string     `gorm:"type:text;not null"`
	Status          uint8      `gorm:"not null;default:0"`
	ConfirmedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (accountModel) TableName() string {
	return "accounts"
}

func (m *accountModel) toAccount() authcore.Account {
	return authcore.Account{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Status:       authcore.AccountStatus(m.Status),
		CreatedAt:    m.CreatedAt.UTC(),
		ConfirmedAt:  m.ConfirmedAt,
	}
}
