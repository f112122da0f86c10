package models

import "time"

// Account holds the OAuth credentials for one connected mailbox.
// The login/consent flow that populates it lives in the web app; the
// worker only reads tokens and writes refreshed ones back.
type Account struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	UserID               string     `gorm:"column:user_id;index"`
	Provider             string     `gorm:"column:provider"`
	Email                string     `gorm:"column:email"`
	AccessToken          *string    `gorm:"column:access_token"`
	RefreshToken         *string    `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "account"
}
