package database

import (
	"context"
	"strings"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// UserDirectory resolves account identities
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// FindIDByEmail returns the numeric id of the account with email
func (d *UserDirectory) FindIDByEmail(ctx context.Context, email string) (uint, error) {
	var user models.User
	err := d.db.WithContext(ctx).
		Select("id").
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		return 0, storeError(err, "user %s", email)
	}
	return user.ID, nil
}

// FindEmailByID returns the email of the account with id
func (d *UserDirectory) FindEmailByID(ctx context.Context, id uint) (string, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Select("email").First(&user, id).Error; err != nil {
		return "", storeError(err, "user %d", id)
	}
	return user.Email, nil
}
