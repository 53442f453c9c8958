package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/models"
)

// Authenticate checks the credentials and returns the user with its roles
func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Preload("Roles").
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewUnauthorizedError("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || !CheckPassword(password, user.PasswordHash) {
		return nil, apperrors.NewUnauthorizedError("invalid credentials")
	}

	now := time.Now()
	db.WithContext(ctx).Model(&user).UpdateColumn("last_login_at", now)
	user.LastLoginAt = &now
	return &user, nil
}

// CreateUser stores a new active user and attaches the named roles
func CreateUser(ctx context.Context, db *gorm.DB, email, name, password string, roles []string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.NewValidationError("email", "email is required")
	}
	if len(password) < 6 {
		return nil, apperrors.NewValidationError("password", "password must have at least 6 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{Email: email, Name: name, PasswordHash: hash, Active: true}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.NewConflictError("user " + email)
			}
			return err
		}
		if len(roles) == 0 {
			return nil
		}
		var found []models.Role
		if err := tx.Where("name IN ?", roles).Find(&found).Error; err != nil {
			return err
		}
		if len(found) != len(roles) {
			return apperrors.NewValidationError("roles", fmt.Sprintf("unknown role in %v", roles))
		}
		return tx.Model(&user).Omit("Roles.*").Association("Roles").Append(found)
	})
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &user, nil
}

// RoleNames returns the names of the user's loaded roles
func RoleNames(user *models.User) []string {
	out := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		out = append(out, r.Name)
	}
	return out
}
