package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/database"
	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/models"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Bootstrap(context.Background(), db, nil))
	return db
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(config.AuthConfig{JWTSecret: "s3cret", AccessExpiry: 1}, nil)
	tok, err := svc.Generate(7, "ana@example.com", []string{"admin"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	claims, err := svc.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	other := NewJWTService(config.AuthConfig{JWTSecret: "other"}, nil)
	_, err = other.ValidateToken(tok.AccessToken)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	svc := NewJWTService(config.AuthConfig{JWTSecret: "s3cret", AccessExpiry: 1}, nil)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := svc.Generate(1, "a@b.c", nil)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(tok.AccessToken)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestCapabilities(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	perms := NewPermissionService(db, nil)
	require.NoError(t, perms.SeedCapabilities(ctx))
	require.NoError(t, perms.SeedCapabilities(ctx))

	require.NoError(t, db.Create(&models.Role{Name: "editor"}).Error)
	admin, err := CreateUser(ctx, db, "Root@Example.com", "Root", "secret1", []string{AdminRole})
	require.NoError(t, err)
	editor, err := CreateUser(ctx, db, "ed@example.com", "Ed", "secret1", []string{"editor"})
	require.NoError(t, err)
	nobody, err := CreateUser(ctx, db, "no@example.com", "No", "secret1", nil)
	require.NoError(t, err)

	ok, err := perms.Can(ctx, admin.ID, CapModulesManage)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = perms.Can(ctx, editor.ID, CapModelsWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	role, err := perms.AssignPermissions(ctx, "editor", []string{CapModelsWrite, "reports.view"})
	require.NoError(t, err)
	assert.Len(t, role.Permissions, 2)

	ok, err = perms.Can(ctx, editor.ID, CapModelsWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = perms.Can(ctx, nobody.ID, CapChatUse)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	_, err := CreateUser(ctx, db, "ana@example.com", "Ana", "secret1", nil)
	require.NoError(t, err)

	user, err := Authenticate(ctx, db, "ANA@example.com", "secret1")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLoginAt)

	_, err = Authenticate(ctx, db, "ana@example.com", "nope")
	status, _ := apperrors.ToHTTPError(err)
	assert.Equal(t, 401, status)

	_, err = CreateUser(ctx, db, "ana@example.com", "Ana", "secret1", nil)
	status, _ = apperrors.ToHTTPError(err)
	assert.Equal(t, 409, status)
}
