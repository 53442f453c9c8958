// Package auth - Permission checking
package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aethra/lowcode/internal/models"
)

// Capabilities guarding the admin surface
const (
	CapModelsRead      = "models.read"
	CapModelsWrite     = "models.write"
	CapMigrationsRun   = "migrations.run"
	CapSeedersRun      = "seeders.run"
	CapModulesManage   = "modules.manage"
	CapFunctionsRead   = "functions.read"
	CapChatUse         = "chat.use"
	CapMCPUse          = "mcp.use"
	CapRegistryReload  = "registry.reload"
	CapPermissionsEdit = "permissions.edit"
)

// AdminRole is granted every capability
const AdminRole = "admin"

// Capabilities lists every capability seeded at bootstrap
var Capabilities = []string{
	CapModelsRead, CapModelsWrite, CapMigrationsRun, CapSeedersRun,
	CapModulesManage, CapFunctionsRead, CapChatUse, CapMCPUse, CapRegistryReload,
	CapPermissionsEdit,
}

// PermissionService answers capability checks from the role tables
type PermissionService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPermissionService creates a new permission service
func NewPermissionService(db *gorm.DB, logger *zap.Logger) *PermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{db: db, logger: logger}
}

// Can reports whether the user holds capability through any of their roles.
// Members of the admin role hold every capability.
func (s *PermissionService) Can(ctx context.Context, userID uint, capability string) (bool, error) {
	roles, err := s.Roles(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(roles) == 0 {
		return false, nil
	}
	for _, r := range roles {
		if strings.EqualFold(r, AdminRole) {
			return true, nil
		}
	}

	var count int64
	err = s.db.WithContext(ctx).
		Table("sys_role_permissions AS rp").
		Joins("JOIN sys_permissions p ON p.id = rp.permission_id").
		Joins("JOIN sys_user_roles ur ON ur.role_id = rp.role_id").
		Where("ur.user_id = ? AND p.name = ?", userID, capability).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("permission lookup failed: %w", err)
	}

	s.logger.Debug("capability check",
		zap.Uint("user", userID), zap.String("capability", capability), zap.Bool("granted", count > 0))
	return count > 0, nil
}

// Roles returns the role names of the user
func (s *PermissionService) Roles(ctx context.Context, userID uint) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Table("sys_roles AS r").
		Joins("JOIN sys_user_roles ur ON ur.role_id = r.id").
		Where("ur.user_id = ?", userID).
		Order("r.name").
		Pluck("r.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("role lookup failed: %w", err)
	}
	return names, nil
}

// AssignPermissions grants the named permissions to a role, creating any
// permission row that does not exist yet. Existing grants are kept.
func (s *PermissionService) AssignPermissions(ctx context.Context, roleName string, permissions []string) (*models.Role, error) {
	var role models.Role
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", roleName).First(&role).Error; err != nil {
			return err
		}

		perms := make([]models.Permission, 0, len(permissions))
		for _, name := range permissions {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			p := models.Permission{Name: name}
			if err := tx.Where(models.Permission{Name: name}).FirstOrCreate(&p).Error; err != nil {
				return err
			}
			perms = append(perms, p)
		}
		if len(perms) == 0 {
			return nil
		}
		return tx.Model(&role).Omit("Permissions.*").Association("Permissions").Append(perms)
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Preload("Permissions").First(&role, role.ID).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// SeedCapabilities ensures the admin role and every capability row exist
func (s *PermissionService) SeedCapabilities(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, name := range Capabilities {
		p := models.Permission{Name: name}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", name, err)
		}
	}
	admin := models.Role{Name: AdminRole, Description: "Full access", IsSystem: true}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to seed admin role: %w", err)
	}
	return nil
}
