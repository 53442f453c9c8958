// Package models contains the persisted system tables.
// Model definitions, CRUD interfaces, menus and the permission tables are all
// plain gorm models living in sys_* tables.
package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/aethra/lowcode/internal/meta"
)

// =============================================================================
// META-SCHEMA MODELS
// =============================================================================

// ModelDefinition is the stored copy of a <name>.model file
type ModelDefinition struct {
	ID         uint                                `json:"id" gorm:"primaryKey"`
	Name       string                              `json:"name" gorm:"uniqueIndex;not null;size:100"`
	ClassName  string                              `json:"className" gorm:"not null;size:100"`
	Definition datatypes.JSONType[meta.Definition] `json:"definition"`
	IsSystem   bool                                `json:"isSystem" gorm:"default:false"`
	Module     string                              `json:"module" gorm:"size:100;index"`
	CreatedAt  time.Time                           `json:"createdAt"`
	UpdatedAt  time.Time                           `json:"updatedAt"`
}

func (ModelDefinition) TableName() string { return "sys_model_definitions" }

// Model converts the row into resolved model metadata
func (d ModelDefinition) Model() meta.Model {
	def := d.Definition.Data()
	return meta.Model{
		Name:       d.Name,
		ClassName:  d.ClassName,
		TableName:  meta.ResolveTableName(d.ClassName, d.Module, def.Options),
		Module:     d.Module,
		IsSystem:   d.IsSystem,
		Definition: def,
	}
}

// NewModelDefinition builds a row from model metadata
func NewModelDefinition(name, className, module string, def meta.Definition) ModelDefinition {
	return ModelDefinition{
		Name:       name,
		ClassName:  className,
		Module:     module,
		Definition: datatypes.NewJSONType(def),
	}
}

// Crud is a named CRUD interface over a model
type Crud struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Title     string    `json:"title" gorm:"size:255"`
	Icon      string    `json:"icon" gorm:"size:50"`
	Resource  string    `json:"resource" gorm:"size:100"`
	Endpoint  string    `json:"endpoint" gorm:"size:255;index"`
	Config    JSONB     `json:"config"`
	Active    bool      `json:"active" gorm:"default:true"`
	IsSystem  bool      `json:"isSystem" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Crud) TableName() string { return "sys_cruds" }

// CrudRelation is one entry of config.relations
type CrudRelation struct {
	Type         string `json:"type"`
	ModelName    string `json:"modelName,omitempty"`
	Model        string `json:"model,omitempty"`
	Field        string `json:"field,omitempty"`
	ForeignKey   string `json:"foreignKey,omitempty"`
	PayloadField string `json:"payloadField,omitempty"`
	As           string `json:"as,omitempty"`
}

// Relations decodes config.relations
func (c Crud) Relations() []CrudRelation {
	var out []CrudRelation
	raw, _ := c.Config["relations"].([]interface{})
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, CrudRelation{
			Type:         str(m["type"]),
			ModelName:    str(m["modelName"]),
			Model:        str(m["model"]),
			Field:        str(m["field"]),
			ForeignKey:   str(m["foreignKey"]),
			PayloadField: str(m["payloadField"]),
			As:           str(m["as"]),
		})
	}
	return out
}

// SearchFields returns config.searchFields when set
func (c Crud) SearchFields() []string {
	var out []string
	raw, _ := c.Config["searchFields"].([]interface{})
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Function records a callable registered through the chat surface
type Function struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Description string    `json:"description"`
	Controller  string    `json:"controller" gorm:"size:100"`
	Method      string    `json:"method" gorm:"size:100"`
	InputSchema JSONB     `json:"inputSchema"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Function) TableName() string { return "sys_functions" }

// =============================================================================
// UI MODELS
// =============================================================================

// Menu is a navigation menu
type Menu struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Title     string     `json:"title" gorm:"size:255"`
	Icon      string     `json:"icon" gorm:"size:50"`
	Order     int        `json:"order" gorm:"column:sort_order;default:0"`
	Active    bool       `json:"active" gorm:"default:true"`
	IsSystem  bool       `json:"is_system" gorm:"default:false"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Items     []MenuItem `json:"items,omitempty" gorm:"foreignKey:MenuID"`
}

func (Menu) TableName() string { return "sys_menus" }

// MenuItem is an entry of a menu, optionally pointing at a Crud
type MenuItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	MenuID    uint      `json:"menu_id" gorm:"index"`
	ParentID  *uint     `json:"parent_id"`
	Title     string    `json:"title" gorm:"not null;size:255"`
	Icon      string    `json:"icon" gorm:"size:50"`
	Route     string    `json:"route" gorm:"size:255"`
	CrudName  string    `json:"crud_name" gorm:"size:100"`
	Order     int       `json:"order" gorm:"column:sort_order;default:0"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MenuItem) TableName() string { return "sys_menu_items" }

// =============================================================================
// PERMISSION MODELS
// =============================================================================

// User is a login account
type User struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Name         string     `json:"name" gorm:"size:255"`
	PasswordHash string     `json:"-" gorm:"size:255"`
	Active       bool       `json:"active" gorm:"default:true"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Roles        []Role     `json:"roles,omitempty" gorm:"many2many:sys_user_roles"`
}

func (User) TableName() string { return "sys_users" }

// Role groups permissions
type Role struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Description string       `json:"description"`
	IsSystem    bool         `json:"is_system" gorm:"default:false"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:sys_role_permissions"`
}

func (Role) TableName() string { return "sys_roles" }

// Permission is a named capability such as "models.write"
type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Permission) TableName() string { return "sys_permissions" }

// System is an installed application grouping modules
type System struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Title       string    `json:"title" gorm:"size:255"`
	Description string    `json:"description"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (System) TableName() string { return "sys_systems" }

// All lists every system table in migration order
func All() []interface{} {
	return []interface{}{
		&ModelDefinition{},
		&Crud{},
		&Function{},
		&Menu{},
		&MenuItem{},
		&Permission{},
		&Role{},
		&User{},
		&System{},
	}
}
