package registry

import (
	"github.com/aethra/lowcode/internal/meta"
)

func sysOptions(table string) meta.Options {
	return meta.Options{"tableName": table, "underscored": true, "timestamps": true}
}

func required(name string, t meta.FieldType) meta.Field {
	return meta.Field{Name: name, Type: t, AllowNull: meta.BoolPtr(false)}
}

func pk() meta.Field {
	return meta.Field{Name: "id", Type: meta.TypeInteger, PrimaryKey: true, AutoIncrement: true}
}

// Builtin returns the system models backing the sys_* tables, so roles,
// permissions, menus and systems are reachable through the dynamic CRUD
// resolver like any generated model.
func Builtin() []meta.Model {
	return []meta.Model{
		{
			Name: "role", ClassName: "Role", TableName: "sys_roles", IsSystem: true,
			Definition: meta.Definition{
				Fields: []meta.Field{
					pk(),
					required("name", meta.TypeString),
					{Name: "description", Type: meta.TypeText},
					{Name: "is_system", Type: meta.TypeBoolean},
				},
				Options: sysOptions("sys_roles"),
			},
		},
		{
			Name: "permission", ClassName: "Permission", TableName: "sys_permissions", IsSystem: true,
			Definition: meta.Definition{
				Fields: []meta.Field{
					pk(),
					required("name", meta.TypeString),
					{Name: "description", Type: meta.TypeText},
				},
				Options: sysOptions("sys_permissions"),
			},
		},
		{
			Name: "menu", ClassName: "Menu", TableName: "sys_menus", IsSystem: true,
			Definition: meta.Definition{
				Fields: []meta.Field{
					pk(),
					required("name", meta.TypeString),
					{Name: "title", Type: meta.TypeString},
					{Name: "icon", Type: meta.TypeString},
					{Name: "sort_order", Type: meta.TypeInteger},
					{Name: "active", Type: meta.TypeBoolean},
					{Name: "is_system", Type: meta.TypeBoolean},
				},
				Associations: []meta.Association{
					{Type: meta.HasMany, Target: "MenuItem", ForeignKey: "menu_id", As: "items"},
				},
				Options: sysOptions("sys_menus"),
			},
		},
		{
			Name: "menuitem", ClassName: "MenuItem", TableName: "sys_menu_items", IsSystem: true,
			Definition: meta.Definition{
				Fields: []meta.Field{
					pk(),
					required("menu_id", meta.TypeInteger),
					{Name: "parent_id", Type: meta.TypeInteger},
					required("title", meta.TypeString),
					{Name: "icon", Type: meta.TypeString},
					{Name: "route", Type: meta.TypeString},
					{Name: "crud_name", Type: meta.TypeString},
					{Name: "sort_order", Type: meta.TypeInteger},
					{Name: "active", Type: meta.TypeBoolean},
				},
				Associations: []meta.Association{
					{Type: meta.BelongsTo, Target: "Menu", ForeignKey: "menu_id", As: "menu"},
				},
				Options: sysOptions("sys_menu_items"),
			},
		},
		{
			Name: "system", ClassName: "System", TableName: "sys_systems", IsSystem: true,
			Definition: meta.Definition{
				Fields: []meta.Field{
					pk(),
					required("name", meta.TypeString),
					{Name: "title", Type: meta.TypeString},
					{Name: "description", Type: meta.TypeText},
					{Name: "active", Type: meta.TypeBoolean},
				},
				Options: sysOptions("sys_systems"),
			},
		},
	}
}
