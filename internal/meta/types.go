// Package meta holds the canonical model metadata shared by the generators,
// the schema registry and the dynamic CRUD engine.
package meta

import (
	"fmt"
	"strings"
)

// FieldType is one of the column types a model field may declare
type FieldType string

const (
	TypeString   FieldType = "STRING"
	TypeInteger  FieldType = "INTEGER"
	TypeBigInt   FieldType = "BIGINT"
	TypeFloat    FieldType = "FLOAT"
	TypeDouble   FieldType = "DOUBLE"
	TypeDecimal  FieldType = "DECIMAL"
	TypeBoolean  FieldType = "BOOLEAN"
	TypeDate     FieldType = "DATE"
	TypeDateOnly FieldType = "DATEONLY"
	TypeTime     FieldType = "TIME"
	TypeText     FieldType = "TEXT"
	TypeUUID     FieldType = "UUID"
	TypeJSON     FieldType = "JSON"
	TypeJSONB    FieldType = "JSONB"
	TypeEnum     FieldType = "ENUM"
	TypeBlob     FieldType = "BLOB"
	TypeGeometry FieldType = "GEOMETRY"
	TypeArray    FieldType = "ARRAY"
)

var fieldTypes = map[FieldType]bool{
	TypeString: true, TypeInteger: true, TypeBigInt: true, TypeFloat: true,
	TypeDouble: true, TypeDecimal: true, TypeBoolean: true, TypeDate: true,
	TypeDateOnly: true, TypeTime: true, TypeText: true, TypeUUID: true,
	TypeJSON: true, TypeJSONB: true, TypeEnum: true, TypeBlob: true,
	TypeGeometry: true, TypeArray: true,
}

// AssociationType is the kind of relation between two models
type AssociationType string

const (
	BelongsTo     AssociationType = "belongsTo"
	HasMany       AssociationType = "hasMany"
	HasOne        AssociationType = "hasOne"
	BelongsToMany AssociationType = "belongsToMany"
)

// Reference points a column at another table. Model is a table name.
type Reference struct {
	Model string `json:"model"`
	Key   string `json:"key,omitempty"`
}

// Field is a column of a model
type Field struct {
	Name          string      `json:"name"`
	Type          FieldType   `json:"type"`
	AllowNull     *bool       `json:"allowNull,omitempty"`
	PrimaryKey    bool        `json:"primaryKey,omitempty"`
	AutoIncrement bool        `json:"autoIncrement,omitempty"`
	Unique        bool        `json:"unique,omitempty"`
	DefaultValue  interface{} `json:"defaultValue,omitempty"`
	Values        []string    `json:"values,omitempty"`
	References    *Reference  `json:"references,omitempty"`
}

// Nullable reports whether the column accepts NULL; unset means yes.
func (f Field) Nullable() bool {
	if f.PrimaryKey {
		return false
	}
	return f.AllowNull == nil || *f.AllowNull
}

// IsText reports whether the field holds free text
func (f Field) IsText() bool {
	return f.Type == TypeString || f.Type == TypeText
}

// Association links a model to a target model class
type Association struct {
	Type       AssociationType `json:"type"`
	Target     string          `json:"target"`
	ForeignKey string          `json:"foreignKey,omitempty"`
	Through    string          `json:"through,omitempty"`
	OtherKey   string          `json:"otherKey,omitempty"`
	As         string          `json:"as,omitempty"`
}

// Options carries model options such as modelName and tableName
type Options map[string]interface{}

func (o Options) str(key string) string {
	if o == nil {
		return ""
	}
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ModelName returns options.modelName
func (o Options) ModelName() string { return o.str("modelName") }

// TableName returns options.tableName
func (o Options) TableName() string { return o.str("tableName") }

// Underscored reports whether timestamp columns are snake_case
func (o Options) Underscored() bool {
	if o == nil {
		return false
	}
	b, _ := o["underscored"].(bool)
	return b
}

// Timestamps reports whether the model carries created/updated columns; default yes.
func (o Options) Timestamps() bool {
	if o == nil {
		return true
	}
	if b, ok := o["timestamps"].(bool); ok {
		return b
	}
	return true
}

// Clone returns a shallow copy
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Definition is the structured body of a model definition
type Definition struct {
	Fields       []Field       `json:"fields"`
	Associations []Association `json:"associations"`
	Options      Options       `json:"options"`
}

// Model is a fully resolved model known to the system
type Model struct {
	Name       string     `json:"name"`
	ClassName  string     `json:"className"`
	TableName  string     `json:"tableName"`
	Module     string     `json:"module,omitempty"`
	IsSystem   bool       `json:"isSystem"`
	Definition Definition `json:"definition"`
}

// Field returns the named field, case-insensitively
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Definition.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKey returns the primary key column name, defaulting to id
func (m *Model) PrimaryKey() string {
	for _, f := range m.Definition.Fields {
		if f.PrimaryKey {
			return f.Name
		}
	}
	return "id"
}

// TimestampColumns returns the created/updated column names, or empty strings
// when the model has no timestamps.
func (m *Model) TimestampColumns() (string, string) {
	if !m.Definition.Options.Timestamps() {
		return "", ""
	}
	if m.Definition.Options.Underscored() {
		return "created_at", "updated_at"
	}
	return "createdAt", "updatedAt"
}

// Columns lists every physical column: primary key, fields and timestamps
func (m *Model) Columns() []string {
	pk := m.PrimaryKey()
	cols := []string{pk}
	for _, f := range m.Definition.Fields {
		if f.Name != pk {
			cols = append(cols, f.Name)
		}
	}
	created, updated := m.TimestampColumns()
	if created != "" {
		if _, ok := m.Field(created); !ok {
			cols = append(cols, created, updated)
		}
	}
	return cols
}

// HasColumn reports whether name is a physical column of the model
func (m *Model) HasColumn(name string) bool {
	for _, c := range m.Columns() {
		if c == name {
			return true
		}
	}
	return false
}

// Associations returns the associations of the given type
func (m *Model) Associations(kind AssociationType) []Association {
	var out []Association
	for _, a := range m.Definition.Associations {
		if a.Type == kind {
			out = append(out, a)
		}
	}
	return out
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool { return &b }
