// Package models - JSON column types
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONB is a JSON object column: jsonb on PostgreSQL, json on MySQL and
// text on SQLite.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}

	if len(data) == 0 {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// GormDataType reports the generic data type used by the schema parser
func (JSONB) GormDataType() string {
	return "json"
}

// GormDBDataType picks the column type per dialect
func (JSONB) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	}
	return "TEXT"
}

// Clone returns a shallow copy
func (j JSONB) Clone() JSONB {
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}
