package migration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/aethra/lowcode/internal/meta"
)

// Dialect selects the SQL flavour generated files are written in
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name to a Dialect, defaulting to Postgres
func ParseDialect(name string) Dialect {
	switch strings.ToLower(name) {
	case "mysql":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	}
	return Postgres
}

// Quote quotes an identifier
func (d Dialect) Quote(ident string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return pq.QuoteIdentifier(ident)
}

// StringLiteral quotes a string value
func (d Dialect) StringLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if d == MySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + s + "'"
}

// Literal renders a Go value as an SQL literal
func (d Dialect) Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return d.StringLiteral(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return d.StringLiteral(fmt.Sprint(val))
		}
		return d.StringLiteral(string(b))
	}
}

// DefaultExpr renders a column default. Well-known SQL keywords pass
// through unquoted.
func (d Dialect) DefaultExpr(v interface{}) string {
	if s, ok := v.(string); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "NOW", "NOW()", "CURRENT_TIMESTAMP":
			return "CURRENT_TIMESTAMP"
		case "CURRENT_DATE", "CURRENT_TIME":
			return strings.ToUpper(strings.TrimSpace(s))
		}
	}
	return d.Literal(v)
}

// ColumnType maps a field to the column type of the dialect
func (d Dialect) ColumnType(f meta.Field) string {
	switch f.Type {
	case meta.TypeString:
		return "VARCHAR(255)"
	case meta.TypeInteger:
		return "INTEGER"
	case meta.TypeBigInt:
		return "BIGINT"
	case meta.TypeFloat:
		if d == MySQL {
			return "FLOAT"
		}
		return "REAL"
	case meta.TypeDouble:
		if d == MySQL {
			return "DOUBLE"
		}
		return "DOUBLE PRECISION"
	case meta.TypeDecimal:
		return "DECIMAL(15,2)"
	case meta.TypeBoolean:
		if d == MySQL {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case meta.TypeDate:
		return d.timestampType()
	case meta.TypeDateOnly:
		return "DATE"
	case meta.TypeTime:
		return "TIME"
	case meta.TypeText:
		return "TEXT"
	case meta.TypeUUID:
		switch d {
		case MySQL:
			return "CHAR(36)"
		case SQLite:
			return "TEXT"
		}
		return "UUID"
	case meta.TypeJSON:
		if d == SQLite {
			return "TEXT"
		}
		return "JSON"
	case meta.TypeJSONB:
		switch d {
		case MySQL:
			return "JSON"
		case SQLite:
			return "TEXT"
		}
		return "JSONB"
	case meta.TypeEnum:
		if d == MySQL {
			values := enumValues(f)
			quoted := make([]string, len(values))
			for i, v := range values {
				quoted[i] = d.StringLiteral(v)
			}
			return "ENUM(" + strings.Join(quoted, ", ") + ")"
		}
		return "VARCHAR(255)"
	case meta.TypeBlob:
		if d == Postgres {
			return "BYTEA"
		}
		return "BLOB"
	case meta.TypeGeometry:
		if d == SQLite {
			return "BLOB"
		}
		return "GEOMETRY"
	case meta.TypeArray:
		switch d {
		case MySQL:
			return "JSON"
		case SQLite:
			return "TEXT"
		}
		return "TEXT[]"
	}
	return "VARCHAR(255)"
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMP WITH TIME ZONE"
	}
	return "DATETIME"
}

// autoIncrementPK renders an auto-increment primary key column
func (d Dialect) autoIncrementPK(col string, t meta.FieldType) string {
	switch d {
	case MySQL:
		typ := "INTEGER"
		if t == meta.TypeBigInt {
			typ = "BIGINT"
		}
		return fmt.Sprintf("%s %s NOT NULL AUTO_INCREMENT PRIMARY KEY", d.Quote(col), typ)
	case SQLite:
		return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", d.Quote(col))
	}
	typ := "SERIAL"
	if t == meta.TypeBigInt {
		typ = "BIGSERIAL"
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", d.Quote(col), typ)
}

// timestampColumn renders createdAt/updatedAt with a literal default
func (d Dialect) timestampColumn(col string, onUpdate bool) string {
	def := fmt.Sprintf("%s %s NOT NULL DEFAULT CURRENT_TIMESTAMP", d.Quote(col), d.timestampType())
	if onUpdate && d == MySQL {
		def += " ON UPDATE CURRENT_TIMESTAMP"
	}
	return def
}

// ColumnDefinition renders a full column definition. refTable is the
// resolved table of the field's reference, if any.
func (d Dialect) ColumnDefinition(f meta.Field, refTable string) string {
	if f.PrimaryKey && f.AutoIncrement {
		return d.autoIncrementPK(f.Name, f.Type)
	}

	def := d.Quote(f.Name) + " " + d.ColumnType(f)
	if f.PrimaryKey {
		def += " PRIMARY KEY"
	}
	if !f.Nullable() && !f.PrimaryKey {
		def += " NOT NULL"
	}
	if f.Unique && !f.PrimaryKey {
		def += " UNIQUE"
	}
	if f.DefaultValue != nil {
		def += " DEFAULT " + d.DefaultExpr(f.DefaultValue)
	}
	if f.Type == meta.TypeEnum && d != MySQL {
		values := enumValues(f)
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = d.StringLiteral(v)
		}
		def += fmt.Sprintf(" CHECK (%s IN (%s))", d.Quote(f.Name), strings.Join(quoted, ", "))
	}
	if refTable != "" {
		key := "id"
		if f.References != nil && f.References.Key != "" {
			key = f.References.Key
		}
		onDelete := "SET NULL"
		if !f.Nullable() {
			onDelete = "RESTRICT"
		}
		def += fmt.Sprintf(" REFERENCES %s (%s) ON UPDATE CASCADE ON DELETE %s", d.Quote(refTable), d.Quote(key), onDelete)
	}
	return def
}

// enumValues returns the declared values of an ENUM field, or the same
// defaults the model generator writes when none are declared
func enumValues(f meta.Field) []string {
	if len(f.Values) > 0 {
		return f.Values
	}
	return meta.DefaultEnumValues(f.Name)
}
