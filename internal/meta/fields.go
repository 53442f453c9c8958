package meta

import (
	"fmt"
	"strings"
)

// NormalizeType upper-cases a type name and maps common aliases
func NormalizeType(t string) FieldType {
	up := strings.ToUpper(strings.TrimSpace(t))
	switch up {
	case "INT":
		return TypeInteger
	case "BOOL":
		return TypeBoolean
	case "DATETIME", "TIMESTAMP":
		return TypeDate
	case "VARCHAR", "CHAR":
		return TypeString
	}
	return FieldType(up)
}

// IsValidFieldType reports whether t is one of the column types
func IsValidFieldType(t FieldType) bool {
	return fieldTypes[t]
}

// IsAssociativeType reports whether t names a relation rather than a column
// type. Such values must never be accepted as a field type.
func IsAssociativeType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "hasmany", "belongsto", "hasone", "belongstomany", "association", "relation":
		return true
	}
	return false
}

// IsValidAssociationType reports whether t is a supported association kind
func IsValidAssociationType(t AssociationType) bool {
	switch t {
	case BelongsTo, HasMany, HasOne, BelongsToMany:
		return true
	}
	return false
}

// SanitizeFields drops entries without a name or type, with an unknown type
// or with an associative type, and normalises type casing. Dropped entries
// are reported as warnings.
func SanitizeFields(fields []Field) ([]Field, []string) {
	var kept []Field
	var warnings []string
	seen := map[string]bool{}
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("field #%d skipped: missing name", i))
			continue
		}
		if err := ValidateName("field", name); err != nil {
			warnings = append(warnings, fmt.Sprintf("field #%d skipped: %v", i, err))
			continue
		}
		if f.Type == "" {
			warnings = append(warnings, fmt.Sprintf("field %s skipped: missing type", name))
			continue
		}
		if IsAssociativeType(string(f.Type)) {
			warnings = append(warnings, fmt.Sprintf("field %s skipped: %s is an association, not a field type", name, f.Type))
			continue
		}
		f.Type = NormalizeType(string(f.Type))
		if !IsValidFieldType(f.Type) {
			warnings = append(warnings, fmt.Sprintf("field %s skipped: unknown type %s", name, f.Type))
			continue
		}
		if seen[strings.ToLower(name)] {
			warnings = append(warnings, fmt.Sprintf("field %s skipped: duplicate", name))
			continue
		}
		seen[strings.ToLower(name)] = true
		f.Name = name
		kept = append(kept, f)
	}
	return kept, warnings
}

// SanitizeAssociations drops associations with an unknown type or no target
func SanitizeAssociations(assocs []Association) ([]Association, []string) {
	var kept []Association
	var warnings []string
	for i, a := range assocs {
		if strings.TrimSpace(a.Target) == "" {
			warnings = append(warnings, fmt.Sprintf("association #%d skipped: missing target", i))
			continue
		}
		if !IsValidAssociationType(a.Type) {
			warnings = append(warnings, fmt.Sprintf("association %s skipped: unknown type %s", a.Target, a.Type))
			continue
		}
		kept = append(kept, a)
	}
	return kept, warnings
}

// SynthesizeForeignKeys appends a nullable INTEGER field for every belongsTo
// association whose foreign key is not already declared.
func SynthesizeForeignKeys(fields []Field, assocs []Association) []Field {
	out := append([]Field(nil), fields...)
	for _, a := range assocs {
		if a.Type != BelongsTo {
			continue
		}
		fk := ForeignKeyFor(a)
		if hasField(out, fk) {
			continue
		}
		out = append(out, Field{Name: fk, Type: TypeInteger, AllowNull: BoolPtr(true)})
	}
	return out
}

func hasField(fields []Field, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// DefaultEnumValues infers a small vocabulary for an ENUM declared without
// values. This is a best-effort default, not a guarantee.
func DefaultEnumValues(fieldName string) []string {
	name := strings.ToLower(fieldName)
	switch {
	case strings.Contains(name, "sex"), strings.Contains(name, "gender"), strings.Contains(name, "genero"):
		return []string{"M", "F"}
	case strings.Contains(name, "status"), strings.Contains(name, "situacao"):
		return []string{"active", "inactive"}
	case strings.Contains(name, "priority"), strings.Contains(name, "prioridade"):
		return []string{"low", "medium", "high"}
	case strings.Contains(name, "type"), strings.Contains(name, "tipo"):
		return []string{"default", "other"}
	}
	return []string{"option1", "option2"}
}
