// Package security provides SQL identifier and pattern safety helpers
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// ValidIdentifierRegex matches identifiers accepted for tables and columns.
// Mixed case is allowed because generated models use createdAt/updatedAt.
var ValidIdentifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks if a string is a valid SQL identifier
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 characters)")
	}
	if !ValidIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must contain only letters, numbers, and underscores, starting with a letter or underscore", name)
	}
	if isReservedWord(name) {
		return fmt.Errorf("'%s' is a reserved SQL keyword", name)
	}
	return nil
}

// QuoteIdentifier safely quotes an ANSI identifier.
// This should only be used AFTER validation
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// SafeIdentifier validates and quotes an identifier for use in SQL
func SafeIdentifier(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return QuoteIdentifier(name), nil
}

// EscapeLikePattern escapes special characters in LIKE patterns
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}

// LikeEscapeClause returns the ESCAPE clause for the given gorm dialector name.
// MySQL treats backslash as an escape inside string literals.
func LikeEscapeClause(dialect string) string {
	if dialect == "mysql" {
		return `ESCAPE '\\'`
	}
	return `ESCAPE '\'`
}

// BuildMultiSearchCondition builds a case-insensitive OR condition across
// already quoted column expressions. Returns "" when nothing can be searched.
func BuildMultiSearchCondition(quotedColumns []string, searchTerm, dialect string) (string, []interface{}) {
	if len(quotedColumns) == 0 || searchTerm == "" {
		return "", nil
	}

	param := "%" + strings.ToLower(EscapeLikePattern(searchTerm)) + "%"
	escape := LikeEscapeClause(dialect)

	conditions := make([]string, 0, len(quotedColumns))
	args := make([]interface{}, 0, len(quotedColumns))
	for _, col := range quotedColumns {
		conditions = append(conditions, fmt.Sprintf("LOWER(%s) LIKE ? %s", col, escape))
		args = append(args, param)
	}

	return "(" + strings.Join(conditions, " OR ") + ")", args
}

// isReservedWord checks if a word is a PostgreSQL reserved word
func isReservedWord(word string) bool {
	reserved := map[string]bool{
		"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
		"array": true, "as": true, "asc": true, "asymmetric": true, "both": true,
		"case": true, "cast": true, "check": true, "collate": true, "column": true,
		"constraint": true, "create": true, "current_catalog": true, "current_date": true,
		"current_role": true, "current_time": true, "current_timestamp": true,
		"current_user": true, "default": true, "deferrable": true, "desc": true,
		"distinct": true, "do": true, "else": true, "end": true, "except": true,
		"false": true, "fetch": true, "for": true, "foreign": true, "from": true,
		"grant": true, "group": true, "having": true, "in": true, "initially": true,
		"intersect": true, "into": true, "lateral": true, "leading": true, "limit": true,
		"localtime": true, "localtimestamp": true, "not": true, "null": true, "offset": true,
		"on": true, "only": true, "or": true, "order": true, "placing": true,
		"primary": true, "references": true, "returning": true, "select": true,
		"session_user": true, "some": true, "symmetric": true, "table": true,
		"then": true, "to": true, "trailing": true, "true": true, "union": true,
		"unique": true, "user": true, "using": true, "variadic": true, "when": true,
		"where": true, "window": true, "with": true,
	}
	return reserved[strings.ToLower(word)]
}

// AllowedFilterOperators defines the comparison operators accepted in
// `column__op=value` query filters
var AllowedFilterOperators = map[string]string{
	"eq":      "=",
	"ne":      "<>",
	"gt":      ">",
	"gte":     ">=",
	"lt":      "<",
	"lte":     "<=",
	"in":      "IN",
	"nin":     "NOT IN",
	"like":    "LIKE",
	"null":    "IS NULL",
	"notnull": "IS NOT NULL",
}

// BuildFilterCondition builds a filter condition over an already quoted column.
// Returns the condition and its arguments (none for the NULL checks).
func BuildFilterCondition(quotedColumn, operator string, value interface{}, dialect string) (string, []interface{}) {
	op, exists := AllowedFilterOperators[operator]
	if !exists {
		op = "="
	}

	switch op {
	case "IS NULL", "IS NOT NULL":
		return fmt.Sprintf("%s %s", quotedColumn, op), nil
	case "LIKE":
		escaped := strings.ToLower(EscapeLikePattern(fmt.Sprintf("%v", value)))
		return fmt.Sprintf("LOWER(%s) LIKE ? %s", quotedColumn, LikeEscapeClause(dialect)), []interface{}{"%" + escaped + "%"}
	case "IN", "NOT IN":
		list := value
		if s, ok := value.(string); ok {
			list = splitList(s)
		}
		return fmt.Sprintf("%s %s (?)", quotedColumn, op), []interface{}{list}
	default:
		return fmt.Sprintf("%s %s ?", quotedColumn, op), []interface{}{value}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
