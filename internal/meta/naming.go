package meta

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/aethra/lowcode/internal/security"
)

// Prefix families with special meaning: system tables and localisation tables.
const (
	SystemPrefix = "sys_"
	LocalPrefix  = "loc_"
)

var anyPrefixRegex = regexp.MustCompile(`^[a-z]{3}_`)

// maxNameLength matches the PostgreSQL identifier limit
const maxNameLength = 63

// ValidateName checks that a model, class or field name is a plain identifier.
// Reserved words are allowed since every generated statement quotes them.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%s name %q is too long (max %d characters)", kind, name, maxNameLength)
	}
	if !security.ValidIdentifierRegex.MatchString(name) {
		return fmt.Errorf("%s name %q must contain only letters, digits and underscores", kind, name)
	}
	return nil
}

// Pluralize appends "s" unless the word already ends in "s" (which covers "es").
func Pluralize(word string) string {
	if word == "" || strings.HasSuffix(strings.ToLower(word), "s") {
		return word
	}
	return word + "s"
}

// Singularize strips a trailing "es" or "s"
func Singularize(word string) string {
	lower := strings.ToLower(word)
	switch {
	case strings.HasSuffix(lower, "ses"), strings.HasSuffix(lower, "xes"), strings.HasSuffix(lower, "zes"):
		return word[:len(word)-2]
	case strings.HasSuffix(lower, "ss"):
		return word
	case strings.HasSuffix(lower, "s") && len(word) > 1:
		return word[:len(word)-1]
	}
	return word
}

// ModulePrefix returns the three-letter table prefix of a module, e.g.
// "enderecos" -> "end_". Non-letters are ignored.
func ModulePrefix(module string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(module) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			if b.Len() == 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "_"
}

// HasAnyPrefix reports whether a table name starts with a 3-letter prefix
func HasAnyPrefix(table string) bool {
	return anyPrefixRegex.MatchString(table)
}

// StripPrefix removes a leading 3-letter prefix, if any
func StripPrefix(table string) string {
	if HasAnyPrefix(table) {
		return table[4:]
	}
	return table
}

// ResolveTableName derives the table name of a model. An explicit tableName
// is lowercased, otherwise the class name is pluralised and lowercased. With
// a module the module prefix is prepended unless the name already has it; an
// explicit tableName that already carries any 3-letter prefix is kept as is.
func ResolveTableName(className, moduleName string, opts Options) string {
	explicit := strings.ToLower(strings.TrimSpace(opts.TableName()))
	table := explicit
	if table == "" {
		table = strings.ToLower(Pluralize(className))
	}
	if moduleName == "" {
		return table
	}
	prefix := ModulePrefix(moduleName)
	if prefix == "" || strings.HasPrefix(table, prefix) {
		return table
	}
	if explicit != "" && HasAnyPrefix(explicit) {
		return table
	}
	return prefix + table
}

// ForeignKeyFor returns the foreign key column of a belongsTo association:
// the declared one, or lower(target)_id.
func ForeignKeyFor(a Association) string {
	if a.ForeignKey != "" {
		return a.ForeignKey
	}
	return strings.ToLower(a.Target) + "_id"
}

// ChildForeignKey returns the foreign key a hasMany/hasOne child carries
// back to its parent model.
func ChildForeignKey(a Association, parentClass string) string {
	if a.ForeignKey != "" {
		return a.ForeignKey
	}
	return strings.ToLower(parentClass) + "_id"
}

// AssociationName returns the accessor name of an association: its alias or
// the lowercased (pluralised for collections) target.
func AssociationName(a Association) string {
	if a.As != "" {
		return a.As
	}
	name := LowerFirst(a.Target)
	if a.Type == HasMany || a.Type == BelongsToMany {
		return Pluralize(name)
	}
	return name
}

// Capitalize upper-cases the first rune
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// LowerFirst lower-cases the first rune
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// ToCamel converts snake_case or kebab-case to lowerCamelCase
func ToCamel(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(LowerFirst(parts[0]))
	for _, p := range parts[1:] {
		b.WriteString(Capitalize(p))
	}
	return b.String()
}

// ToPascal converts snake_case, kebab-case or camelCase to PascalCase
func ToPascal(s string) string {
	return Capitalize(ToCamel(s))
}

// ToSnake converts CamelCase to snake_case
func ToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NameVariants returns the lookup variants of a model name in the order they
// should be tried: exact, +s, +es, -s, -es.
func NameVariants(name string) []string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(lower)
	add(lower + "s")
	add(lower + "es")
	if strings.HasSuffix(lower, "s") {
		add(lower[:len(lower)-1])
	}
	if strings.HasSuffix(lower, "es") {
		add(lower[:len(lower)-2])
	}
	return out
}
