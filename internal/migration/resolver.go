package migration

import (
	"sort"
	"strings"

	"github.com/aethra/lowcode/internal/meta"
)

// Strategy identifies which rule resolved a foreign-key target table
type Strategy int

const (
	StrategyExact Strategy = iota + 1
	StrategyVariant
	StrategyPrefixScan
	StrategyPrefixFamily
	StrategyVerbatim
	StrategyModulePrefix
	StrategyPlural
)

func (s Strategy) String() string {
	switch s {
	case StrategyExact:
		return "exact"
	case StrategyVariant:
		return "variant"
	case StrategyPrefixScan:
		return "prefix-scan"
	case StrategyPrefixFamily:
		return "prefix-family"
	case StrategyVerbatim:
		return "verbatim"
	case StrategyModulePrefix:
		return "module-prefix"
	case StrategyPlural:
		return "plural"
	}
	return "unknown"
}

// Catalog lists the models currently registered
type Catalog interface {
	Models() []meta.Model
}

// StaticCatalog is a fixed Catalog
type StaticCatalog []meta.Model

// Models implements Catalog
func (c StaticCatalog) Models() []meta.Model { return c }

// TableResolver finds the real table name of a foreign-key target model.
// Rules are tried in a fixed order; the first that matches wins.
type TableResolver struct {
	models []meta.Model
	tables []string
}

// NewTableResolver snapshots the catalog
func NewTableResolver(catalog Catalog) *TableResolver {
	r := &TableResolver{}
	if catalog == nil {
		return r
	}
	r.models = append(r.models, catalog.Models()...)
	sort.Slice(r.models, func(i, j int) bool { return r.models[i].Name < r.models[j].Name })
	seen := map[string]bool{}
	for _, m := range r.models {
		if m.TableName != "" && !seen[m.TableName] {
			seen[m.TableName] = true
			r.tables = append(r.tables, m.TableName)
		}
	}
	sort.Strings(r.tables)
	return r
}

// Resolve returns the table for target as seen from currentModule
func (r *TableResolver) Resolve(target, currentModule string) string {
	table, _ := r.ResolveWithStrategy(target, currentModule)
	return table
}

// ResolveWithStrategy is Resolve plus the rule that matched
func (r *TableResolver) ResolveWithStrategy(target, currentModule string) (string, Strategy) {
	target = strings.TrimSpace(target)
	lower := strings.ToLower(target)

	// 1. exact model name (or an exact table name)
	for _, m := range r.models {
		if m.Name == target || m.ClassName == target || m.TableName == target {
			return tableOf(m), StrategyExact
		}
	}

	// 2. case, plural and singular variants
	variants := []string{lower, meta.Capitalize(lower), meta.Pluralize(lower), meta.Singularize(lower)}
	for _, v := range variants {
		for _, m := range r.models {
			if strings.EqualFold(m.Name, v) || strings.EqualFold(m.ClassName, v) {
				return tableOf(m), StrategyVariant
			}
		}
	}

	// 3. a registered table whose unprefixed name is a form of target
	forms := map[string]bool{lower: true, meta.Singularize(lower): true, meta.Pluralize(lower): true}
	for _, t := range r.tables {
		if forms[meta.StripPrefix(t)] {
			return t, StrategyPrefixScan
		}
	}

	prefixed := meta.HasAnyPrefix(lower)

	// 4. sys_/loc_ family inferred by similarity, for unprefixed targets only
	if !prefixed {
		if family := InferPrefixFamily(lower, r.tables); family != "" {
			return family + meta.Pluralize(lower), StrategyPrefixFamily
		}
	}

	// 5. target already carries a prefix: its registered plural, else verbatim
	if prefixed {
		plural := meta.Pluralize(lower)
		for _, t := range r.tables {
			if t == plural {
				return t, StrategyVerbatim
			}
		}
		return lower, StrategyVerbatim
	}

	// 6. the current module's prefix
	if prefix := meta.ModulePrefix(currentModule); prefix != "" {
		return prefix + meta.Pluralize(lower), StrategyModulePrefix
	}

	// 7. plain plural
	return meta.Pluralize(lower), StrategyPlural
}

func tableOf(m meta.Model) string {
	if m.TableName != "" {
		return m.TableName
	}
	return meta.ResolveTableName(m.ClassName, m.Module, m.Definition.Options)
}

// minFamilyOverlap is the shortest shared stem that counts as similar
const minFamilyOverlap = 4

// InferPrefixFamily guesses whether target belongs to the system (sys_) or
// localisation (loc_) table family by substring similarity with the
// registered tables of that family: "pessoa" is similar to "sys_pessoas",
// "userprofile" to "sys_users". It returns "" when nothing is similar.
//
// This rule is heuristic and kept separate so it can be tested and revised
// on its own.
func InferPrefixFamily(target string, tables []string) string {
	target = strings.ToLower(strings.TrimSpace(target))
	if len(target) < minFamilyOverlap {
		return ""
	}
	stem := meta.Singularize(target)
	for _, family := range []string{meta.SystemPrefix, meta.LocalPrefix} {
		for _, t := range tables {
			if !strings.HasPrefix(t, family) {
				continue
			}
			rest := strings.TrimPrefix(t, family)
			restStem := meta.Singularize(rest)
			switch {
			case len(stem) >= minFamilyOverlap && strings.Contains(rest, stem):
				return family
			case len(restStem) >= minFamilyOverlap && strings.Contains(target, restStem):
				return family
			}
		}
	}
	return ""
}
