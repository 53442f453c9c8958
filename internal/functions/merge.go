package functions

import (
	"strings"

	"github.com/aethra/lowcode/internal/meta"
)

// MergeFields keeps existing fields in order, replaces any field named again
// by its new definition as a whole, and appends fields that are new.
func MergeFields(existing, incoming []meta.Field) []meta.Field {
	byName := make(map[string]meta.Field, len(incoming))
	for _, f := range incoming {
		byName[strings.ToLower(f.Name)] = f
	}

	out := make([]meta.Field, 0, len(existing)+len(incoming))
	used := map[string]bool{}
	for _, f := range existing {
		key := strings.ToLower(f.Name)
		if repl, ok := byName[key]; ok {
			out = append(out, repl)
			used[key] = true
			continue
		}
		out = append(out, f)
	}
	for _, f := range incoming {
		key := strings.ToLower(f.Name)
		if used[key] {
			continue
		}
		used[key] = true
		out = append(out, f)
	}
	return out
}

// MergeAssociations keeps existing associations that neither equal nor
// conflict with a new one, then appends every new association. Two
// associations conflict when they share type and target but not the
// foreign key, or share a foreign key but not the target.
func MergeAssociations(existing, incoming []meta.Association) []meta.Association {
	out := make([]meta.Association, 0, len(existing)+len(incoming))
	for _, e := range existing {
		keep := true
		for _, n := range incoming {
			if e == n || conflicts(e, n) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, e)
		}
	}
	return append(out, incoming...)
}

func conflicts(a, b meta.Association) bool {
	fkA, fkB := effectiveKey(a), effectiveKey(b)
	if a.Type == b.Type && strings.EqualFold(a.Target, b.Target) && !strings.EqualFold(fkA, fkB) {
		return true
	}
	return fkA != "" && strings.EqualFold(fkA, fkB) && !strings.EqualFold(a.Target, b.Target)
}

// effectiveKey is the declared foreign key, or the implied one for belongsTo
func effectiveKey(a meta.Association) string {
	if a.ForeignKey != "" {
		return a.ForeignKey
	}
	if a.Type == meta.BelongsTo {
		return meta.ForeignKeyFor(a)
	}
	return ""
}

// MergeOptions is a shallow merge favouring incoming values
func MergeOptions(existing, incoming meta.Options) meta.Options {
	out := existing.Clone()
	if out == nil {
		out = meta.Options{}
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
