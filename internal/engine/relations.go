package engine

import (
	"strings"

	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/registry"
)

// include is a related model loaded alongside each row. Every include is
// optional: a missing related row leaves the alias nil and keeps the row.
type include struct {
	Alias string
	// Many is true for child collections; the foreign key then lives on the
	// related table instead of the parent.
	Many       bool
	Model      *meta.Model
	ForeignKey string
}

// relationKeywords maps field-name fragments to model names
var relationKeywords = []struct {
	fragment string
	model    string
}{
	{"organiz", "organization"},
	{"system", "system"},
	{"role", "role"},
	{"country", "country"},
	{"pais", "country"},
}

// includes derives the includes of a request from config.relations, or from
// the model's belongsTo associations when none are declared.
func (r *Resolver) includes(snap *registry.Snapshot, model *meta.Model, crud *models.Crud) []include {
	relations := crud.Relations()
	if len(relations) == 0 {
		return autoIncludes(snap, model)
	}

	var out []include
	seen := map[string]bool{}
	for _, rel := range relations {
		related, ok := relatedModel(snap, rel)
		if !ok {
			r.logger.Debug("relation target not registered",
				zap.String("crud", crud.Name), zap.String("field", rel.Field), zap.String("model", rel.ModelName))
			continue
		}

		inc := include{Alias: relationAlias(rel, related), Model: related}
		switch strings.ToLower(rel.Type) {
		case "inline":
			inc.Many = true
			inc.ForeignKey = rel.ForeignKey
			if inc.ForeignKey == "" {
				inc.ForeignKey = strings.ToLower(model.ClassName) + "_id"
			}
			if !related.HasColumn(inc.ForeignKey) {
				continue
			}
		case "multiselect":
			// many-to-many selections are written through their own junction
			// payload and are not joined here
			continue
		default:
			inc.ForeignKey = parentForeignKey(rel, related)
			if !model.HasColumn(inc.ForeignKey) {
				continue
			}
		}

		key := strings.ToLower(inc.Alias)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, inc)
	}
	return out
}

func autoIncludes(snap *registry.Snapshot, model *meta.Model) []include {
	var out []include
	for _, a := range model.Associations(meta.BelongsTo) {
		related, ok := snap.Lookup(a.Target)
		if !ok {
			continue
		}
		fk := meta.ForeignKeyFor(a)
		if !model.HasColumn(fk) {
			continue
		}
		out = append(out, include{Alias: meta.AssociationName(a), Model: related, ForeignKey: fk})
	}
	return out
}

// relatedModel resolves the model a relation points at: explicit names,
// the irregular plural table, keyword heuristics on the field name and
// finally the payload field.
func relatedModel(snap *registry.Snapshot, rel models.CrudRelation) (*meta.Model, bool) {
	for _, name := range []string{rel.ModelName, rel.Model, stripID(rel.Field)} {
		if name == "" {
			continue
		}
		if m, ok := ResolveModel(snap, name); ok {
			return m, true
		}
	}

	field := strings.ToLower(rel.Field + " " + rel.PayloadField)
	for _, kw := range relationKeywords {
		if strings.Contains(field, kw.fragment) {
			if m, ok := ResolveModel(snap, kw.model); ok {
				return m, true
			}
		}
	}

	if name := stripID(rel.PayloadField); name != "" {
		return ResolveModel(snap, name)
	}
	return nil, false
}

// relationAlias is rel.as, else a name inferred from the field, the model
// name or the payload field.
func relationAlias(rel models.CrudRelation, related *meta.Model) string {
	if rel.As != "" {
		return rel.As
	}
	for _, candidate := range []string{stripID(rel.Field), rel.ModelName, stripID(rel.PayloadField)} {
		if candidate != "" {
			return meta.ToCamel(candidate)
		}
	}
	return meta.LowerFirst(related.ClassName)
}

func parentForeignKey(rel models.CrudRelation, related *meta.Model) string {
	switch {
	case rel.ForeignKey != "":
		return rel.ForeignKey
	case strings.HasSuffix(strings.ToLower(rel.Field), "_id"):
		return rel.Field
	case strings.HasSuffix(strings.ToLower(rel.PayloadField), "_id"):
		return rel.PayloadField
	}
	return meta.ForeignKeyFor(meta.Association{Type: meta.BelongsTo, Target: related.ClassName})
}

func stripID(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "_id"):
		return s[:len(s)-3]
	case strings.HasSuffix(s, "Id") && len(s) > 2:
		return s[:len(s)-2]
	}
	return s
}

// findInclude returns the include whose alias or model matches name
func findInclude(includes []include, name string) (include, bool) {
	for _, inc := range includes {
		if strings.EqualFold(inc.Alias, name) || strings.EqualFold(inc.Model.ClassName, name) {
			return inc, true
		}
	}
	return include{}, false
}
