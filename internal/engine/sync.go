package engine

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/registry"
)

// SyncHasMany reconciles the children of every hasMany association of model
// with the arrays found in payload. It runs on tx, so the caller's
// transaction rolls everything back on failure.
//
// Per association: children missing from the payload are deleted, items
// carrying a current child id update that child, and the remaining items
// are created with the foreign key pointing at parentID. An item without an
// id whose every supplied value equals an unclaimed current child is taken
// to be that child, which keeps repeated submissions of the same payload
// from recreating rows.
func SyncHasMany(ctx context.Context, tx *gorm.DB, snap *registry.Snapshot, model *meta.Model, parentID interface{}, payload map[string]interface{}) error {
	if parentID == nil || len(payload) == 0 {
		return nil
	}
	d := migration.ParseDialect(database.DialectName(tx))

	for _, a := range model.Associations(meta.HasMany) {
		items, ok := childPayload(payload, a)
		if !ok {
			continue
		}
		child, ok := snap.Lookup(a.Target)
		if !ok {
			return fmt.Errorf("hasMany %s: model %s is not registered", meta.AssociationName(a), a.Target)
		}
		fk := meta.ChildForeignKey(a, model.ClassName)
		if err := syncChildren(ctx, tx, d, child, fk, parentID, items); err != nil {
			return fmt.Errorf("hasMany %s: %w", meta.AssociationName(a), err)
		}
	}
	return nil
}

// childPayload finds the child array under the association name, its alias
// or the camel-cased alias. The first key present wins.
func childPayload(payload map[string]interface{}, a meta.Association) ([]map[string]interface{}, bool) {
	keys := []string{meta.Pluralize(a.Target), meta.LowerFirst(meta.Pluralize(a.Target))}
	if a.As != "" {
		keys = append(keys, a.As, meta.ToCamel(a.As))
	}
	for _, k := range keys {
		raw, ok := payload[k]
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			if typed, ok := raw.([]map[string]interface{}); ok {
				return typed, true
			}
			continue
		}
		items := make([]map[string]interface{}, 0, len(list))
		for _, it := range list {
			if m, ok := it.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
		return items, true
	}
	return nil, false
}

func syncChildren(ctx context.Context, tx *gorm.DB, d migration.Dialect, child *meta.Model, fk string, parentID interface{}, items []map[string]interface{}) error {
	pk := child.PrimaryKey()

	rows, err := tx.WithContext(ctx).Table(child.TableName).
		Where(d.Quote(fk)+" = ?", parentID).
		Order(d.Quote(pk)).
		Rows()
	if err != nil {
		return err
	}
	current, err := scanRows(rows)
	if err != nil {
		return err
	}

	byID := make(map[string]map[string]interface{}, len(current))
	for _, c := range current {
		byID[idKey(c[pk])] = c
	}

	// Explicit ids claim their children first.
	claimed := map[string]bool{}
	targets := make([]string, len(items))
	for i, item := range items {
		if id := idKey(item[pk]); id != "" {
			if _, ok := byID[id]; ok {
				claimed[id] = true
				targets[i] = id
			}
		}
	}
	for i, item := range items {
		if targets[i] != "" || idKey(item[pk]) != "" {
			continue
		}
		for _, c := range current {
			id := idKey(c[pk])
			if !claimed[id] && sameValues(child, item, c, pk, fk) {
				claimed[id] = true
				targets[i] = id
				break
			}
		}
	}

	for _, c := range current {
		id := idKey(c[pk])
		if claimed[id] {
			continue
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Quote(child.TableName), d.Quote(pk))
		if err := tx.Exec(stmt, c[pk]).Error; err != nil {
			return fmt.Errorf("failed to delete child %s: %w", id, err)
		}
	}

	for i, item := range items {
		if targets[i] == "" {
			continue
		}
		values := writable(child, item, false)
		values[fk] = parentID
		if err := tx.Table(child.TableName).
			Where(d.Quote(pk)+" = ?", byID[targets[i]][pk]).
			Updates(values).Error; err != nil {
			return fmt.Errorf("failed to update child %s: %w", targets[i], err)
		}
	}

	for i, item := range items {
		if targets[i] != "" {
			continue
		}
		stripped := make(map[string]interface{}, len(item))
		for k, v := range item {
			if k != pk {
				stripped[k] = v
			}
		}
		values := writable(child, stripped, true)
		values[fk] = parentID
		if _, err := insertRow(tx, d, child, values); err != nil {
			return fmt.Errorf("failed to create child: %w", err)
		}
	}
	return nil
}

// sameValues reports whether every column value supplied in item equals the
// stored child. Items supplying no column values never match.
func sameValues(model *meta.Model, item, stored map[string]interface{}, pk, fk string) bool {
	compared := 0
	for key, v := range item {
		field, ok := model.Field(key)
		if !ok || field.Name == pk || field.Name == fk {
			continue
		}
		if !equalValue(v, stored[field.Name]) {
			return false
		}
		compared++
	}
	return compared > 0
}

func equalValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.(bool); ok {
		return ab == truthy(b)
	}
	if bb, ok := b.(bool); ok {
		return bb == truthy(a)
	}
	if t, ok := b.(time.Time); ok {
		if s, ok := a.(string); ok {
			return t.Format("2006-01-02") == s || t.Format(time.RFC3339) == s
		}
	}
	return idKey(columnValue(a)) == idKey(b)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "1" || t == "true" || t == "t"
	}
	return false
}
