// Package engine - Data operations
// List/get/create/update/delete over a model's table
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/security"
)

// =============================================================================
// QUERY TYPES
// =============================================================================

// reserved query keys; every other key naming a column is an equality filter
var reservedParams = map[string]bool{
	"page": true, "limit": true, "filter": true, "searchFields": true, "sortBy": true, "desc": true,
}

// fallback search columns, used only when the model has them
var defaultSearchColumns = []string{"name", "nome", "title", "titulo", "description", "descricao", "email"}

// listParams represents parameters for listing/filtering rows
type listParams struct {
	Page         int
	Limit        int
	Filter       string
	SearchFields []string
	SortBy       string
	Desc         bool
	Filters      url.Values
}

func parseListParams(q url.Values) listParams {
	p := listParams{Page: 1, Filters: url.Values{}}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	p.Filter = strings.TrimSpace(q.Get("filter"))
	for _, f := range strings.Split(q.Get("searchFields"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			p.SearchFields = append(p.SearchFields, f)
		}
	}
	p.SortBy = strings.TrimSpace(q.Get("sortBy"))
	switch strings.ToLower(q.Get("desc")) {
	case "true", "1", "desc", "yes":
		p.Desc = true
	}
	for k, v := range q {
		if !reservedParams[k] {
			p.Filters[k] = v
		}
	}
	return p
}

// listResult is the result of a list query
type listResult struct {
	Rows  []map[string]interface{}
	Total int64
	Page  int
	Limit int
}

func (l listResult) pagination() map[string]interface{} {
	pages := 1
	if l.Limit > 0 {
		pages = int(math.Ceil(float64(l.Total) / float64(l.Limit)))
	}
	return map[string]interface{}{
		"page":  l.Page,
		"limit": l.Limit,
		"total": l.Total,
		"pages": pages,
	}
}

// =============================================================================
// CRUD OPERATIONS
// =============================================================================

// list returns a page of rows. A zero limit returns every row as one page.
func (r *Resolver) list(ctx context.Context, t *target, p listParams) (*listResult, error) {
	model := t.model
	table, err := safeTable(model)
	if err != nil {
		return nil, err
	}
	col := func(c string) string { return r.dialect.Quote(table) + "." + r.dialect.Quote(c) }

	query := r.db.WithContext(ctx).Table(table)

	if p.Filter != "" {
		cols := searchColumns(model, p.SearchFields)
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = col(c)
		}
		if cond, args := security.BuildMultiSearchCondition(quoted, p.Filter, string(r.dialect)); cond != "" {
			query = query.Where(cond, args...)
		}
	}

	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name, op, _ := strings.Cut(key, "__")
		field, ok := columnOf(model, name)
		if !ok {
			continue
		}
		cond, args := security.BuildFilterCondition(col(field), op, p.Filters.Get(key), string(r.dialect))
		query = query.Where(cond, args...)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	query = query.Select(r.dialect.Quote(table) + ".*")
	direction := "ASC"
	if p.Desc {
		direction = "DESC"
	}
	if order, join := r.sortClause(t, table, p.SortBy, direction); order != "" {
		if join != "" {
			query = query.Joins(join)
		}
		query = query.Order(order)
	} else {
		query = query.Order(col(model.PrimaryKey()) + " " + direction)
	}

	if p.Limit > 0 {
		query = query.Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
	}

	rows, err := query.Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attach(ctx, r.db, t, records); err != nil {
		return nil, err
	}

	limit := p.Limit
	page := p.Page
	if limit == 0 {
		page = 1
	}
	return &listResult{Rows: records, Total: total, Page: page, Limit: limit}, nil
}

// sortClause orders by a direct column or by Relation.column through a LEFT
// JOIN aliased like the include
func (r *Resolver) sortClause(t *target, table, sortBy, direction string) (string, string) {
	if sortBy == "" {
		return "", ""
	}
	if rel, column, dotted := strings.Cut(sortBy, "."); dotted {
		inc, ok := findInclude(t.includes, rel)
		if !ok || inc.Many {
			return "", ""
		}
		c, ok := columnOf(inc.Model, column)
		if !ok {
			return "", ""
		}
		alias := r.dialect.Quote(inc.Alias)
		join := fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
			r.dialect.Quote(inc.Model.TableName), alias,
			alias, r.dialect.Quote(inc.Model.PrimaryKey()),
			r.dialect.Quote(table), r.dialect.Quote(inc.ForeignKey))
		return alias + "." + r.dialect.Quote(c) + " " + direction, join
	}
	c, ok := columnOf(t.model, sortBy)
	if !ok {
		return "", ""
	}
	return r.dialect.Quote(table) + "." + r.dialect.Quote(c) + " " + direction, ""
}

// get returns one row by primary key with its includes
func (r *Resolver) get(ctx context.Context, db *gorm.DB, t *target, id string) (map[string]interface{}, error) {
	row, err := fetchRow(ctx, db, r.dialect, t.model, id)
	if err != nil {
		return nil, err
	}
	if err := r.attach(ctx, db, t, []map[string]interface{}{row}); err != nil {
		return nil, err
	}
	return row, nil
}

// create inserts the row and syncs its has-many children in one transaction
func (r *Resolver) create(ctx context.Context, t *target, body map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := writable(t.model, body, true)
		id, err := insertRow(tx, r.dialect, t.model, values)
		if err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}
		if err := SyncHasMany(ctx, tx, t.snap, t.model, id, body); err != nil {
			return err
		}
		out, err = r.get(ctx, tx, t, idKey(id))
		return err
	})
	return out, err
}

// update changes the row and syncs its has-many children in one transaction
func (r *Resolver) update(ctx context.Context, t *target, id string, body map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := fetchRow(ctx, tx, r.dialect, t.model, id)
		if err != nil {
			return err
		}
		values := writable(t.model, body, false)
		if len(values) > 0 {
			if err := tx.Table(t.model.TableName).
				Where(r.dialect.Quote(t.model.PrimaryKey())+" = ?", id).
				Updates(values).Error; err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
		}
		if err := SyncHasMany(ctx, tx, t.snap, t.model, existing[t.model.PrimaryKey()], body); err != nil {
			return err
		}
		out, err = r.get(ctx, tx, t, id)
		return err
	})
	return out, err
}

// delete removes the row by primary key
func (r *Resolver) delete(ctx context.Context, t *target, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := fetchRow(ctx, tx, r.dialect, t.model, id); err != nil {
			return err
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			r.dialect.Quote(t.model.TableName), r.dialect.Quote(t.model.PrimaryKey()))
		if err := tx.Exec(stmt, id).Error; err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}

// =============================================================================
// INCLUDES
// =============================================================================

// attach loads every include for rows. Missing related rows become nil (or
// an empty list for child collections); rows are never dropped.
func (r *Resolver) attach(ctx context.Context, db *gorm.DB, t *target, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	pk := t.model.PrimaryKey()

	for _, inc := range t.includes {
		keyCol, matchCol := inc.ForeignKey, inc.Model.PrimaryKey()
		if inc.Many {
			keyCol, matchCol = pk, inc.ForeignKey
		}

		var keys []interface{}
		seen := map[string]bool{}
		for _, row := range rows {
			v := row[keyCol]
			if v == nil {
				continue
			}
			if k := idKey(v); !seen[k] {
				seen[k] = true
				keys = append(keys, v)
			}
		}

		related := map[string][]map[string]interface{}{}
		if len(keys) > 0 {
			res, err := db.WithContext(ctx).Table(inc.Model.TableName).
				Where(r.dialect.Quote(matchCol)+" IN ?", keys).
				Order(r.dialect.Quote(inc.Model.PrimaryKey())).
				Rows()
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", inc.Alias, err)
			}
			children, err := scanRows(res)
			if err != nil {
				return err
			}
			for _, c := range children {
				k := idKey(c[matchCol])
				related[k] = append(related[k], c)
			}
		}

		for _, row := range rows {
			matches := related[idKey(row[keyCol])]
			if row[keyCol] == nil {
				matches = nil
			}
			if inc.Many {
				if matches == nil {
					matches = []map[string]interface{}{}
				}
				row[inc.Alias] = matches
				continue
			}
			if len(matches) > 0 {
				row[inc.Alias] = matches[0]
			} else {
				row[inc.Alias] = nil
			}
		}
	}
	return nil
}

// =============================================================================
// HELPER METHODS
// =============================================================================

func safeTable(model *meta.Model) (string, error) {
	if err := security.ValidateIdentifier(model.TableName); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return model.TableName, nil
}

// columnOf maps a requested name to a physical column, case-insensitively
func columnOf(model *meta.Model, name string) (string, bool) {
	for _, c := range model.Columns() {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// searchColumns returns the requested columns that exist, else the text
// columns of the model, else the fallback list filtered to existing columns.
func searchColumns(model *meta.Model, requested []string) []string {
	var cols []string
	for _, name := range requested {
		if c, ok := columnOf(model, name); ok {
			cols = append(cols, c)
		}
	}
	if len(cols) > 0 {
		return cols
	}

	pk := model.PrimaryKey()
	created, updated := model.TimestampColumns()
	for _, f := range model.Definition.Fields {
		switch strings.ToLower(f.Name) {
		case strings.ToLower(pk), "id", strings.ToLower(created), strings.ToLower(updated), "created_at", "updated_at", "createdat", "updatedat":
			continue
		}
		if f.IsText() {
			cols = append(cols, f.Name)
		}
	}
	if len(cols) > 0 {
		return cols
	}

	for _, name := range defaultSearchColumns {
		if c, ok := columnOf(model, name); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// writable keeps the body keys that are columns of the model. Primary keys
// are only accepted on create and only when not auto-incremented.
func writable(model *meta.Model, body map[string]interface{}, create bool) map[string]interface{} {
	pk := model.PrimaryKey()
	created, updated := model.TimestampColumns()
	out := map[string]interface{}{}

	for key, v := range body {
		field, ok := model.Field(key)
		if !ok {
			continue
		}
		name := field.Name
		if name == created || name == updated {
			continue
		}
		if name == pk && (!create || field.AutoIncrement || v == nil) {
			continue
		}
		out[name] = columnValue(v)
	}

	now := time.Now()
	if created != "" {
		if create {
			out[created] = now
		}
		out[updated] = now
	}
	return out
}

// columnValue stores nested objects and arrays as JSON text
func columnValue(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}

// insertRow inserts values and returns the primary key of the new row
func insertRow(tx *gorm.DB, d migration.Dialect, model *meta.Model, values map[string]interface{}) (interface{}, error) {
	table := d.Quote(model.TableName)
	pk := model.PrimaryKey()

	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var stmt string
	args := make([]interface{}, 0, len(cols))
	if len(cols) == 0 {
		if d == migration.MySQL {
			stmt = fmt.Sprintf("INSERT INTO %s () VALUES ()", table)
		} else {
			stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
		}
	} else {
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = d.Quote(c)
			marks[i] = "?"
			args = append(args, values[c])
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
	}

	if v, ok := values[pk]; ok {
		return v, tx.Exec(stmt, args...).Error
	}

	if d == migration.MySQL {
		if err := tx.Exec(stmt, args...).Error; err != nil {
			return nil, err
		}
		var id int64
		if err := tx.Raw("SELECT LAST_INSERT_ID()").Scan(&id).Error; err != nil {
			return nil, err
		}
		return id, nil
	}

	rows, err := tx.Raw(stmt+" RETURNING "+d.Quote(pk), args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var id interface{}
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return normalizeValue(id), nil
}

// fetchRow returns the row with the given primary key or a not-found error
func fetchRow(ctx context.Context, db *gorm.DB, d migration.Dialect, model *meta.Model, id string) (map[string]interface{}, error) {
	rows, err := db.WithContext(ctx).Table(model.TableName).
		Where(d.Quote(model.PrimaryKey())+" = ?", id).
		Limit(1).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	records, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFound(model.Name, id, nil)
	}
	return records[0], nil
}

// scanRows reads every row into a column map and closes rows
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			record[col] = normalizeValue(values[i])
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// idKey renders an identifier so that 1, int64(1), float64(1) and "1" compare equal
func idKey(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(n)
	case float64:
		if n == math.Trunc(n) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return idKey(float64(n))
	case json.Number:
		return n.String()
	}
	return fmt.Sprint(v)
}
