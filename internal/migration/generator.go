// Package migration generates timestamped SQL migration files from model
// definitions and applies them in order, tracking applied files in a ledger.
package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/meta"
)

// Migration modes
const (
	ModeCreate = "create"
	ModeModify = "modify"
	ModeDrop   = "drop"
)

// TimestampFormat sorts lexicographically in execution order
const TimestampFormat = "20060102150405"

// Input describes the model a migration is generated for
type Input struct {
	Name         string
	ClassName    string
	Module       string
	Fields       []meta.Field
	Associations []meta.Association
	Options      meta.Options
	IsNew        bool
	// Existing lists the columns already present; used in modify mode.
	Existing []string
}

// Migration is a generated migration file
type Migration struct {
	FileName string
	Mode     string
	Table    string
	Up       string
	Down     string
	Columns  []string
	Warnings []string
}

// Content renders the file content
func (m *Migration) Content() string {
	header := fmt.Sprintf("Migration: %s %s\nTable: %s", m.Mode, strings.TrimSuffix(m.FileName, ".sql"), m.Table)
	return Render(header, m.Up, m.Down)
}

// Empty reports whether a modify migration found nothing to add
func (m *Migration) Empty() bool {
	return m.Mode == ModeModify && len(m.Columns) == 0
}

// Generator renders migrations for one SQL dialect
type Generator struct {
	dialect Dialect
	catalog Catalog
	now     func() time.Time
	logger  *zap.Logger
}

// NewGenerator creates a migration generator. catalog supplies the
// registered models used to resolve foreign-key tables.
func NewGenerator(dialect Dialect, catalog Catalog, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{dialect: dialect, catalog: catalog, now: time.Now, logger: logger}
}

// WithClock overrides the time source used for file names
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Dialect returns the generator's dialect
func (g *Generator) Dialect() Dialect { return g.dialect }

// Generate renders a create or modify migration. Malformed fields are
// skipped with a warning.
func (g *Generator) Generate(in Input) (*Migration, error) {
	if in.ClassName == "" && in.Name == "" {
		return nil, fmt.Errorf("migration needs a model name")
	}
	if in.ClassName == "" {
		in.ClassName = meta.ToPascal(in.Name)
	}
	if in.Name == "" {
		in.Name = strings.ToLower(in.ClassName)
	}

	table := meta.ResolveTableName(in.ClassName, in.Module, in.Options)
	fields, warnings := meta.SanitizeFields(in.Fields)
	assocs, assocWarnings := meta.SanitizeAssociations(in.Associations)
	warnings = append(warnings, assocWarnings...)
	fields = meta.SynthesizeForeignKeys(fields, assocs)

	for _, w := range warnings {
		g.logger.Warn("migration field skipped", zap.String("model", in.Name), zap.String("reason", w))
	}

	mode := ModeModify
	if in.IsNew {
		mode = ModeCreate
	}
	m := &Migration{
		FileName: fmt.Sprintf("%s-%s-%s.sql", g.now().UTC().Format(TimestampFormat), mode, strings.ToLower(in.Name)),
		Mode:     mode,
		Table:    table,
		Warnings: warnings,
	}

	resolver := NewTableResolver(g.catalog)
	model := &meta.Model{Name: in.Name, ClassName: in.ClassName, Module: in.Module,
		Definition: meta.Definition{Fields: fields, Associations: assocs, Options: in.Options}}

	if in.IsNew {
		g.renderCreate(m, model, resolver)
	} else {
		g.renderModify(m, model, in.Existing, resolver)
	}
	return m, nil
}

// GenerateDrop renders a migration that drops a model's table. The down
// section recreates it.
func (g *Generator) GenerateDrop(model meta.Model) (*Migration, error) {
	if model.Name == "" {
		return nil, fmt.Errorf("migration needs a model name")
	}
	table := model.TableName
	if table == "" {
		table = meta.ResolveTableName(model.ClassName, model.Module, model.Definition.Options)
	}
	create := &Migration{Table: table}
	g.renderCreate(create, &model, NewTableResolver(g.catalog))

	return &Migration{
		FileName: fmt.Sprintf("%s-%s-%s.sql", g.now().UTC().Format(TimestampFormat), ModeDrop, strings.ToLower(model.Name)),
		Mode:     ModeDrop,
		Table:    table,
		Up:       fmt.Sprintf("DROP TABLE IF EXISTS %s;", g.dialect.Quote(table)),
		Down:     create.Up,
	}, nil
}

func (g *Generator) renderCreate(m *Migration, model *meta.Model, resolver *TableResolver) {
	d := g.dialect
	created, updated := model.TimestampColumns()

	var defs []string
	_, hasPK := primaryKeyField(model.Definition.Fields)
	if !hasPK {
		defs = append(defs, d.autoIncrementPK("id", meta.TypeInteger))
		m.Columns = append(m.Columns, "id")
	}
	for _, f := range model.Definition.Fields {
		if created != "" && (f.Name == created || f.Name == updated) {
			continue
		}
		if !hasPK && strings.EqualFold(f.Name, "id") {
			continue
		}
		defs = append(defs, d.ColumnDefinition(f, g.referenceTable(f, model, resolver)))
		m.Columns = append(m.Columns, f.Name)
	}
	if created != "" {
		defs = append(defs, d.timestampColumn(created, false), d.timestampColumn(updated, true))
		m.Columns = append(m.Columns, created, updated)
	}

	m.Up = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);", d.Quote(m.Table), strings.Join(defs, ",\n\t"))
	m.Down = fmt.Sprintf("DROP TABLE IF EXISTS %s;", d.Quote(m.Table))
}

func (g *Generator) renderModify(m *Migration, model *meta.Model, existing []string, resolver *TableResolver) {
	d := g.dialect
	skip := map[string]bool{"id": true, "createdat": true, "updatedat": true, "created_at": true, "updated_at": true}
	for _, c := range existing {
		skip[strings.ToLower(c)] = true
	}

	var up, down []string
	for _, f := range model.Definition.Fields {
		key := strings.ToLower(f.Name)
		if skip[key] {
			continue
		}
		skip[key] = true
		up = append(up, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", d.Quote(m.Table), d.ColumnDefinition(f, g.referenceTable(f, model, resolver))))
		m.Columns = append(m.Columns, f.Name)
	}
	for i := len(m.Columns) - 1; i >= 0; i-- {
		down = append(down, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", d.Quote(m.Table), d.Quote(m.Columns[i])))
	}

	if len(up) == 0 {
		m.Up = "-- no new columns"
		m.Down = "-- no new columns"
		return
	}
	m.Up = strings.Join(up, "\n")
	m.Down = strings.Join(down, "\n")
}

// referenceTable returns the resolved table a field points at, or ""
func (g *Generator) referenceTable(f meta.Field, model *meta.Model, resolver *TableResolver) string {
	if f.References != nil && f.References.Model != "" {
		return resolver.Resolve(f.References.Model, model.Module)
	}
	for _, a := range model.Associations(meta.BelongsTo) {
		if strings.EqualFold(meta.ForeignKeyFor(a), f.Name) {
			if a.Target == model.ClassName {
				return meta.ResolveTableName(model.ClassName, model.Module, model.Definition.Options)
			}
			return resolver.Resolve(a.Target, model.Module)
		}
	}
	return ""
}

func primaryKeyField(fields []meta.Field) (meta.Field, bool) {
	for _, f := range fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return meta.Field{}, false
}

// Write stores the migration in dir and returns its path
func (g *Generator) Write(dir string, m *Migration) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migration dir: %w", err)
	}
	path := filepath.Join(dir, m.FileName)
	if err := os.WriteFile(path, []byte(m.Content()), 0o644); err != nil {
		return "", fmt.Errorf("write migration %s: %w", m.FileName, err)
	}
	g.logger.Info("migration written", zap.String("file", m.FileName), zap.String("table", m.Table))
	return path, nil
}
