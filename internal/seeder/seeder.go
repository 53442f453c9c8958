// Package seeder generates bulk-insert seed files for models and checks the
// supplied rows against the model's fields.
package seeder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
)

// Input describes the seed data for one model
type Input struct {
	Name      string
	Rows      []map[string]interface{}
	Module    string
	ClassName string
	TableName string
	// Fields overrides the field set read back from the model file.
	Fields []meta.Field
}

// Seeder is a generated seed file
type Seeder struct {
	FileName    string   `json:"fileName"`
	Table       string   `json:"table"`
	Up          string   `json:"-"`
	Down        string   `json:"-"`
	Rows        int      `json:"rows"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Content renders the file content
func (s *Seeder) Content() string {
	header := fmt.Sprintf("Seeder: %s\nTable: %s\nRows: %d", strings.TrimSuffix(s.FileName, ".sql"), s.Table, s.Rows)
	return migration.Render(header, s.Up, s.Down)
}

// Generator renders seed files
type Generator struct {
	dialect   migration.Dialect
	codec     generator.Codec
	modelDirs func() []string
	now       func() time.Time
	logger    *zap.Logger
}

// NewGenerator creates a seeder generator. modelDirs lists the directories
// holding model files, which are read back to find table names and fields.
func NewGenerator(dialect migration.Dialect, codec generator.Codec, modelDirs func() []string, logger *zap.Logger) *Generator {
	if codec == nil {
		codec = generator.NewCodec()
	}
	if modelDirs == nil {
		modelDirs = func() []string { return nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{dialect: dialect, codec: codec, modelDirs: modelDirs, now: time.Now, logger: logger}
}

// WithClock overrides the time source used for file names and sample dates
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate renders a seed file. Validation findings are advisory and
// never prevent generation.
func (g *Generator) Generate(in Input) (*Seeder, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("seeder needs a name")
	}
	if len(in.Rows) == 0 {
		return nil, fmt.Errorf("seeder %s has no rows", in.Name)
	}

	source, found := g.readBack(in.Name)
	fields := in.Fields
	if len(fields) == 0 && found {
		fields = source.Fields
	}

	s := &Seeder{
		FileName: fmt.Sprintf("%s-%s.sql", g.now().UTC().Format(migration.TimestampFormat), strings.ToLower(in.Name)),
		Table:    g.tableName(in, source, found),
		Rows:     len(in.Rows),
	}
	if len(fields) > 0 {
		var opts meta.Options
		if found {
			opts = source.Options
		}
		s.Warnings, s.Suggestions = Validate(fields, opts, in.Rows)
		for _, w := range s.Warnings {
			g.logger.Warn("seed data warning", zap.String("seeder", in.Name), zap.String("warning", w))
		}
	}

	s.Up = g.inserts(s.Table, in.Rows)
	s.Down = fmt.Sprintf("DELETE FROM %s;", g.dialect.Quote(s.Table))
	return s, nil
}

// tableName prefers the explicit table, then the model file, then the
// pluralised class or model name.
func (g *Generator) tableName(in Input, source generator.ModelSource, found bool) string {
	if in.TableName != "" {
		return strings.ToLower(in.TableName)
	}
	if found {
		if t := source.Options.TableName(); t != "" {
			return t
		}
	}
	class := in.ClassName
	if class == "" {
		class = in.Name
	}
	return meta.ResolveTableName(class, in.Module, nil)
}

func (g *Generator) readBack(name string) (generator.ModelSource, bool) {
	for _, dir := range g.modelDirs() {
		src, err := generator.NewStore(dir).Read(name)
		if err != nil {
			continue
		}
		if parsed := g.codec.Decode(src); parsed.Valid() {
			return parsed, true
		}
	}
	return generator.ModelSource{}, false
}

// inserts renders one INSERT per run of rows sharing the same column set
func (g *Generator) inserts(table string, rows []map[string]interface{}) string {
	d := g.dialect
	var stmts []string
	var cols []string
	var values []string

	flush := func() {
		if len(values) == 0 {
			return
		}
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = d.Quote(c)
		}
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) VALUES\n\t%s;",
			d.Quote(table), strings.Join(quoted, ", "), strings.Join(values, ",\n\t")))
		values = nil
	}

	for _, row := range rows {
		rowCols := sortedKeys(row)
		if strings.Join(rowCols, "\x00") != strings.Join(cols, "\x00") {
			flush()
			cols = rowCols
		}
		lits := make([]string, len(cols))
		for i, c := range cols {
			lits[i] = d.Literal(row[c])
		}
		values = append(values, "("+strings.Join(lits, ", ")+")")
	}
	flush()
	return strings.Join(stmts, "\n")
}

func sortedKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks rows against fields. Unknown keys and type mismatches
// become warnings; missing required fields become suggestions.
func Validate(fields []meta.Field, opts meta.Options, rows []map[string]interface{}) (warnings, suggestions []string) {
	known := map[string]meta.Field{}
	for _, f := range fields {
		known[strings.ToLower(f.Name)] = f
	}
	model := &meta.Model{Definition: meta.Definition{Fields: fields, Options: opts}}
	implicit := map[string]bool{strings.ToLower(model.PrimaryKey()): true}
	if created, updated := model.TimestampColumns(); created != "" {
		implicit[strings.ToLower(created)] = true
		implicit[strings.ToLower(updated)] = true
	}

	for i, row := range rows {
		present := map[string]bool{}
		for _, key := range sortedKeys(row) {
			lk := strings.ToLower(key)
			present[lk] = true
			f, ok := known[lk]
			if !ok {
				if !implicit[lk] {
					warnings = append(warnings, fmt.Sprintf("row %d: unknown field %q", i+1, key))
				}
				continue
			}
			if msg := typeMismatch(f, row[key]); msg != "" {
				warnings = append(warnings, fmt.Sprintf("row %d: field %q %s", i+1, key, msg))
			}
		}
		for _, f := range fields {
			if f.Nullable() || f.PrimaryKey || f.AutoIncrement || f.DefaultValue != nil {
				continue
			}
			if !present[strings.ToLower(f.Name)] {
				suggestions = append(suggestions, fmt.Sprintf("row %d: add a value for required field %q", i+1, f.Name))
			}
		}
	}
	return warnings, suggestions
}

func typeMismatch(f meta.Field, v interface{}) string {
	if v == nil {
		return ""
	}
	switch f.Type {
	case meta.TypeInteger, meta.TypeBigInt, meta.TypeFloat, meta.TypeDouble, meta.TypeDecimal:
		switch v.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return ""
		}
		return fmt.Sprintf("expects a number, got %T", v)
	case meta.TypeBoolean:
		if _, ok := v.(bool); ok {
			return ""
		}
		return fmt.Sprintf("expects a boolean, got %T", v)
	case meta.TypeDate, meta.TypeDateOnly:
		switch v.(type) {
		case string, time.Time:
			return ""
		}
		return fmt.Sprintf("expects a date string, got %T", v)
	}
	return ""
}

// Write stores the seeder in dir and returns its path
func (g *Generator) Write(dir string, s *Seeder) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create seeder dir: %w", err)
	}
	path := filepath.Join(dir, s.FileName)
	if err := os.WriteFile(path, []byte(s.Content()), 0o644); err != nil {
		return "", fmt.Errorf("write seeder %s: %w", s.FileName, err)
	}
	g.logger.Info("seeder written", zap.String("file", s.FileName), zap.String("table", s.Table), zap.Int("rows", s.Rows))
	return path, nil
}
