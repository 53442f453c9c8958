package functions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/seeder"
)

// sampleRowCount is the number of rows in the seeder written with a new model
const sampleRowCount = 3

// ModelInput is the payload of createModel and updateModel
type ModelInput struct {
	Name         string             `json:"name"`
	ClassName    string             `json:"className"`
	Module       string             `json:"module"`
	TableName    string             `json:"tableName"`
	Fields       []meta.Field       `json:"fields"`
	Associations []meta.Association `json:"associations"`
	Options      meta.Options       `json:"options"`
}

// ModelInputFrom reads a ModelInput from call arguments
func ModelInputFrom(args Args) (ModelInput, error) {
	in := ModelInput{
		Name:      args.String("name", "modelName"),
		ClassName: args.String("className"),
		Module:    args.String("module", "moduleName"),
		TableName: args.String("tableName"),
	}
	if err := args.Decode("fields", &in.Fields); err != nil {
		return in, err
	}
	if err := args.Decode("associations", &in.Associations); err != nil {
		return in, err
	}
	if err := args.Decode("options", &in.Options); err != nil {
		return in, err
	}
	return in, nil
}

// names fills in whichever of name and className is missing
func (in *ModelInput) names() error {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.ClassName = strings.TrimSpace(in.ClassName)
	if in.Name == "" && in.ClassName == "" {
		return apperrors.NewValidationError("name", "model name is required")
	}
	if in.ClassName == "" {
		in.ClassName = meta.ToPascal(in.Name)
	}
	if in.Name == "" {
		in.Name = strings.ToLower(in.ClassName)
	}
	if err := meta.ValidateName("model", in.Name); err != nil {
		return apperrors.NewValidationError("name", err.Error())
	}
	if err := meta.ValidateName("class", in.ClassName); err != nil {
		return apperrors.NewValidationError("className", err.Error())
	}
	for _, f := range in.Fields {
		if name := strings.TrimSpace(f.Name); name != "" {
			if err := meta.ValidateName("field", name); err != nil {
				return apperrors.NewValidationError("fields", err.Error())
			}
		}
	}
	return nil
}

// CreateModel writes a new model and cascades into its metadata row,
// migration, sample seeder and a registry reload. Only the model file is
// critical; the later steps are reported but never undo it.
func (t *Tools) CreateModel(ctx context.Context, in ModelInput) (Result, error) {
	if err := in.names(); err != nil {
		return Result{}, err
	}
	if existing, ok := t.Schema.Snapshot().Get(in.Name); ok {
		if existing.IsSystem {
			return Result{}, apperrors.NewSystemProtectedError("model", in.Name)
		}
		return Result{}, apperrors.NewConflictError("model " + in.Name)
	}

	fields, warnings := meta.SanitizeFields(in.Fields)
	assocs, assocWarnings := meta.SanitizeAssociations(in.Associations)
	warnings = append(warnings, assocWarnings...)
	fields = meta.SynthesizeForeignKeys(fields, assocs)
	opts := in.Options.Clone()
	if in.TableName != "" {
		opts["tableName"] = in.TableName
	}

	out := NewOutcome("createModel")
	if in.Module != "" {
		m, created, err := t.Modules.Ensure(in.Module)
		if err != nil {
			out.Fail(fmt.Errorf("module %s: %w", in.Module, err))
			return out.Result(nil), nil
		}
		in.Module = m.Name
		if created {
			out.Add("module", "module "+m.Name+" created", nil)
		}
	}

	table := meta.ResolveTableName(in.ClassName, in.Module, opts)
	opts["modelName"] = in.Name
	opts["tableName"] = table
	def := meta.Definition{Fields: fields, Associations: assocs, Options: opts}

	dir, err := t.artifactDir(in.Module, "models")
	if err != nil {
		out.Fail(err)
		return out.Result(nil), nil
	}
	if generator.NewStore(dir).Exists(in.Name) {
		return Result{}, apperrors.NewConflictError("model file " + in.Name)
	}
	path, err := t.writeModel(dir, in, def)
	if err != nil {
		out.Fail(err)
		return out.Result(nil), nil
	}
	out.Succeed(fmt.Sprintf("Model %s created with table %s", in.ClassName, table))
	data := map[string]interface{}{
		"name": in.Name, "className": in.ClassName, "module": in.Module,
		"tableName": table, "file": path, "fields": fields,
	}

	out.Add("metadata", "", t.saveDefinition(ctx, in.Name, in.ClassName, in.Module, def))

	mig, err := t.writeMigration(migration.Input{
		Name: in.Name, ClassName: in.ClassName, Module: in.Module,
		Fields: fields, Associations: assocs, Options: opts, IsNew: true,
	})
	if err == nil {
		data["migration"] = mig
		out.Add("migration", "migration "+mig+" generated", nil)
	} else {
		out.Add("migration", "", err)
	}

	seed, err := t.writeSampleSeeder(in.Name, in.ClassName, in.Module, table, fields)
	if err == nil {
		data["seeder"] = seed
		out.Add("seeder", "seeder "+seed+" generated", nil)
	} else {
		out.Add("seeder", "", err)
	}

	out.Add("reload", "", t.reload(ctx))
	if len(warnings) > 0 {
		data["warnings"] = warnings
	}
	t.logOutcome(out)
	return out.Result(data), nil
}

// UpdateModel merges the input into the existing definition, rewrites the
// model file and generates a modify migration for the new columns.
func (t *Tools) UpdateModel(ctx context.Context, in ModelInput) (Result, error) {
	if err := in.names(); err != nil {
		return Result{}, err
	}
	existing, err := t.findModel(in.Name)
	if err != nil {
		return Result{}, err
	}
	if existing.IsSystem {
		return Result{}, apperrors.NewSystemProtectedError("model", existing.Name)
	}

	incoming, warnings := meta.SanitizeFields(in.Fields)
	incomingAssocs, assocWarnings := meta.SanitizeAssociations(in.Associations)
	warnings = append(warnings, assocWarnings...)

	assocs := MergeAssociations(existing.Definition.Associations, incomingAssocs)
	fields := meta.SynthesizeForeignKeys(MergeFields(existing.Definition.Fields, incoming), assocs)
	opts := MergeOptions(existing.Definition.Options, in.Options)
	if in.TableName != "" {
		opts["tableName"] = in.TableName
	}

	target := ModelInput{Name: existing.Name, ClassName: existing.ClassName, Module: existing.Module}
	table := meta.ResolveTableName(target.ClassName, target.Module, opts)
	opts["modelName"] = target.Name
	opts["tableName"] = table
	def := meta.Definition{Fields: fields, Associations: assocs, Options: opts}

	out := NewOutcome("updateModel")
	dir, err := t.artifactDir(target.Module, "models")
	if err != nil {
		out.Fail(err)
		return out.Result(nil), nil
	}
	path, err := t.writeModel(dir, target, def)
	if err != nil {
		out.Fail(err)
		return out.Result(nil), nil
	}
	out.Succeed(fmt.Sprintf("Model %s updated", target.ClassName))
	data := map[string]interface{}{
		"name": target.Name, "className": target.ClassName, "module": target.Module,
		"tableName": table, "file": path, "fields": fields, "associations": assocs,
	}

	out.Add("metadata", "", t.saveDefinition(ctx, target.Name, target.ClassName, target.Module, def))

	m, err := t.Migrations.Generate(migration.Input{
		Name: target.Name, ClassName: target.ClassName, Module: target.Module,
		Fields: fields, Associations: assocs, Options: opts,
		Existing: existing.Columns(),
	})
	switch {
	case err != nil:
		out.Add("migration", "", err)
	case m.Empty():
		out.Add("migration", "no new columns", nil)
	default:
		file, err := t.saveMigration(target.Module, m)
		if err == nil {
			data["migration"] = file
			out.Add("migration", "migration "+file+" generated", nil)
		} else {
			out.Add("migration", "", err)
		}
	}

	out.Add("reload", "", t.reload(ctx))
	if len(warnings) > 0 {
		data["warnings"] = warnings
	}
	t.logOutcome(out)
	return out.Result(data), nil
}

// DeleteModel removes the model file and, best effort, its metadata row.
// With dropTable a drop migration is generated as well.
func (t *Tools) DeleteModel(ctx context.Context, name string, dropTable bool) (Result, error) {
	existing, err := t.findModel(name)
	if err != nil {
		return Result{}, err
	}
	if existing.IsSystem {
		return Result{}, apperrors.NewSystemProtectedError("model", existing.Name)
	}

	out := NewOutcome("deleteModel")
	removed := 0
	for _, dir := range t.Modules.ModelDirs() {
		store := generator.NewStore(dir)
		if !store.Exists(existing.Name) {
			continue
		}
		if err := store.Delete(existing.Name); err != nil {
			out.Fail(err)
			return out.Result(nil), nil
		}
		removed++
	}
	out.Succeed(fmt.Sprintf("Model %s deleted", existing.ClassName))

	if t.DB != nil {
		err := t.DB.WithContext(ctx).Where("name = ?", existing.Name).Delete(&models.ModelDefinition{}).Error
		out.Add("metadata", "", err)
	}

	data := map[string]interface{}{"name": existing.Name, "filesRemoved": removed}
	if dropTable {
		m, err := t.Migrations.GenerateDrop(*existing)
		if err == nil {
			var file string
			if file, err = t.saveMigration(existing.Module, m); err == nil {
				data["migration"] = file
				out.Add("migration", "drop migration "+file+" generated", nil)
			}
		}
		if err != nil {
			out.Add("migration", "", err)
		}
	}

	out.Add("reload", "", t.reload(ctx))
	t.logOutcome(out)
	return out.Result(data), nil
}

// GenerateMigration writes a migration for a registered model. With isNew
// unset the mode follows whether the table exists.
func (t *Tools) GenerateMigration(ctx context.Context, name string, isNew *bool) (Result, error) {
	model, err := t.findModel(name)
	if err != nil {
		return Result{}, err
	}

	var existing []string
	create := true
	if t.DB != nil {
		mig := t.DB.WithContext(ctx).Migrator()
		if mig.HasTable(model.TableName) {
			create = false
			cols, err := mig.ColumnTypes(model.TableName)
			if err != nil {
				return Result{}, fmt.Errorf("failed to read columns of %s: %w", model.TableName, err)
			}
			for _, c := range cols {
				existing = append(existing, c.Name())
			}
		}
	}
	if isNew != nil {
		create = *isNew
	}

	m, err := t.Migrations.Generate(migration.Input{
		Name: model.Name, ClassName: model.ClassName, Module: model.Module,
		Fields: model.Definition.Fields, Associations: model.Definition.Associations,
		Options: model.Definition.Options, IsNew: create, Existing: existing,
	})
	if err != nil {
		return Result{}, err
	}
	if m.Empty() {
		return Ok(fmt.Sprintf("Table %s already has every column of %s", m.Table, model.Name), map[string]interface{}{"table": m.Table})
	}
	file, err := t.saveMigration(model.Module, m)
	if err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Migration %s generated", file), map[string]interface{}{
		"file": file, "mode": m.Mode, "table": m.Table, "columns": m.Columns, "warnings": m.Warnings,
	})
}

// GenerateSeeder writes a seeder for a model from rows, or from count
// synthesised sample rows when rows is empty.
func (t *Tools) GenerateSeeder(name string, rows []map[string]interface{}, count int, module, table string) (Result, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Result{}, apperrors.NewValidationError("modelName", "model name is required")
	}
	in := seeder.Input{Name: name, Rows: rows, Module: module, TableName: table}
	if model, ok := t.Schema.Snapshot().Lookup(name); ok {
		in.ClassName = model.ClassName
		in.Fields = model.Definition.Fields
		if in.Module == "" {
			in.Module = model.Module
		}
		if in.TableName == "" {
			in.TableName = model.TableName
		}
	}
	if len(in.Rows) == 0 {
		if len(in.Fields) == 0 {
			return Result{}, apperrors.NewValidationError("data", "no rows given and the model has no fields to sample")
		}
		if count <= 0 {
			count = sampleRowCount
		}
		in.Rows = seeder.SampleRows(in.Fields, count, t.now())
	}

	s, err := t.Seeders.Generate(in)
	if err != nil {
		return Result{}, err
	}
	dir, err := t.artifactDir(in.Module, "seeders")
	if err != nil {
		return Result{}, err
	}
	if _, err := t.Seeders.Write(dir, s); err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Seeder %s generated with %d rows", s.FileName, s.Rows), s)
}

// findModel resolves name in the current snapshot, falling back to the
// model files when the snapshot has not caught up yet
func (t *Tools) findModel(name string) (*meta.Model, error) {
	snap := t.Schema.Snapshot()
	if m, ok := snap.Lookup(name); ok {
		return m, nil
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, dir := range t.Modules.ModelDirs() {
		src, err := generator.NewStore(dir).Read(lower)
		if err != nil {
			continue
		}
		parsed := t.Codec.Decode(src)
		if !parsed.Valid() {
			continue
		}
		module := moduleOfDir(dir, t.Paths.Models)
		return &meta.Model{
			Name:       lower,
			ClassName:  parsed.ClassName,
			TableName:  meta.ResolveTableName(parsed.ClassName, module, parsed.Options),
			Module:     module,
			Definition: parsed.Definition(),
		}, nil
	}
	return nil, apperrors.NewNotFound("model", name, snap.Names())
}

func (t *Tools) writeModel(dir string, in ModelInput, def meta.Definition) (string, error) {
	src, err := t.Codec.Encode(generator.Spec{
		Name: in.Name, ClassName: in.ClassName, Module: in.Module,
		Fields: def.Fields, Associations: def.Associations, Options: def.Options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate model source: %w", err)
	}
	path, err := generator.NewStore(dir).Write(in.Name, src)
	if err != nil {
		return "", fmt.Errorf("failed to write model file: %w", err)
	}
	return path, nil
}

// saveDefinition upserts the ModelDefinition row keyed by name
func (t *Tools) saveDefinition(ctx context.Context, name, className, module string, def meta.Definition) error {
	if t.DB == nil {
		return errors.New("metadata store unavailable")
	}
	row := models.NewModelDefinition(name, className, module, def)
	return t.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"class_name", "definition", "module", "updated_at"}),
	}).Create(&row).Error
}

func (t *Tools) writeMigration(in migration.Input) (string, error) {
	m, err := t.Migrations.Generate(in)
	if err != nil {
		return "", err
	}
	return t.saveMigration(in.Module, m)
}

func (t *Tools) saveMigration(module string, m *migration.Migration) (string, error) {
	dir, err := t.artifactDir(module, "migrations")
	if err != nil {
		return "", err
	}
	if _, err := t.Migrations.Write(dir, m); err != nil {
		return "", err
	}
	return m.FileName, nil
}

func (t *Tools) writeSampleSeeder(name, className, module, table string, fields []meta.Field) (string, error) {
	rows := seeder.SampleRows(fields, sampleRowCount, t.now())
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", errors.New("no sample values could be derived from the fields")
	}
	s, err := t.Seeders.Generate(seeder.Input{
		Name: name, Rows: rows, Module: module, ClassName: className, TableName: table, Fields: fields,
	})
	if err != nil {
		return "", err
	}
	dir, err := t.artifactDir(module, "seeders")
	if err != nil {
		return "", err
	}
	if _, err := t.Seeders.Write(dir, s); err != nil {
		return "", err
	}
	return s.FileName, nil
}

// artifactDir returns the directory of kind for module, or the default one
func (t *Tools) artifactDir(module, kind string) (string, error) {
	if module == "" {
		switch kind {
		case "models":
			return t.Paths.Models, nil
		case "migrations":
			return t.Paths.Migrations, nil
		default:
			return t.Paths.Seeders, nil
		}
	}
	m, err := t.Modules.Get(module)
	if err != nil {
		return "", err
	}
	return m.Dir(kind), nil
}

func (t *Tools) reload(ctx context.Context) error {
	_, err := t.Schema.Reload(ctx)
	return err
}

func (t *Tools) logOutcome(o *Outcome) {
	for _, s := range o.Failed() {
		t.Logger.Warn("cascade step failed",
			zap.String("operation", o.Primary.Name), zap.String("step", s.Name), zap.String("error", s.Error))
	}
}

// moduleOfDir maps a models directory back to its module name
func moduleOfDir(dir, defaultDir string) string {
	if dir == defaultDir {
		return ""
	}
	return filepath.Base(filepath.Dir(dir))
}
