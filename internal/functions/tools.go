package functions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/engine"
	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/module"
	"github.com/aethra/lowcode/internal/registry"
	"github.com/aethra/lowcode/internal/seeder"
)

// SchemaSource is the model registry the tools read and reload
type SchemaSource interface {
	Snapshot() *registry.Snapshot
	Reload(ctx context.Context) (*registry.Snapshot, error)
}

// Runner applies and reverts SQL artifact files
type Runner interface {
	Up(ctx context.Context) ([]string, error)
	Down(ctx context.Context, steps int) ([]string, error)
	Apply(ctx context.Context, name string) (bool, error)
	Status(ctx context.Context) ([]migration.FileStatus, error)
}

// Deps are the services the manual tools operate on
type Deps struct {
	DB          *gorm.DB
	Schema      SchemaSource
	Modules     *module.Registry
	Codec       generator.Codec
	Migrations  *migration.Generator
	Seeders     *seeder.Generator
	Migrator    Runner
	Seeds       Runner
	Permissions *auth.PermissionService
	Paths       config.PathsConfig
	Logger      *zap.Logger
	Now         func() time.Time
}

// Tools implements the manually declared administrative tools
type Tools struct {
	Deps
}

// NewTools creates the tool set
func NewTools(d Deps) *Tools {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Codec == nil {
		d.Codec = generator.NewCodec()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Tools{Deps: d}
}

func (t *Tools) now() time.Time { return t.Now() }

// FileWriting lists the tools that write source files. Chat executes them
// after every other call.
var FileWriting = map[string]bool{
	"createModel":     true,
	"updateModel":     true,
	"createMigration": true,
}

// Install registers every manual tool in r
func (t *Tools) Install(r *Registry) error {
	for _, tool := range t.list() {
		if err := r.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name, err)
		}
	}
	return nil
}

func tool(name, description string, schema map[string]string, fn Func, aliases ...string) Tool {
	return Tool{
		Descriptor: Descriptor{Name: name, Description: description, InputSchema: Schema(schema)},
		Aliases:    aliases,
		Func:       fn,
	}
}

func (t *Tools) list() []Tool {
	modelSchema := map[string]string{
		"name!": "string", "className": "string", "module": "string", "tableName": "string",
		"fields": "array", "associations": "array", "options": "object",
	}
	return []Tool{
		// cruds
		tool("createCrud", "Create a CRUD interface over a model",
			map[string]string{"name!": "string", "title": "string", "icon": "string", "resource!": "string",
				"endpoint": "string", "config": "object", "active": "boolean"}, t.createCrud),
		tool("getCrud", "Get a CRUD interface by name or id",
			map[string]string{"name": "string", "id": "integer"}, t.getCrud),
		tool("getCruds", "List CRUD interfaces",
			map[string]string{"active": "boolean"}, t.getCruds),
		tool("updateCrud", "Update a CRUD interface; config keys are merged",
			map[string]string{"name": "string", "id": "integer", "title": "string", "icon": "string",
				"resource": "string", "endpoint": "string", "config": "object", "active": "boolean"}, t.updateCrud),

		// functions and menus
		tool("createFunction", "Record a callable function",
			map[string]string{"name!": "string", "description": "string", "controller": "string",
				"method": "string", "inputSchema": "object"}, t.createFunction),
		tool("createMenu", "Create a navigation menu",
			map[string]string{"name!": "string", "title": "string", "icon": "string", "order": "integer"}, t.createMenu),
		tool("createMenuItem", "Add an item to a menu",
			map[string]string{"menu!": "string", "title!": "string", "icon": "string", "route": "string",
				"crudName": "string", "parentId": "integer", "order": "integer"}, t.createMenuItem),

		// models
		tool("createModel", "Create a model: source file, metadata, migration and sample seeder",
			modelSchema, t.createModel),
		tool("updateModel", "Merge fields, associations and options into an existing model",
			modelSchema, t.updateModel),
		tool("deleteModel", "Delete a model file and its metadata",
			map[string]string{"name!": "string", "dropTable": "boolean"}, t.deleteModel),
		tool("getModels", "List registered models",
			map[string]string{"module": "string"}, t.getModels),
		tool("getModel", "Get a registered model with its fields and associations",
			map[string]string{"name!": "string"}, t.getModel),

		// migrations and seeders
		tool("createMigration", "Generate a migration for a registered model",
			map[string]string{"modelName!": "string", "isNew": "boolean"}, t.createMigration),
		tool("runMigration", "Apply pending migrations, or roll back with direction=down",
			map[string]string{"direction": "string", "steps": "integer"}, t.runMigration),
		tool("generateSeeder", "Generate a seeder from rows or synthesised sample rows",
			map[string]string{"modelName!": "string", "data": "array", "count": "integer",
				"module": "string", "tableName": "string"}, t.generateSeeder, "createSeeder"),
		tool("runSeeder", "Run pending seeders, one seeder by name, or roll back with direction=down",
			map[string]string{"name": "string", "direction": "string", "steps": "integer"}, t.runSeeder),
		tool("reloadDynamicRoutes", "Reload the model registry used by the dynamic API",
			nil, t.reloadRoutes),

		// permissions and systems
		tool("assignPermissionsToRole", "Grant permissions to a role",
			map[string]string{"role!": "string", "permissions!": "array"}, t.assignPermissions),
		tool("getSystems", "List systems", nil, t.getSystems),
		tool("getRoles", "List roles with their permissions", nil, t.getRoles),

		// modules
		tool("createModule", "Scaffold a new module",
			map[string]string{"name!": "string", "title": "string", "description": "string",
				"version": "string", "dependencies": "array"}, t.createModule),
		tool("getModules", "List modules in dependency order", nil, t.getModules),
		tool("installModule", "Install a module and its dependencies",
			map[string]string{"name!": "string"}, t.installModule),
		tool("uninstallModule", "Uninstall a module",
			map[string]string{"name!": "string"}, t.uninstallModule),
	}
}

// =============================================================================
// CRUDS
// =============================================================================

func (t *Tools) createCrud(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name")
	if err != nil {
		return Result{}, err
	}
	resource, err := args.Require("resource", "model", "modelName")
	if err != nil {
		return Result{}, err
	}
	crud := models.Crud{
		Name:     name,
		Title:    args.String("title"),
		Icon:     args.String("icon"),
		Resource: resource,
		Endpoint: args.String("endpoint"),
		Config:   models.JSONB(args.Map("config")),
		Active:   true,
	}
	if crud.Title == "" {
		crud.Title = crud.Name
	}
	if crud.Endpoint == "" {
		crud.Endpoint = "/api/" + crud.Name
	}
	if crud.Config == nil {
		crud.Config = models.JSONB{}
	}

	db := t.DB.WithContext(ctx)
	if err := db.Create(&crud).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Result{}, apperrors.NewConflictError("crud " + name)
		}
		return Result{}, err
	}
	if !args.Bool("active", true) {
		if err := db.Model(&crud).Update("active", false).Error; err != nil {
			return Result{}, err
		}
	}

	msg := fmt.Sprintf("Crud %s created at %s", crud.Name, crud.Endpoint)
	if _, ok := engine.ResolveModel(t.Schema.Snapshot(), resource); !ok {
		msg += fmt.Sprintf("; model %s is not registered yet", resource)
	}
	return Ok(msg, crud)
}

func (t *Tools) findCrud(ctx context.Context, args Args) (*models.Crud, error) {
	db := t.DB.WithContext(ctx)
	var crud models.Crud
	var err error
	if id := args.Int("id", 0); id > 0 {
		err = db.First(&crud, id).Error
	} else {
		name, rerr := args.Require("name", "crudName")
		if rerr != nil {
			return nil, rerr
		}
		err = db.Where("name = ?", name).First(&crud).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var names []string
		db.Model(&models.Crud{}).Order("name").Pluck("name", &names)
		return nil, apperrors.NewNotFound("crud", args.String("name", "crudName", "id"), names)
	}
	if err != nil {
		return nil, err
	}
	return &crud, nil
}

func (t *Tools) getCrud(ctx context.Context, args Args) (Result, error) {
	crud, err := t.findCrud(ctx, args)
	if err != nil {
		return Result{}, err
	}
	return Ok("Crud "+crud.Name, crud)
}

func (t *Tools) getCruds(ctx context.Context, args Args) (Result, error) {
	query := t.DB.WithContext(ctx).Order("name")
	if _, ok := args["active"]; ok {
		query = query.Where("active = ?", args.Bool("active", true))
	}
	var cruds []models.Crud
	if err := query.Find(&cruds).Error; err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("%d cruds", len(cruds)), cruds)
}

func (t *Tools) updateCrud(ctx context.Context, args Args) (Result, error) {
	crud, err := t.findCrud(ctx, args)
	if err != nil {
		return Result{}, err
	}
	if crud.IsSystem {
		return Result{}, apperrors.NewSystemProtectedError("crud", crud.Name)
	}

	updates := map[string]interface{}{}
	for _, key := range []string{"title", "icon", "resource", "endpoint"} {
		if v := args.String(key); v != "" {
			updates[key] = v
		}
	}
	if _, ok := args["active"]; ok {
		updates["active"] = args.Bool("active", true)
	}
	if cfg := args.Map("config"); cfg != nil {
		merged := crud.Config.Clone()
		if merged == nil {
			merged = models.JSONB{}
		}
		for k, v := range cfg {
			merged[k] = v
		}
		updates["config"] = merged
	}
	if len(updates) == 0 {
		return Result{}, apperrors.NewValidationError("crud", "nothing to update")
	}

	db := t.DB.WithContext(ctx)
	if err := db.Model(crud).Updates(updates).Error; err != nil {
		return Result{}, err
	}
	if err := db.First(crud, crud.ID).Error; err != nil {
		return Result{}, err
	}
	return Ok("Crud "+crud.Name+" updated", crud)
}

// =============================================================================
// FUNCTIONS AND MENUS
// =============================================================================

func (t *Tools) createFunction(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name")
	if err != nil {
		return Result{}, err
	}
	fn := models.Function{
		Name:        name,
		Description: args.String("description"),
		Controller:  args.String("controller"),
		Method:      args.String("method"),
		InputSchema: models.JSONB(args.Map("inputSchema")),
		Active:      true,
	}
	if fn.InputSchema == nil {
		fn.InputSchema = models.JSONB(Schema(nil))
	}
	if err := t.DB.WithContext(ctx).Create(&fn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Result{}, apperrors.NewConflictError("function " + name)
		}
		return Result{}, err
	}
	return Ok("Function "+name+" created", fn)
}

func (t *Tools) createMenu(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name")
	if err != nil {
		return Result{}, err
	}
	menu := models.Menu{
		Name:   name,
		Title:  args.String("title"),
		Icon:   args.String("icon"),
		Order:  args.Int("order", 0),
		Active: true,
	}
	if menu.Title == "" {
		menu.Title = name
	}
	if err := t.DB.WithContext(ctx).Create(&menu).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Result{}, apperrors.NewConflictError("menu " + name)
		}
		return Result{}, err
	}
	return Ok("Menu "+name+" created", menu)
}

func (t *Tools) createMenuItem(ctx context.Context, args Args) (Result, error) {
	title, err := args.Require("title")
	if err != nil {
		return Result{}, err
	}
	db := t.DB.WithContext(ctx)

	var menu models.Menu
	if id := args.Int("menuId", 0); id > 0 {
		err = db.First(&menu, id).Error
	} else {
		ref, rerr := args.Require("menu", "menuName")
		if rerr != nil {
			return Result{}, rerr
		}
		err = db.Where("name = ?", ref).First(&menu).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var names []string
		db.Model(&models.Menu{}).Order("name").Pluck("name", &names)
		return Result{}, apperrors.NewNotFound("menu", args.String("menu", "menuName", "menuId"), names)
	}
	if err != nil {
		return Result{}, err
	}

	item := models.MenuItem{
		MenuID:   menu.ID,
		Title:    title,
		Icon:     args.String("icon"),
		Route:    args.String("route"),
		CrudName: args.String("crudName", "crud"),
		Order:    args.Int("order", 0),
		Active:   true,
	}
	if parent := args.Int("parentId", 0); parent > 0 {
		p := uint(parent)
		item.ParentID = &p
	}
	if item.Route == "" && item.CrudName != "" {
		item.Route = "/" + item.CrudName
	}
	if err := db.Create(&item).Error; err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Menu item %s added to %s", title, menu.Name), item)
}

// =============================================================================
// MODELS
// =============================================================================

func (t *Tools) createModel(ctx context.Context, args Args) (Result, error) {
	in, err := ModelInputFrom(args)
	if err != nil {
		return Result{}, err
	}
	return t.CreateModel(ctx, in)
}

func (t *Tools) updateModel(ctx context.Context, args Args) (Result, error) {
	in, err := ModelInputFrom(args)
	if err != nil {
		return Result{}, err
	}
	return t.UpdateModel(ctx, in)
}

func (t *Tools) deleteModel(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name", "modelName")
	if err != nil {
		return Result{}, err
	}
	return t.DeleteModel(ctx, name, args.Bool("dropTable", true))
}

// ModelSummary is the listing entry of a model
type ModelSummary struct {
	Name      string `json:"name"`
	ClassName string `json:"className"`
	TableName string `json:"tableName"`
	Module    string `json:"module,omitempty"`
	IsSystem  bool   `json:"isSystem"`
	Fields    int    `json:"fields"`
}

// Models lists the registered models, optionally filtered by module
func (t *Tools) Models(module string) []ModelSummary {
	var out []ModelSummary
	for _, m := range t.Schema.Snapshot().Models() {
		if module != "" && !strings.EqualFold(m.Module, module) {
			continue
		}
		out = append(out, ModelSummary{
			Name: m.Name, ClassName: m.ClassName, TableName: m.TableName,
			Module: m.Module, IsSystem: m.IsSystem, Fields: len(m.Definition.Fields),
		})
	}
	return out
}

func (t *Tools) getModels(_ context.Context, args Args) (Result, error) {
	list := t.Models(args.String("module"))
	return Ok(fmt.Sprintf("%d models", len(list)), list)
}

func (t *Tools) getModel(_ context.Context, args Args) (Result, error) {
	name, err := args.Require("name", "modelName")
	if err != nil {
		return Result{}, err
	}
	m, err := t.findModel(name)
	if err != nil {
		return Result{}, err
	}
	return Ok("Model "+m.ClassName, m)
}

// =============================================================================
// MIGRATIONS AND SEEDERS
// =============================================================================

func (t *Tools) createMigration(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("modelName", "name", "model")
	if err != nil {
		return Result{}, err
	}
	var isNew *bool
	if _, ok := args["isNew"]; ok {
		v := args.Bool("isNew", true)
		isNew = &v
	}
	return t.GenerateMigration(ctx, name, isNew)
}

func (t *Tools) runMigration(ctx context.Context, args Args) (Result, error) {
	if strings.EqualFold(args.String("direction"), "down") {
		reverted, err := t.Migrator.Down(ctx, args.Int("steps", 1))
		if err != nil {
			return Result{}, err
		}
		t.reloadQuietly(ctx)
		return Ok(fmt.Sprintf("%d migrations reverted", len(reverted)), reverted)
	}
	applied, err := t.Migrator.Up(ctx)
	if err != nil {
		return Result{Message: err.Error(), Data: applied}, nil
	}
	t.reloadQuietly(ctx)
	if len(applied) == 0 {
		return Ok("No pending migrations", applied)
	}
	return Ok(fmt.Sprintf("%d migrations applied", len(applied)), applied)
}

func (t *Tools) generateSeeder(_ context.Context, args Args) (Result, error) {
	name, err := args.Require("modelName", "name", "model")
	if err != nil {
		return Result{}, err
	}
	var rows []map[string]interface{}
	for _, key := range []string{"data", "rows"} {
		if err := args.Decode(key, &rows); err != nil {
			return Result{}, err
		}
		if len(rows) > 0 {
			break
		}
	}
	return t.GenerateSeeder(name, rows, args.Int("count", 0), args.String("module"), args.String("tableName"))
}

func (t *Tools) runSeeder(ctx context.Context, args Args) (Result, error) {
	if strings.EqualFold(args.String("direction"), "down") {
		reverted, err := t.Seeds.Down(ctx, args.Int("steps", 1))
		if err != nil {
			return Result{}, err
		}
		return Ok(fmt.Sprintf("%d seeders reverted", len(reverted)), reverted)
	}
	if name := args.String("name", "seeder"); name != "" {
		applied, err := t.Seeds.Apply(ctx, name)
		if err != nil {
			return Result{}, err
		}
		if !applied {
			return Ok("Seeder "+name+" was already applied", nil)
		}
		return Ok("Seeder "+name+" applied", []string{name})
	}
	applied, err := t.Seeds.Up(ctx)
	if err != nil {
		return Result{Message: err.Error(), Data: applied}, nil
	}
	if len(applied) == 0 {
		return Ok("No pending seeders", applied)
	}
	return Ok(fmt.Sprintf("%d seeders applied", len(applied)), applied)
}

func (t *Tools) reloadRoutes(ctx context.Context, _ Args) (Result, error) {
	snap, err := t.Schema.Reload(ctx)
	if err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Registry reloaded: %d models (version %d)", len(snap.Names()), snap.Version),
		map[string]interface{}{"version": snap.Version, "models": snap.Names()})
}

func (t *Tools) reloadQuietly(ctx context.Context) {
	if err := t.reload(ctx); err != nil {
		t.Logger.Warn("registry reload failed", zap.Error(err))
	}
}

// =============================================================================
// PERMISSIONS AND SYSTEMS
// =============================================================================

func (t *Tools) assignPermissions(ctx context.Context, args Args) (Result, error) {
	role, err := args.Require("role", "roleName")
	if err != nil {
		return Result{}, err
	}
	perms := args.Strings("permissions")
	if len(perms) == 0 {
		return Result{}, apperrors.NewValidationError("permissions", "at least one permission is required")
	}
	updated, err := t.Permissions.AssignPermissions(ctx, role, perms)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var names []string
		t.DB.WithContext(ctx).Model(&models.Role{}).Order("name").Pluck("name", &names)
		return Result{}, apperrors.NewNotFound("role", role, names)
	}
	if err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Role %s now has %d permissions", updated.Name, len(updated.Permissions)), updated)
}

func (t *Tools) getSystems(ctx context.Context, _ Args) (Result, error) {
	var systems []models.System
	if err := t.DB.WithContext(ctx).Order("name").Find(&systems).Error; err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("%d systems", len(systems)), systems)
}

func (t *Tools) getRoles(ctx context.Context, _ Args) (Result, error) {
	var roles []models.Role
	if err := t.DB.WithContext(ctx).Preload("Permissions").Order("name").Find(&roles).Error; err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("%d roles", len(roles)), roles)
}

// =============================================================================
// MODULES
// =============================================================================

func (t *Tools) createModule(_ context.Context, args Args) (Result, error) {
	name, err := args.Require("name")
	if err != nil {
		return Result{}, err
	}
	spec := module.CreateSpec{
		Name:         name,
		Title:        args.String("title"),
		Description:  args.String("description"),
		Version:      args.String("version"),
		Dependencies: args.Strings("dependencies"),
	}
	if _, ok := args["enabled"]; ok {
		v := args.Bool("enabled", true)
		spec.Enabled = &v
	}
	m, err := t.Modules.Create(spec)
	if err != nil {
		return Result{}, err
	}
	return Ok("Module "+m.Name+" created", m)
}

func (t *Tools) getModules(_ context.Context, _ Args) (Result, error) {
	list, err := t.Modules.Discover()
	if err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("%d modules", len(list)), list)
}

func (t *Tools) installModule(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name", "module")
	if err != nil {
		return Result{}, err
	}
	m, err := t.Modules.Install(ctx, name)
	if err != nil {
		return Result{}, err
	}
	t.reloadQuietly(ctx)
	return Ok("Module "+m.Name+" installed", m)
}

func (t *Tools) uninstallModule(ctx context.Context, args Args) (Result, error) {
	name, err := args.Require("name", "module")
	if err != nil {
		return Result{}, err
	}
	m, err := t.Modules.Uninstall(ctx, name)
	if err != nil {
		return Result{}, err
	}
	t.reloadQuietly(ctx)
	return Ok("Module "+m.Name+" uninstalled", m)
}
