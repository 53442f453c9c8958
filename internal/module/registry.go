package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/meta"
)

// FileRunner applies or reverts single named SQL files
type FileRunner interface {
	Apply(ctx context.Context, name string) (bool, error)
	Revert(ctx context.Context, name string) (bool, error)
}

// Migrator applies all pending migrations
type Migrator interface {
	Up(ctx context.Context) ([]string, error)
}

// Dirs holds the default (non-module) artifact directories
type Dirs struct {
	Models     string
	Migrations string
	Seeders    string
}

// DependencyStatus is the result of CheckDependencies
type DependencyStatus struct {
	Missing      []string `json:"missing"`
	NotFound     []string `json:"notFound,omitempty"`
	AllInstalled bool     `json:"allInstalled"`
}

// Registry manages the modules under one root directory
type Registry struct {
	root     string
	defaults Dirs
	logger   *zap.Logger

	mu       sync.Mutex
	migrator Migrator
	seeds    FileRunner
}

// NewRegistry creates a registry for modules under root
func NewRegistry(root string, defaults Dirs, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{root: root, defaults: defaults, logger: logger}
}

// SetRunners wires the migration and seeder runners used on install
func (r *Registry) SetRunners(migrator Migrator, seeds FileRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrator = migrator
	r.seeds = seeds
}

// Root returns the modules directory
func (r *Registry) Root() string { return r.root }

// Discover reads every module descriptor under root, in dependency order
func (r *Registry) Discover() ([]Module, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read modules directory: %w", err)
	}

	var modules []Module
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, ok, err := load(filepath.Join(r.root, e.Name()))
		if err != nil {
			r.logger.Warn("skipping module", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		if ok {
			modules = append(modules, m)
		}
	}
	return r.SortByDependencies(modules), nil
}

// Get returns one module by name
func (r *Registry) Get(name string) (Module, error) {
	modules, err := r.Discover()
	if err != nil {
		return Module{}, err
	}
	for _, m := range modules {
		if m.Name == name {
			return m, nil
		}
	}
	return Module{}, apperrors.NewNotFound("module", name, names(modules))
}

// CheckDependencies reports which dependencies of name are not enabled
func (r *Registry) CheckDependencies(name string) (DependencyStatus, error) {
	modules, err := r.Discover()
	if err != nil {
		return DependencyStatus{}, err
	}
	byName := index(modules)
	m, ok := byName[name]
	if !ok {
		return DependencyStatus{}, apperrors.NewNotFound("module", name, names(modules))
	}

	status := DependencyStatus{Missing: []string{}}
	for _, dep := range m.Dependencies {
		d, found := byName[dep]
		if !found {
			status.NotFound = append(status.NotFound, dep)
		}
		if !found || !d.Enabled {
			status.Missing = append(status.Missing, dep)
		}
	}
	status.AllInstalled = len(status.Missing) == 0
	return status, nil
}

// SortByDependencies orders modules so each comes after its dependencies,
// with the system module first. Dependencies that are not in the list are
// ignored. A cycle is logged and its members are appended in input order.
func (r *Registry) SortByDependencies(modules []Module) []Module {
	present := map[string]bool{}
	for _, m := range modules {
		present[m.Name] = true
	}

	out := make([]Module, 0, len(modules))
	emitted := map[string]bool{}
	for _, m := range modules {
		if m.Name == SystemModule {
			out = append(out, m)
			emitted[m.Name] = true
		}
	}

	for len(out) < len(modules) {
		progressed := false
		for _, m := range modules {
			if emitted[m.Name] || !ready(m, present, emitted) {
				continue
			}
			out = append(out, m)
			emitted[m.Name] = true
			progressed = true
			break
		}
		if progressed {
			continue
		}

		var cyclic []string
		for _, m := range modules {
			if !emitted[m.Name] {
				cyclic = append(cyclic, m.Name)
				out = append(out, m)
				emitted[m.Name] = true
			}
		}
		r.logger.Warn("cyclic module dependencies, keeping discovery order", zap.Strings("modules", cyclic))
	}
	return out
}

func ready(m Module, present, emitted map[string]bool) bool {
	for _, dep := range m.Dependencies {
		if present[dep] && !emitted[dep] {
			return false
		}
	}
	return true
}

// Install enables name, installing disabled dependencies first, applies
// pending migrations and runs the module's install seeders.
func (r *Registry) Install(ctx context.Context, name string) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.install(ctx, name, map[string]bool{}, map[string]bool{})
}

// install walks dependencies depth first. visiting holds the current path
// and done the modules installed during this call.
func (r *Registry) install(ctx context.Context, name string, visiting, done map[string]bool) (Module, error) {
	if visiting[name] {
		return Module{}, apperrors.NewDependencyConflict(fmt.Sprintf("cyclic dependency while installing %s", name))
	}
	visiting[name] = true
	defer delete(visiting, name)

	modules, err := r.Discover()
	if err != nil {
		return Module{}, err
	}
	byName := index(modules)
	m, ok := byName[name]
	if !ok {
		return Module{}, apperrors.NewNotFound("module", name, names(modules))
	}

	for _, dep := range m.Dependencies {
		d, found := byName[dep]
		if !found {
			return Module{}, apperrors.NewDependencyConflict(fmt.Sprintf("module %s depends on %s, which does not exist", name, dep))
		}
		if d.Enabled || done[dep] {
			continue
		}
		r.logger.Info("installing dependency", zap.String("module", name), zap.String("dependency", dep))
		if _, err := r.install(ctx, dep, visiting, done); err != nil {
			return Module{}, err
		}
	}

	if !m.Enabled {
		m.Enabled = true
		if err := save(m); err != nil {
			return Module{}, fmt.Errorf("failed to enable module %s: %w", name, err)
		}
	}

	if r.migrator != nil {
		if _, err := r.migrator.Up(ctx); err != nil {
			return m, fmt.Errorf("module %s enabled but migrations failed: %w", name, err)
		}
	}
	if err := r.runInstallSeeders(ctx, m, true); err != nil {
		return m, err
	}
	done[name] = true
	r.logger.Info("module installed", zap.String("module", name))
	return m, nil
}

// Uninstall runs the module's install seeders down and disables it. System
// modules and modules other enabled modules depend on are refused.
func (r *Registry) Uninstall(ctx context.Context, name string) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, modules, err := r.mutable(name)
	if err != nil {
		return Module{}, err
	}
	if !m.Enabled {
		return m, nil
	}

	if err := r.runInstallSeeders(ctx, m, false); err != nil {
		return m, err
	}
	m.Enabled = false
	if err := save(m); err != nil {
		return Module{}, fmt.Errorf("failed to disable module %s: %w", name, err)
	}
	r.logger.Info("module uninstalled", zap.String("module", name), zap.Int("modules", len(modules)))
	return m, nil
}

// mutable returns a module that may be uninstalled or deleted
func (r *Registry) mutable(name string) (Module, []Module, error) {
	modules, err := r.Discover()
	if err != nil {
		return Module{}, nil, err
	}
	m, ok := index(modules)[name]
	if !ok {
		return Module{}, nil, apperrors.NewNotFound("module", name, names(modules))
	}
	if m.IsSystem {
		return Module{}, nil, apperrors.NewSystemProtectedError("module", name)
	}
	var dependents []string
	for _, other := range modules {
		if other.Enabled && other.Name != name && other.DependsOn(name) {
			dependents = append(dependents, other.Name)
		}
	}
	if len(dependents) > 0 {
		return Module{}, nil, apperrors.NewDependencyConflict(
			fmt.Sprintf("module %s is required by %s", name, strings.Join(dependents, ", ")))
	}
	return m, modules, nil
}

// runInstallSeeders applies (or reverts) seed files whose name contains
// "install", in name order (reverse order when reverting).
func (r *Registry) runInstallSeeders(ctx context.Context, m Module, up bool) error {
	if r.seeds == nil {
		return nil
	}
	files := InstallSeeders(m)
	if !up {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	for _, f := range files {
		var err error
		if up {
			_, err = r.seeds.Apply(ctx, f)
		} else {
			_, err = r.seeds.Revert(ctx, f)
		}
		if err != nil {
			return fmt.Errorf("module %s install seeder %s: %w", m.Name, f, err)
		}
	}
	return nil
}

// InstallSeeders lists the seed files of m whose name contains "install"
func InstallSeeders(m Module) []string {
	entries, err := os.ReadDir(m.Dir("seeders"))
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") && strings.Contains(strings.ToLower(e.Name()), "install") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files
}

// CreateSpec describes a new module
type CreateSpec struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies"`
	Enabled      *bool    `json:"enabled"`
}

// Create scaffolds a new module directory with its descriptor
func (r *Registry) Create(spec CreateSpec) (Module, error) {
	name := NormalizeName(spec.Name)
	if name == "" {
		return Module{}, apperrors.NewValidationError("name", "module name is required")
	}
	if !nameRegex.MatchString(name) {
		return Module{}, apperrors.NewValidationError("name", fmt.Sprintf("invalid module name %q", spec.Name))
	}
	dir := filepath.Join(r.root, name)
	if _, ok, _ := load(dir); ok {
		return Module{}, apperrors.NewConflictError("module " + name)
	}

	m := Module{
		Name:         name,
		Title:        spec.Title,
		Description:  spec.Description,
		Version:      spec.Version,
		Enabled:      spec.Enabled == nil || *spec.Enabled,
		Dependencies: spec.Dependencies,
		Path:         dir,
		descriptor:   JSONDescriptor,
	}
	if m.Title == "" {
		words := strings.Split(name, "-")
		for i, w := range words {
			words[i] = meta.Capitalize(w)
		}
		m.Title = strings.Join(words, " ")
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}

	for _, sub := range Scaffold {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return Module{}, fmt.Errorf("failed to scaffold module %s: %w", name, err)
		}
	}
	if err := save(m); err != nil {
		return Module{}, fmt.Errorf("failed to write module descriptor: %w", err)
	}
	r.logger.Info("module created", zap.String("module", name))
	return m, nil
}

// Ensure returns the named module, creating it when missing
func (r *Registry) Ensure(name string) (Module, bool, error) {
	m, err := r.Get(NormalizeName(name))
	if err == nil {
		return m, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return Module{}, false, err
	}
	m, err = r.Create(CreateSpec{Name: name})
	return m, err == nil, err
}

// Delete removes a non-system module that nothing enabled depends on
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, _, err := r.mutable(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(m.Path); err != nil {
		return fmt.Errorf("failed to delete module %s: %w", name, err)
	}
	r.logger.Info("module deleted", zap.String("module", name))
	return nil
}

// MigrationDirs lists the default migrations directory followed by those of
// enabled modules in dependency order
func (r *Registry) MigrationDirs() []string {
	return r.dirs(r.defaults.Migrations, "migrations")
}

// SeederDirs is MigrationDirs for seeders
func (r *Registry) SeederDirs() []string {
	return r.dirs(r.defaults.Seeders, "seeders")
}

// ModelDirs is MigrationDirs for model files
func (r *Registry) ModelDirs() []string {
	return r.dirs(r.defaults.Models, "models")
}

func (r *Registry) dirs(def, kind string) []string {
	var out []string
	if def != "" {
		out = append(out, def)
	}
	modules, err := r.Discover()
	if err != nil {
		r.logger.Warn("module discovery failed", zap.Error(err))
		return out
	}
	for _, m := range modules {
		if m.Enabled {
			out = append(out, m.Dir(kind))
		}
	}
	return out
}

func index(modules []Module) map[string]Module {
	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		byName[m.Name] = m
	}
	return byName
}

func names(modules []Module) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		out[i] = m.Name
	}
	return out
}
