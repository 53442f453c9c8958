// Package registry holds the live schema snapshot: every model known from the
// metadata store, the model files and the built-in system definitions.
// Readers take an immutable snapshot; reloads build a new one and swap it in.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/models"
)

// Snapshot is an immutable view of the known models
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	byName map[string]*meta.Model
	names  []string
}

func newSnapshot(version uint64, list []meta.Model) *Snapshot {
	s := &Snapshot{Version: version, LoadedAt: time.Now(), byName: make(map[string]*meta.Model, len(list))}
	for i := range list {
		m := list[i]
		key := strings.ToLower(m.Name)
		if _, dup := s.byName[key]; dup {
			continue
		}
		s.byName[key] = &m
		s.names = append(s.names, key)
	}
	sort.Strings(s.names)
	return s
}

// Names returns the model names in order
func (s *Snapshot) Names() []string {
	return append([]string(nil), s.names...)
}

// Models returns copies of every model ordered by name
func (s *Snapshot) Models() []meta.Model {
	out := make([]meta.Model, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, *s.byName[n])
	}
	return out
}

// Get returns the model registered under exactly name
func (s *Snapshot) Get(name string) (*meta.Model, bool) {
	m, ok := s.byName[strings.ToLower(name)]
	return m, ok
}

// Lookup resolves a loosely spelled model name: the name and its plural and
// singular variants, then class names, then table names.
func (s *Snapshot) Lookup(name string) (*meta.Model, bool) {
	for _, v := range meta.NameVariants(name) {
		if m, ok := s.byName[v]; ok {
			return m, true
		}
	}
	trimmed := strings.TrimSpace(name)
	for _, n := range s.names {
		m := s.byName[n]
		if strings.EqualFold(m.ClassName, trimmed) {
			return m, true
		}
	}
	for _, v := range append([]string{strings.ToLower(trimmed)}, meta.NameVariants(trimmed)...) {
		for _, n := range s.names {
			m := s.byName[n]
			if m.TableName == v || meta.StripPrefix(m.TableName) == v {
				return m, true
			}
		}
	}
	return nil, false
}

// Registry owns the current snapshot
type Registry struct {
	db       *gorm.DB
	compiler *generator.Compiler
	dirs     func() []string
	logger   *zap.Logger

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	group   singleflight.Group
}

// New creates a registry holding only the built-in models until Reload
func New(db *gorm.DB, compiler *generator.Compiler, dirs func() []string, logger *zap.Logger) *Registry {
	if compiler == nil {
		compiler = generator.NewCompiler(nil)
	}
	if dirs == nil {
		dirs = func() []string { return nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{db: db, compiler: compiler, dirs: dirs, logger: logger}
	r.current.Store(newSnapshot(0, Builtin()))
	return r
}

// Snapshot returns the current snapshot
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Models implements migration.Catalog
func (r *Registry) Models() []meta.Model {
	return r.Snapshot().Models()
}

// Lookup resolves name against the current snapshot
func (r *Registry) Lookup(name string) (*meta.Model, error) {
	s := r.Snapshot()
	if m, ok := s.Lookup(name); ok {
		return m, nil
	}
	return nil, apperrors.NewNotFound("model", name, s.Names())
}

// Reload rebuilds the snapshot. Concurrent callers share one rebuild.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	v, err, _ := r.group.Do("reload", func() (interface{}, error) {
		list, err := r.collect(ctx)
		if err != nil {
			return nil, err
		}
		snap := newSnapshot(r.version.Add(1), list)
		r.current.Store(snap)
		r.logger.Info("schema registry reloaded",
			zap.Uint64("version", snap.Version), zap.Int("models", len(snap.names)))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// collect merges, in precedence order, built-in definitions, stored rows and
// model files. The first source to name a model wins.
func (r *Registry) collect(ctx context.Context) ([]meta.Model, error) {
	list := Builtin()

	if r.db != nil {
		var rows []models.ModelDefinition
		if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load model definitions: %w", err)
		}
		for _, row := range rows {
			list = append(list, row.Model())
		}
	}

	files, err := r.parseFiles(ctx)
	if err != nil {
		return nil, err
	}
	return append(list, files...), nil
}

type modelFile struct {
	path   string
	module string
}

// parseFiles compiles every model file across the model directories in
// parallel. Unparseable files are logged and skipped.
func (r *Registry) parseFiles(ctx context.Context) ([]meta.Model, error) {
	var files []modelFile
	for _, dir := range r.dirs() {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+generator.Extension))
		if err != nil {
			return nil, err
		}
		module := moduleOf(dir)
		for _, path := range matches {
			files = append(files, modelFile{path: path, module: module})
		}
	}

	out := make([]*meta.Model, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			comp, err := r.compiler.CompileFile(f.path)
			if err != nil {
				r.logger.Warn("cannot read model file", zap.String("path", f.path), zap.Error(err))
				return nil
			}
			if !comp.Source.Valid() {
				r.logger.Warn("unparseable model file", zap.String("path", f.path))
				return nil
			}
			src := comp.Source
			name := src.Options.ModelName()
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(f.path), generator.Extension)
			}
			out[i] = &meta.Model{
				Name:       strings.ToLower(name),
				ClassName:  src.ClassName,
				TableName:  meta.ResolveTableName(src.ClassName, f.module, src.Options),
				Module:     f.module,
				Definition: src.Definition(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list := make([]meta.Model, 0, len(out))
	for _, m := range out {
		if m != nil {
			list = append(list, *m)
		}
	}
	return list, nil
}

// moduleOf returns the module owning a models directory, or "" for the
// default directory.
func moduleOf(dir string) string {
	if filepath.Base(dir) != "models" {
		return ""
	}
	parent := filepath.Dir(dir)
	for _, name := range []string{"module.json", "module.yaml"} {
		if _, err := os.Stat(filepath.Join(parent, name)); err == nil {
			return filepath.Base(parent)
		}
	}
	return ""
}
