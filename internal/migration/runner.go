package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/database"
)

// FileStatus reports whether one file has been applied
type FileStatus struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Applied bool   `json:"applied"`
}

// Runner applies SQL files from several directories in lexicographic file
// name order. Each file runs in its own transaction and is recorded in the
// ledger, so a failure leaves earlier files applied.
type Runner struct {
	db      *gorm.DB
	ledger  *database.Ledger
	dirs    func() []string
	dialect Dialect
	kind    string
	logger  *zap.Logger
}

// NewRunner creates a runner. dirs is evaluated on every run so newly
// enabled modules are picked up; kind ("migration", "seeder") labels logs.
func NewRunner(db *gorm.DB, ledger *database.Ledger, dirs func() []string, kind string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:      db,
		ledger:  ledger,
		dirs:    dirs,
		dialect: ParseDialect(database.DialectName(db)),
		kind:    kind,
		logger:  logger,
	}
}

// Files lists every .sql file across the directories, sorted by name. When
// two directories hold the same name the earlier directory wins.
func (r *Runner) Files() ([]FileStatus, error) {
	byName := map[string]string{}
	for _, dir := range r.dirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s directory %s: %w", r.kind, dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			if _, ok := byName[e.Name()]; !ok {
				byName[e.Name()] = filepath.Join(dir, e.Name())
			}
		}
	}

	files := make([]FileStatus, 0, len(byName))
	for name, path := range byName {
		files = append(files, FileStatus{Name: name, Path: path})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Status returns every file with its applied flag
func (r *Runner) Status(ctx context.Context) ([]FileStatus, error) {
	if err := r.ledger.Ensure(ctx); err != nil {
		return nil, err
	}
	files, err := r.Files()
	if err != nil {
		return nil, err
	}
	applied, err := r.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Applied = applied[files[i].Name]
	}
	return files, nil
}

// Up applies every pending file and returns the names applied
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	files, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, f := range files {
		if f.Applied {
			continue
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := r.apply(ctx, f, true); err != nil {
			return done, err
		}
		done = append(done, f.Name)
	}
	return done, nil
}

// Apply runs the up section of one named file if it is not applied yet
func (r *Runner) Apply(ctx context.Context, name string) (bool, error) {
	files, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Name != name {
			continue
		}
		if f.Applied {
			return false, nil
		}
		return true, r.apply(ctx, f, true)
	}
	return false, fmt.Errorf("%s %s not found", r.kind, name)
}

// Down reverts the last steps applied files, newest first
func (r *Runner) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	files, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]FileStatus, len(files))
	for _, f := range files {
		paths[f.Name] = f
	}

	last, err := r.ledger.Last(ctx, steps)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, name := range last {
		f, ok := paths[name]
		if !ok {
			return done, fmt.Errorf("%s %s is applied but its file is missing", r.kind, name)
		}
		if err := r.apply(ctx, f, false); err != nil {
			return done, err
		}
		done = append(done, name)
	}
	return done, nil
}

// Revert runs the down section of one named file if it is applied
func (r *Runner) Revert(ctx context.Context, name string) (bool, error) {
	files, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Name == name {
			if !f.Applied {
				return false, nil
			}
			return true, r.apply(ctx, f, false)
		}
	}
	return false, fmt.Errorf("%s %s not found", r.kind, name)
}

func (r *Runner) apply(ctx context.Context, f FileStatus, up bool) error {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s %s: %w", r.kind, f.Name, err)
	}
	parsed := ParseFile(string(content))
	section, direction := parsed.Up, "up"
	if !up {
		section, direction = parsed.Down, "down"
	}

	r.logger.Info("applying "+r.kind, zap.String("file", f.Name), zap.String("direction", direction))
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range SplitStatements(section, r.dialect) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		if up {
			return r.ledger.Record(tx, f.Name)
		}
		return r.ledger.Remove(tx, f.Name)
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s %s (%s): %w", r.kind, f.Name, direction, err)
	}
	return nil
}
