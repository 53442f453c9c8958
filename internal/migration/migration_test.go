package migration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/meta"
)

var fixedClock = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

func registered() StaticCatalog {
	return StaticCatalog{
		{Name: "organization", ClassName: "Organization", TableName: "sys_organizations", IsSystem: true},
		{Name: "user", ClassName: "User", TableName: "sys_users", IsSystem: true},
		{Name: "country", ClassName: "Country", TableName: "loc_countries"},
		{Name: "pessoa", ClassName: "Pessoa", TableName: "end_pessoas", Module: "enderecos"},
		{Name: "categoria", ClassName: "Categoria", TableName: "cat_categorias", Module: "catalogo"},
	}
}

func TestResolveStrategies(t *testing.T) {
	r := NewTableResolver(registered())
	tests := []struct {
		target   string
		module   string
		want     string
		strategy Strategy
	}{
		{"Organization", "", "sys_organizations", StrategyExact},
		{"pessoa", "vendas", "end_pessoas", StrategyExact},
		{"sys_users", "", "sys_users", StrategyExact},
		{"ORGANIZATION", "", "sys_organizations", StrategyVariant},
		{"Pessoas", "", "end_pessoas", StrategyVariant},
		{"countries", "", "loc_countries", StrategyPrefixScan},
		{"categorias", "", "cat_categorias", StrategyVariant},
		{"UserProfile", "vendas", "sys_userprofiles", StrategyPrefixFamily},
		{"abc_things", "vendas", "abc_things", StrategyVerbatim},
		{"sys_user", "", "sys_users", StrategyVerbatim},
		{"loc_users_extra", "vendas", "loc_users_extra", StrategyVerbatim},
		{"Produto", "vendas", "ven_produtos", StrategyModulePrefix},
		{"Produto", "", "produtos", StrategyPlural},
	}
	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.module, func(t *testing.T) {
			got, strategy := r.ResolveWithStrategy(tt.target, tt.module)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.strategy, strategy, strategy.String())
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewTableResolver(registered())
	for _, target := range []string{"Organization", "countries", "UserProfile", "Produto", "x"} {
		first := r.Resolve(target, "vendas")
		assert.Equal(t, first, r.Resolve(target, "vendas"), target)
		assert.Equal(t, first, NewTableResolver(registered()).Resolve(target, "vendas"), target)
	}
}

func TestResolvePrefersEarlierStrategies(t *testing.T) {
	// A table whose unprefixed name matches must win over module prefixing.
	r := NewTableResolver(StaticCatalog{{Name: "legacy", ClassName: "Legacy", TableName: "xyz_produtos"}})
	assert.Equal(t, "xyz_produtos", r.Resolve("Produto", "vendas"))
}

func TestInferPrefixFamily(t *testing.T) {
	tables := []string{"sys_users", "sys_organizations", "loc_languages", "end_pessoas"}
	assert.Equal(t, "sys_", InferPrefixFamily("userprofile", tables))
	assert.Equal(t, "sys_", InferPrefixFamily("organizationunit", tables))
	assert.Equal(t, "loc_", InferPrefixFamily("languagepack", tables))
	assert.Equal(t, "sys_", InferPrefixFamily("pessoa", []string{"sys_pessoas_fisicas"}))
	// Module tables never define a family.
	assert.Equal(t, "", InferPrefixFamily("pessoafisica", tables))
	assert.Equal(t, "", InferPrefixFamily("use", tables))
	assert.Equal(t, "", InferPrefixFamily("produto", nil))
}

func TestGenerateCreate(t *testing.T) {
	g := NewGenerator(Postgres, registered(), nil).WithClock(fixedClock)
	m, err := g.Generate(Input{
		Name:      "pessoa",
		ClassName: "Pessoa",
		Module:    "enderecos",
		Fields:    []meta.Field{{Name: "nome", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)}},
		IsNew:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, "20240506070809-create-pessoa.sql", m.FileName)
	assert.Equal(t, "end_pessoas", m.Table)
	assert.Contains(t, m.Up, `CREATE TABLE IF NOT EXISTS "end_pessoas"`)
	assert.Contains(t, m.Up, `"id" SERIAL PRIMARY KEY`)
	assert.Contains(t, m.Up, `"nome" VARCHAR(255) NOT NULL`)
	assert.Contains(t, m.Up, `"createdAt" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	assert.Contains(t, m.Up, `"updatedAt" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	assert.Equal(t, `DROP TABLE IF EXISTS "end_pessoas";`, m.Down)
	assert.Equal(t, []string{"id", "nome", "createdAt", "updatedAt"}, m.Columns)

	content := m.Content()
	assert.True(t, strings.Contains(content, UpMarker) && strings.Contains(content, DownMarker))
}

func TestGenerateMySQLTimestamps(t *testing.T) {
	g := NewGenerator(MySQL, nil, nil).WithClock(fixedClock)
	m, err := g.Generate(Input{Name: "tag", ClassName: "Tag", IsNew: true,
		Fields: []meta.Field{{Name: "cor", Type: meta.TypeEnum, Values: []string{"azul", "o'range"}}}})
	require.NoError(t, err)
	assert.Contains(t, m.Up, "`id` INTEGER NOT NULL AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, m.Up, "`cor` ENUM('azul', 'o''range')")
	assert.Contains(t, m.Up, "`updatedAt` DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP")
	assert.NotContains(t, m.Up, "`createdAt` DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE")
}

func TestGenerateEnumWithoutValuesUsesDefaults(t *testing.T) {
	field := meta.Field{Name: "sexo", Type: meta.TypeEnum}

	m, err := NewGenerator(MySQL, nil, nil).WithClock(fixedClock).Generate(Input{
		Name: "pessoa", ClassName: "Pessoa", IsNew: true, Fields: []meta.Field{field}})
	require.NoError(t, err)
	assert.Contains(t, m.Up, "`sexo` ENUM('M', 'F')")

	m, err = NewGenerator(Postgres, nil, nil).WithClock(fixedClock).Generate(Input{
		Name: "pessoa", ClassName: "Pessoa", IsNew: true, Fields: []meta.Field{field}})
	require.NoError(t, err)
	assert.Contains(t, m.Up, `"sexo" VARCHAR(255) CHECK ("sexo" IN ('M', 'F'))`)
}

func TestForeignKeyOnDeleteFollowsNullability(t *testing.T) {
	ref := &meta.Reference{Model: "Organization"}
	nullable := Postgres.ColumnDefinition(meta.Field{Name: "organization_id", Type: meta.TypeInteger, References: ref}, "sys_organizations")
	assert.True(t, strings.HasSuffix(nullable, "ON DELETE SET NULL"), nullable)

	required := Postgres.ColumnDefinition(meta.Field{
		Name: "organization_id", Type: meta.TypeInteger, References: ref, AllowNull: meta.BoolPtr(false),
	}, "sys_organizations")
	assert.Contains(t, required, " NOT NULL ")
	assert.True(t, strings.HasSuffix(required, "ON DELETE RESTRICT"), required)
}

func TestGenerateBelongsToSynthesisesForeignKey(t *testing.T) {
	g := NewGenerator(Postgres, registered(), nil).WithClock(fixedClock)
	m, err := g.Generate(Input{
		Name:         "filial",
		ClassName:    "Filial",
		Associations: []meta.Association{{Type: meta.BelongsTo, Target: "Organization"}},
		IsNew:        true,
	})
	require.NoError(t, err)
	assert.Contains(t, m.Up,
		`"organization_id" INTEGER REFERENCES "sys_organizations" ("id") ON UPDATE CASCADE ON DELETE SET NULL`)
	assert.NotContains(t, m.Up, `"organization_id" INTEGER NOT NULL`)
	assert.Equal(t, 1, strings.Count(m.Up, `"organization_id"`))
}

func TestGenerateNeverDoublesForeignKey(t *testing.T) {
	g := NewGenerator(Postgres, registered(), nil).WithClock(fixedClock)
	m, err := g.Generate(Input{
		Name:         "filial",
		ClassName:    "Filial",
		Fields:       []meta.Field{{Name: "organization_id", Type: meta.TypeBigInt}},
		Associations: []meta.Association{{Type: meta.BelongsTo, Target: "Organization"}},
		Existing:     []string{"id", "nome"},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeModify, m.Mode)
	assert.Equal(t, 1, strings.Count(m.Up, "ADD COLUMN"))
	assert.Contains(t, m.Up, `ADD COLUMN "organization_id" BIGINT REFERENCES "sys_organizations"`)
}

func TestGenerateModify(t *testing.T) {
	g := NewGenerator(Postgres, nil, nil).WithClock(fixedClock)
	m, err := g.Generate(Input{
		Name:      "pessoa",
		ClassName: "Pessoa",
		Fields: []meta.Field{
			{Name: "id", Type: meta.TypeInteger, PrimaryKey: true},
			{Name: "nome", Type: meta.TypeString},
			{Name: "idade", Type: meta.TypeInteger},
			{Name: "email", Type: meta.TypeString, Unique: true},
			{Name: "createdAt", Type: meta.TypeDate},
			{Name: "broken"},
		},
		Existing: []string{"nome"},
	})
	require.NoError(t, err)
	assert.Equal(t, "20240506070809-modify-pessoa.sql", m.FileName)
	assert.Equal(t, []string{"idade", "email"}, m.Columns)
	assert.Equal(t, `ALTER TABLE "pessoas" ADD COLUMN "idade" INTEGER;
ALTER TABLE "pessoas" ADD COLUMN "email" VARCHAR(255) UNIQUE;`, m.Up)
	// Reverse order on the way down.
	assert.Equal(t, `ALTER TABLE "pessoas" DROP COLUMN "email";
ALTER TABLE "pessoas" DROP COLUMN "idade";`, m.Down)
	require.Len(t, m.Warnings, 1)
	assert.Contains(t, m.Warnings[0], "broken")
}

func TestGenerateModifyWithNothingNew(t *testing.T) {
	g := NewGenerator(Postgres, nil, nil)
	m, err := g.Generate(Input{Name: "pessoa", Fields: []meta.Field{{Name: "nome", Type: meta.TypeString}}, Existing: []string{"nome"}})
	require.NoError(t, err)
	assert.True(t, m.Empty())
	assert.Empty(t, SplitStatements(m.Up, Postgres))
}

func TestGenerateDrop(t *testing.T) {
	g := NewGenerator(Postgres, nil, nil).WithClock(fixedClock)
	m, err := g.GenerateDrop(meta.Model{Name: "pessoa", ClassName: "Pessoa", TableName: "end_pessoas",
		Definition: meta.Definition{Fields: []meta.Field{{Name: "nome", Type: meta.TypeString}}}})
	require.NoError(t, err)
	assert.Equal(t, "20240506070809-drop-pessoa.sql", m.FileName)
	assert.Equal(t, `DROP TABLE IF EXISTS "end_pessoas";`, m.Up)
	assert.Contains(t, m.Down, `CREATE TABLE IF NOT EXISTS "end_pessoas"`)
}

func TestDefaultValues(t *testing.T) {
	tests := []struct {
		value interface{}
		want  string
	}{
		{"ativo", "'ativo'"},
		{"it's", "'it''s'"},
		{true, "TRUE"},
		{float64(3), "3"},
		{1.5, "1.5"},
		{"now", "CURRENT_TIMESTAMP"},
		{nil, "NULL"},
		{map[string]interface{}{"a": 1}, `'{"a":1}'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Postgres.DefaultExpr(tt.value))
	}
	assert.Equal(t, `'a\\b'`, MySQL.Literal(`a\b`))
}

func TestParseFileAndSplitStatements(t *testing.T) {
	content := Render("Migration: test", "CREATE TABLE a (x TEXT DEFAULT 'a;b');\n-- note; with semicolon\nINSERT INTO a VALUES ('c');", "DROP TABLE a;")
	f := ParseFile(content)
	stmts := SplitStatements(f.Up, Postgres)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x TEXT DEFAULT 'a;b')", stmts[0])
	assert.True(t, strings.HasSuffix(stmts[1], "INSERT INTO a VALUES ('c')"))
	assert.Equal(t, []string{"DROP TABLE a"}, SplitStatements(f.Down, Postgres))

	// No markers: the whole file is the up section.
	assert.Equal(t, "SELECT 1;", ParseFile("SELECT 1;\n").Up)

	// Backslashes only escape quotes on MySQL.
	assert.Len(t, SplitStatements(`INSERT INTO a VALUES ('c:\'); SELECT 1;`, Postgres), 2)
	assert.Len(t, SplitStatements(`INSERT INTO a VALUES ('it\'s'); SELECT 1;`, MySQL), 2)
}

func setupSQLite(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestRunnerUpDownStatus(t *testing.T) {
	db := setupSQLite(t)
	base, module := t.TempDir(), t.TempDir()

	g := NewGenerator(SQLite, nil, nil).WithClock(fixedClock)
	create, err := g.Generate(Input{Name: "pessoa", ClassName: "Pessoa", IsNew: true,
		Fields: []meta.Field{{Name: "nome", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)}}})
	require.NoError(t, err)
	_, err = g.Write(base, create)
	require.NoError(t, err)

	later := NewGenerator(SQLite, nil, nil).WithClock(func() time.Time { return fixedClock().Add(time.Minute) })
	modify, err := later.Generate(Input{Name: "pessoa", ClassName: "Pessoa", Existing: []string{"nome"},
		Fields: []meta.Field{{Name: "nome", Type: meta.TypeString}, {Name: "idade", Type: meta.TypeInteger}}})
	require.NoError(t, err)
	_, err = later.Write(module, modify)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(module, "README.md"), []byte("skip"), 0o644))

	runner := NewRunner(db, database.NewLedger(db, database.MigrationsTable),
		func() []string { return []string{base, module, filepath.Join(base, "missing")} }, "migration", nil)
	ctx := context.Background()

	applied, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{create.FileName, modify.FileName}, applied)
	assert.True(t, db.Migrator().HasTable("pessoas"))
	assert.True(t, db.Migrator().HasColumn("pessoas", "idade"))

	again, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	reverted, err := runner.Down(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{modify.FileName}, reverted)

	status, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.True(t, status[0].Applied)
	assert.False(t, status[1].Applied)

	ok, err := runner.Revert(ctx, create.FileName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, db.Migrator().HasTable("pessoas"))
}

func TestRunnerStopsAtFailingFile(t *testing.T) {
	db := setupSQLite(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001-create-a.sql"),
		[]byte(Render("a", "CREATE TABLE a (x INTEGER);", "DROP TABLE a;")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002-broken.sql"),
		[]byte(Render("b", "CREATE TABLE b (x INTEGER);\nNOT VALID SQL;", "")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "003-create-c.sql"),
		[]byte(Render("c", "CREATE TABLE c (x INTEGER);", "DROP TABLE c;")), 0o644))

	runner := NewRunner(db, database.NewLedger(db, database.MigrationsTable), func() []string { return []string{dir} }, "migration", nil)
	applied, err := runner.Up(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"001-create-a.sql"}, applied)
	assert.True(t, db.Migrator().HasTable("a"))
	// The failing file rolled back as a unit.
	assert.False(t, db.Migrator().HasTable("b"))
	assert.False(t, db.Migrator().HasTable("c"))
}
