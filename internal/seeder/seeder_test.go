package seeder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
)

var fixedClock = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

func writeModel(t *testing.T, dir string, spec generator.Spec) {
	src, err := generator.NewCodec().Encode(spec)
	require.NoError(t, err)
	_, err = generator.NewStore(dir).Write(spec.Name, src)
	require.NoError(t, err)
}

func pessoaFields() []meta.Field {
	return []meta.Field{
		{Name: "nome", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)},
		{Name: "idade", Type: meta.TypeInteger},
		{Name: "ativo", Type: meta.TypeBoolean},
		{Name: "nascimento", Type: meta.TypeDateOnly},
	}
}

func TestGenerateReadsTableFromModelFile(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, generator.Spec{Name: "pessoa", ClassName: "Pessoa", Module: "enderecos", Fields: pessoaFields()})

	g := NewGenerator(migration.Postgres, nil, func() []string { return []string{dir} }, nil).WithClock(fixedClock)
	s, err := g.Generate(Input{Name: "pessoa", Rows: []map[string]interface{}{
		{"nome": "Ana", "idade": float64(30)},
		{"nome": "Rui", "idade": float64(41)},
	}})
	require.NoError(t, err)

	assert.Equal(t, "20240506070809-pessoa.sql", s.FileName)
	assert.Equal(t, "end_pessoas", s.Table)
	assert.Equal(t, "INSERT INTO \"end_pessoas\" (\"idade\", \"nome\") VALUES\n\t(30, 'Ana'),\n\t(41, 'Rui');", s.Up)
	assert.Equal(t, `DELETE FROM "end_pessoas";`, s.Down)
	assert.Empty(t, s.Warnings)
	assert.Empty(t, s.Suggestions)
}

func TestGenerateTableNamePrecedence(t *testing.T) {
	g := NewGenerator(migration.Postgres, nil, nil, nil)
	rows := []map[string]interface{}{{"x": 1}}

	s, err := g.Generate(Input{Name: "pessoa", TableName: "People", Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, "people", s.Table)

	s, err = g.Generate(Input{Name: "pessoa", ClassName: "Pessoa", Module: "enderecos", Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, "end_pessoas", s.Table)

	s, err = g.Generate(Input{Name: "status", Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, "status", s.Table)
}

func TestValidationIsAdvisory(t *testing.T) {
	g := NewGenerator(migration.Postgres, nil, nil, nil)
	s, err := g.Generate(Input{
		Name:   "pessoa",
		Fields: pessoaFields(),
		Rows: []map[string]interface{}{
			{"NOME": "Ana", "idade": "trinta", "ativo": "sim", "nascimento": 1990, "apelido": "x", "id": 1},
			{"idade": float64(2)},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, s.Up)

	assert.ElementsMatch(t, []string{
		`row 1: field "ativo" expects a boolean, got string`,
		`row 1: unknown field "apelido"`,
		`row 1: field "idade" expects a number, got string`,
		`row 1: field "nascimento" expects a date string, got int`,
	}, s.Warnings)
	assert.Equal(t, []string{`row 2: add a value for required field "nome"`}, s.Suggestions)
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	g := NewGenerator(migration.Postgres, nil, nil, nil)
	_, err := g.Generate(Input{Name: "pessoa"})
	assert.Error(t, err)
	_, err = g.Generate(Input{Rows: []map[string]interface{}{{"a": 1}}})
	assert.Error(t, err)
}

func TestSampleRows(t *testing.T) {
	fields := []meta.Field{
		{Name: "id", Type: meta.TypeInteger, PrimaryKey: true, AutoIncrement: true},
		{Name: "nome", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)},
		{Name: "ativo", Type: meta.TypeBoolean},
		{Name: "nascimento", Type: meta.TypeDate},
		{Name: "sexo", Type: meta.TypeEnum, Values: []string{"M", "F"}},
		{Name: "organization_id", Type: meta.TypeInteger},
	}
	rows := SampleRows(fields, 3, fixedClock())
	require.Len(t, rows, 3)

	assert.Equal(t, "Nome 1", rows[0]["nome"])
	assert.Equal(t, "Nome 3", rows[2]["nome"])
	assert.Equal(t, true, rows[0]["ativo"])
	assert.Equal(t, false, rows[1]["ativo"])
	assert.Equal(t, "2024-05-06", rows[1]["nascimento"])
	assert.Equal(t, "F", rows[1]["sexo"])
	assert.NotContains(t, rows[0], "id")
	assert.NotContains(t, rows[0], "organization_id")

	// Deterministic across calls.
	assert.Equal(t, rows, SampleRows(fields, 3, fixedClock()))
}

func TestRunnerAppliesSeeds(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "seed.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE "pessoas" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "nome" TEXT, "ativo" BOOLEAN)`).Error)

	dir := t.TempDir()
	g := NewGenerator(migration.SQLite, nil, nil, nil).WithClock(fixedClock)
	s, err := g.Generate(Input{Name: "pessoa", Rows: SampleRows([]meta.Field{
		{Name: "nome", Type: meta.TypeString},
		{Name: "ativo", Type: meta.TypeBoolean},
	}, 4, fixedClock())})
	require.NoError(t, err)
	_, err = g.Write(dir, s)
	require.NoError(t, err)

	runner := NewRunner(db, func() []string { return []string{dir} }, nil)
	applied, err := runner.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{s.FileName}, applied)

	var count int64
	require.NoError(t, db.Table("pessoas").Count(&count).Error)
	assert.Equal(t, int64(4), count)

	_, err = runner.Down(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, db.Table("pessoas").Count(&count).Error)
	assert.Zero(t, count)
}
