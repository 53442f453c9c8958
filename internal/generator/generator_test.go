package generator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethra/lowcode/internal/meta"
)

func pessoaSpec() Spec {
	return Spec{
		Name:      "pessoa",
		ClassName: "Pessoa",
		Module:    "enderecos",
		Fields: []meta.Field{
			{Name: "id", Type: meta.TypeInteger, PrimaryKey: true, AutoIncrement: true, AllowNull: meta.BoolPtr(false)},
			{Name: "nome", Type: "string", AllowNull: meta.BoolPtr(false)},
			{Name: "idade", Type: meta.TypeInteger},
			{Name: "sexo", Type: meta.TypeEnum},
			{Name: "obs", Type: meta.TypeText, DefaultValue: "n/a, \"quoted\""},
			{Name: "organization_id", Type: meta.TypeInteger, AllowNull: meta.BoolPtr(true),
				References: &meta.Reference{Model: "sys_organizations", Key: "id"}},
		},
		Associations: []meta.Association{
			{Type: meta.BelongsTo, Target: "Organization", ForeignKey: "organization_id", As: "organization"},
			{Type: meta.HasMany, Target: "Endereco", As: "enderecos"},
			{Type: meta.BelongsToMany, Target: "Tag", Through: "end_pessoa_tags", OtherKey: "tag_id"},
		},
		Options: meta.Options{"timestamps": false, "comment": "people and more"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec()
	spec := pessoaSpec()

	src, err := codec.Encode(spec)
	require.NoError(t, err)

	got := codec.Decode(src)
	require.True(t, got.Valid())
	assert.Equal(t, "Pessoa", got.ClassName)

	require.Len(t, got.Fields, len(spec.Fields))
	for i, want := range spec.Fields {
		f := got.Fields[i]
		assert.Equal(t, want.Name, f.Name)
		assert.Equal(t, meta.NormalizeType(string(want.Type)), f.Type, want.Name)
		assert.Equal(t, want.PrimaryKey, f.PrimaryKey, want.Name)
		assert.Equal(t, want.AutoIncrement, f.AutoIncrement, want.Name)
		assert.Equal(t, want.AllowNull, f.AllowNull, want.Name)
		assert.Equal(t, want.DefaultValue, f.DefaultValue, want.Name)
		assert.Equal(t, want.References, f.References, want.Name)
	}
	// ENUM without values gets the inferred vocabulary.
	assert.Equal(t, []string{"M", "F"}, got.Fields[3].Values)

	assert.Equal(t, spec.Associations, got.Associations)

	assert.Equal(t, "end_pessoas", got.Options.TableName())
	assert.Equal(t, "pessoa", got.Options.ModelName())
	assert.Equal(t, false, got.Options["timestamps"])
	assert.Equal(t, "people and more", got.Options["comment"])
}

func TestEncodeQuotesNumberLikeOptionStrings(t *testing.T) {
	codec := NewCodec()
	spec := pessoaSpec()
	spec.Options = meta.Options{"mode": "NaN", "limit": "Inf", "label": "plain", "max": float64(10)}

	src, err := codec.Encode(spec)
	require.NoError(t, err)
	assert.Contains(t, src, `"NaN"`)

	got := codec.Decode(src)
	require.True(t, got.Valid())
	assert.Equal(t, "NaN", got.Options["mode"])
	assert.Equal(t, "Inf", got.Options["limit"])
	assert.Equal(t, "plain", got.Options["label"])
	assert.Equal(t, float64(10), got.Options["max"])
}

func TestEncodeIsStable(t *testing.T) {
	codec := NewCodec()
	first, err := codec.Encode(pessoaSpec())
	require.NoError(t, err)

	// Re-encoding the decoded source yields the same artifact.
	decoded := codec.Decode(first)
	second, err := codec.Encode(Spec{
		Name:         "pessoa",
		ClassName:    decoded.ClassName,
		Module:       "enderecos",
		Fields:       decoded.Fields,
		Associations: decoded.Associations,
		Options:      decoded.Options,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeGuardsAssociations(t *testing.T) {
	src, err := NewCodec().Encode(pessoaSpec())
	require.NoError(t, err)
	assert.Contains(t, src, "if has(Organization) {")
	assert.Contains(t, src, "belongsTo(Organization, { foreignKey: organization_id, as: organization })")
	assert.Contains(t, src, "idade: INTEGER\n")
	assert.Contains(t, src, "tableName: end_pessoas")
}

func TestEncodeRequiresClassName(t *testing.T) {
	_, err := NewCodec().Encode(Spec{Name: "x"})
	assert.Error(t, err)
}

func TestDecodeNeverFails(t *testing.T) {
	codec := NewCodec()
	tests := []struct {
		name  string
		src   string
		valid bool
	}{
		{"empty", "", false},
		{"garbage", "}}{{ not a model", false},
		{"no blocks", "model Foo {\n}", true},
		{"unterminated", "model Foo {\n\tfields {\n\t\tnome: STRING\n", true},
		{"unterminated object", "model Foo {\n\tfields {\n\t\tnome: { type: STRING, values: [\"a\"", true},
		{"unterminated string", "model Foo {\n\toptions {\n\t\tmodelName: \"foo\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.valid, codec.Decode(tt.src).Valid())
			})
		})
	}
}

func TestDecodeHandWrittenSource(t *testing.T) {
	src := `
model Endereco {
	fields {
		// street line
		rua: string
		numero: { type: int, allowNull: false }
		pessoa_id: { type: INTEGER, references: { model: end_pessoas } }
		extra: { type: JSON, defaultValue: {"a": [1, 2]} }
	}
	associate {
		if has(Pessoa) {
			belongsTo(Pessoa)
		}
		hasOne(Geo, { foreignKey: "endereco_id" })
	}
	options {
		tableName: end_enderecos
		paranoid: true
		version: 2
	}
}`
	got := NewCodec().Decode(src)
	require.True(t, got.Valid())
	require.Len(t, got.Fields, 4)
	assert.Equal(t, meta.TypeString, got.Fields[0].Type)
	assert.Equal(t, meta.TypeInteger, got.Fields[1].Type)
	assert.False(t, got.Fields[1].Nullable())
	assert.Equal(t, &meta.Reference{Model: "end_pessoas"}, got.Fields[2].References)
	assert.Equal(t, map[string]interface{}{"a": []interface{}{float64(1), float64(2)}}, got.Fields[3].DefaultValue)

	assert.Equal(t, []meta.Association{
		{Type: meta.BelongsTo, Target: "Pessoa"},
		{Type: meta.HasOne, Target: "Geo", ForeignKey: "endereco_id"},
	}, got.Associations)

	assert.Equal(t, true, got.Options["paranoid"])
	assert.Equal(t, float64(2), got.Options["version"])
	assert.Equal(t, "end_enderecos", got.Definition().Options.TableName())
}

func TestCompilerCachesByContent(t *testing.T) {
	c := NewCompiler(nil)
	src, err := NewCodec().Encode(pessoaSpec())
	require.NoError(t, err)

	a := c.Compile("a.model", src)
	b := c.Compile("b.model", src)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.CompiledAt, b.CompiledAt)
	assert.Len(t, c.All(), 2)

	c.Invalidate("a.model")
	assert.Nil(t, c.Get("a.model"))
	assert.NotNil(t, c.Get("b.model"))

	c.InvalidateCache()
	assert.Empty(t, c.All())
}

func TestStoreWriteReadListDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	path, err := store.Write("Pessoa", "model Pessoa {}")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "pessoa.model"))
	assert.True(t, store.Exists("pessoa"))

	src, err := store.Read("pessoa")
	require.NoError(t, err)
	assert.Equal(t, "model Pessoa {}", src)

	_, err = store.Write("endereco", "model Endereco {}")
	require.NoError(t, err)
	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"endereco", "pessoa"}, names)

	require.NoError(t, store.Delete("pessoa"))
	require.NoError(t, store.Delete("pessoa"))
	assert.False(t, store.Exists("pessoa"))
}

func TestStoreRejectsNamesOutsideDir(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "models"))

	for _, name := range []string{"../escaped", "a/b", `..\x`, "..", ""} {
		_, err := store.Write(name, "model X {}")
		assert.ErrorIs(t, err, ErrInvalidName, name)
		assert.False(t, store.Exists(name))
	}
	_, err := os.Stat(filepath.Join(root, "escaped.model"))
	assert.True(t, os.IsNotExist(err))
}
