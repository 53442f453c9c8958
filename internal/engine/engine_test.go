package engine

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/registry"
)

const ddl = `
CREATE TABLE "organizations" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" VARCHAR(255),
  "createdAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, "updatedAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP);
CREATE TABLE "pessoas" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" VARCHAR(255), "secret" INTEGER,
  "organization_id" INTEGER, "createdAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, "updatedAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP);
CREATE TABLE "contatos" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "pessoa_id" INTEGER, "x" VARCHAR(255) NOT NULL,
  "createdAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, "updatedAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP);
`

type fixture struct {
	db       *gorm.DB
	resolver *Resolver
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "engine.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Bootstrap(ctx, db, nil))
	for _, stmt := range []string{ddl} {
		require.NoError(t, db.Exec(stmt).Error)
	}

	defs := []models.ModelDefinition{
		models.NewModelDefinition("organization", "Organization", "", meta.Definition{
			Fields:  []meta.Field{{Name: "name", Type: meta.TypeString}},
			Options: meta.Options{"tableName": "organizations"},
		}),
		models.NewModelDefinition("pessoa", "Pessoa", "", meta.Definition{
			Fields: []meta.Field{
				{Name: "name", Type: meta.TypeString},
				{Name: "secret", Type: meta.TypeInteger},
				{Name: "organization_id", Type: meta.TypeInteger},
			},
			Associations: []meta.Association{
				{Type: meta.BelongsTo, Target: "Organization"},
				{Type: meta.HasMany, Target: "Contato", As: "contatos"},
			},
			Options: meta.Options{"tableName": "pessoas"},
		}),
		models.NewModelDefinition("contato", "Contato", "", meta.Definition{
			Fields: []meta.Field{
				{Name: "pessoa_id", Type: meta.TypeInteger},
				{Name: "x", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)},
			},
			Options: meta.Options{"tableName": "contatos"},
		}),
	}
	require.NoError(t, db.Create(&defs).Error)
	require.NoError(t, db.Create(&[]models.Crud{
		{Name: "pessoas", Resource: "pessoa", Endpoint: "/api/pessoas", Active: true},
		{Name: "orgs", Resource: "organizations", Endpoint: "/api/organizacoes", Active: true},
	}).Error)

	reg := registry.New(db, nil, nil, nil)
	_, err = reg.Reload(ctx)
	require.NoError(t, err)

	return &fixture{db: db, resolver: NewResolver(db, reg, nil)}
}

func (f *fixture) do(t *testing.T, method, resource, id string, query url.Values, body map[string]interface{}) Response {
	t.Helper()
	return f.resolver.Handle(context.Background(), Request{
		Resource: resource, Method: method, ID: id, Query: query, Body: body,
	})
}

func rowsOf(t *testing.T, res Response) []map[string]interface{} {
	t.Helper()
	require.Equal(t, http.StatusOK, res.Status, res.Payload)
	rows, ok := res.Payload["data"].([]map[string]interface{})
	require.True(t, ok)
	return rows
}

func seedPeople(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.db.Exec(`INSERT INTO organizations (name) VALUES ('Zeta'), ('Alpha')`).Error)
	require.NoError(t, f.db.Exec(`INSERT INTO pessoas (name, secret, organization_id) VALUES
		('foo one', 1, 1), ('bar', 42, 2), ('foo two', 7, NULL)`).Error)
}

func TestListFilterSearchesTextColumnsOnly(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	rows := rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"filter": {"foo"}}, nil))
	assert.Len(t, rows, 2)

	rows = rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"filter": {"42"}}, nil))
	assert.Empty(t, rows)

	rows = rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"filter": {"1"}, "searchFields": {"secret"}}, nil))
	assert.Len(t, rows, 1)
}

func TestListPaginationAndEqualityFilters(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	res := f.do(t, "GET", "pessoas", "", nil, nil)
	assert.Len(t, rowsOf(t, res), 3)
	assert.Equal(t, map[string]interface{}{"page": 1, "limit": 0, "total": int64(3), "pages": 1}, res.Payload["pagination"])

	res = f.do(t, "GET", "pessoas", "", url.Values{"page": {"2"}, "limit": {"2"}}, nil)
	rows := rowsOf(t, res)
	require.Len(t, rows, 1)
	assert.Equal(t, "foo two", rows[0]["name"])
	assert.Equal(t, 2, res.Payload["pagination"].(map[string]interface{})["pages"])

	rows = rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"secret": {"42"}}, nil))
	require.Len(t, rows, 1)
	assert.Equal(t, "bar", rows[0]["name"])

	rows = rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"secret__gt": {"5"}, "unknown": {"x"}}, nil))
	assert.Len(t, rows, 2)
}

func TestBelongsToIncludeIsOptional(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	rows := rowsOf(t, f.do(t, "GET", "pessoas", "", nil, nil))
	require.Len(t, rows, 3)
	org, ok := rows[0]["organization"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Zeta", org["name"])
	assert.Nil(t, rows[2]["organization"])
}

func TestSortByRelationColumn(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	rows := rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"sortBy": {"organization.name"}, "desc": {"true"}}, nil))
	require.Len(t, rows, 3)
	assert.Equal(t, "foo one", rows[0]["name"])
	assert.Equal(t, "bar", rows[1]["name"])

	rows = rowsOf(t, f.do(t, "GET", "pessoas", "", url.Values{"sortBy": {"name"}}, nil))
	assert.Equal(t, "bar", rows[0]["name"])
}

func TestResolveByEndpointAndPluralResource(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	rows := rowsOf(t, f.do(t, "GET", "organizacoes", "", nil, nil))
	assert.Len(t, rows, 2)
}

func TestErrorStatuses(t *testing.T) {
	f := setup(t)

	res := f.do(t, "GET", "ghosts", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, []string{"orgs", "pessoas"}, res.Payload["available"])

	res = f.do(t, "TRACE", "pessoas", "", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.Status)

	res = f.do(t, "GET", "pessoas", "99", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)

	res = f.do(t, "DELETE", "pessoas", "99", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func childIDs(t *testing.T, db *gorm.DB, parent interface{}) []int64 {
	t.Helper()
	var ids []int64
	require.NoError(t, db.Table("contatos").Where("pessoa_id = ?", parent).Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestCreateUpdateSyncsChildren(t *testing.T) {
	f := setup(t)

	res := f.do(t, "POST", "pessoas", "", nil, map[string]interface{}{
		"name": "Ana",
		"contatos": []interface{}{
			map[string]interface{}{"x": "p"},
			map[string]interface{}{"x": "q"},
		},
	})
	require.Equal(t, http.StatusCreated, res.Status, res.Payload)
	row := res.Payload["data"].(map[string]interface{})
	assert.Equal(t, "Ana", row["name"])
	parent := row["id"]
	assert.Equal(t, []int64{1, 2}, childIDs(t, f.db, parent))

	payload := map[string]interface{}{
		"contatos": []interface{}{
			map[string]interface{}{"id": float64(1), "x": "a"},
			map[string]interface{}{"x": "b"},
		},
	}
	res = f.do(t, "PUT", "pessoas", "1", nil, payload)
	require.Equal(t, http.StatusOK, res.Status, res.Payload)
	assert.Equal(t, []int64{1, 3}, childIDs(t, f.db, parent))

	// Same payload again: nothing is deleted or created.
	res = f.do(t, "PUT", "pessoas", "1", nil, payload)
	require.Equal(t, http.StatusOK, res.Status, res.Payload)
	assert.Equal(t, []int64{1, 3}, childIDs(t, f.db, parent))

	var xs []string
	require.NoError(t, f.db.Table("contatos").Order("id").Pluck("x", &xs).Error)
	assert.Equal(t, []string{"a", "b"}, xs)

	// A payload without the association leaves children alone.
	res = f.do(t, "PATCH", "pessoas", "1", nil, map[string]interface{}{"name": "Ana Maria"})
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Ana Maria", res.Payload["data"].(map[string]interface{})["name"])
	assert.Equal(t, []int64{1, 3}, childIDs(t, f.db, parent))
}

func TestFailedChildRollsBackParent(t *testing.T) {
	f := setup(t)

	res := f.do(t, "POST", "pessoas", "", nil, map[string]interface{}{
		"name":     "Rui",
		"contatos": []interface{}{map[string]interface{}{"x": nil}},
	})
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.NotEmpty(t, res.Payload["message"])

	var count int64
	require.NoError(t, f.db.Table("pessoas").Count(&count).Error)
	assert.Zero(t, count)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)

	res := f.do(t, "DELETE", "pessoas", "2", nil, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, true, res.Payload["success"])

	res = f.do(t, "GET", "pessoas", "2", nil, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestConfiguredRelations(t *testing.T) {
	f := setup(t)
	seedPeople(t, f)
	require.NoError(t, f.db.Create(&models.Crud{
		Name: "people", Resource: "pessoas", Active: true,
		Config: models.JSONB{"relations": []interface{}{
			map[string]interface{}{"type": "select", "field": "organization_id", "as": "org"},
			map[string]interface{}{"type": "inline", "modelName": "contato", "as": "contatos"},
		}},
	}).Error)
	require.NoError(t, f.db.Exec(`INSERT INTO contatos (pessoa_id, x) VALUES (1, 'c1'), (1, 'c2')`).Error)

	res := f.do(t, "GET", "people", "1", nil, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Payload)
	row := res.Payload["data"].(map[string]interface{})
	assert.Equal(t, "Zeta", row["org"].(map[string]interface{})["name"])
	assert.Len(t, row["contatos"], 2)

	res = f.do(t, "GET", "people", "3", nil, nil)
	row = res.Payload["data"].(map[string]interface{})
	assert.Nil(t, row["org"])
	assert.Empty(t, row["contatos"])
}

func TestChildPayloadSkipsNonArrayKeys(t *testing.T) {
	a := meta.Association{Type: meta.HasMany, Target: "Contato", As: "telefones"}

	items, ok := childPayload(map[string]interface{}{
		"Contatos":  "not a list",
		"telefones": []interface{}{map[string]interface{}{"x": "a"}},
	}, a)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0]["x"])

	_, ok = childPayload(map[string]interface{}{"contatos": 3}, a)
	assert.False(t, ok)
}
