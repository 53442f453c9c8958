package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/chat"
	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/database"
	"github.com/aethra/lowcode/internal/engine"
	"github.com/aethra/lowcode/internal/functions"
	"github.com/aethra/lowcode/internal/mcp"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/module"
	"github.com/aethra/lowcode/internal/registry"
	"github.com/aethra/lowcode/internal/seeder"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const password = "secret123"

// scriptedLLM answers every turn with the same text
type scriptedLLM struct {
	chunks []string

	mu    sync.Mutex
	turns int
}

func (s *scriptedLLM) Complete(_ context.Context, _ []chat.LLMMessage) (string, error) {
	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
	return strings.Join(s.chunks, ""), nil
}

func (s *scriptedLLM) Stream(ctx context.Context, _ []chat.LLMMessage, onDelta func(string) error) error {
	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
	for _, c := range s.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return nil
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	paths    config.PathsConfig
	registry *functions.Registry
	chat     *ChatHandler
}

func newTestServer(t *testing.T, llm chat.Completer) *testServer {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(root, "api.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Bootstrap(ctx, db, nil))

	paths := config.PathsConfig{
		Models:     filepath.Join(root, "models"),
		Migrations: filepath.Join(root, "migrations"),
		Seeders:    filepath.Join(root, "seeders"),
		Modules:    filepath.Join(root, "modules"),
	}
	mods := module.NewRegistry(paths.Modules, module.Dirs{
		Models: paths.Models, Migrations: paths.Migrations, Seeders: paths.Seeders,
	}, nil)
	schema := registry.New(db, nil, mods.ModelDirs, nil)
	migrator := migration.NewRunner(db, database.NewLedger(db, database.MigrationsTable), mods.MigrationDirs, "migration", nil)
	seeds := seeder.NewRunner(db, mods.SeederDirs, nil)
	mods.SetRunners(migrator, seeds)

	perms := auth.NewPermissionService(db, nil)
	require.NoError(t, perms.SeedCapabilities(ctx))
	authCfg := config.AuthConfig{JWTSecret: "test-secret", AccessExpiry: 1}
	jwt := auth.NewJWTService(authCfg, nil)

	tools := functions.NewTools(functions.Deps{
		DB:          db,
		Schema:      schema,
		Modules:     mods,
		Migrations:  migration.NewGenerator(migration.SQLite, schema, nil),
		Seeders:     seeder.NewGenerator(migration.SQLite, nil, mods.ModelDirs, nil),
		Migrator:    migrator,
		Seeds:       seeds,
		Permissions: perms,
		Paths:       paths,
	})
	reg := functions.NewRegistry(nil)
	require.NoError(t, tools.Install(reg))

	admin := NewAdminHandler(tools, reg, nil)
	for _, b := range admin.Bindings() {
		reg.Bind(b)
	}

	var service *chat.Service
	if llm != nil {
		service = chat.NewService(llm, reg, chat.NewMemoryStore(50, time.Hour), chat.Options{})
	}
	chatHandler := NewChatHandler(service, []string{"http://localhost:3000"}, nil)

	router := SetupRouter(Handlers{
		API:       NewHandler(engine.NewResolver(db, schema, nil), jwt, perms, authCfg, nil),
		Admin:     admin,
		Auth:      NewAuthHandler(db, jwt, perms, nil, nil),
		Generator: NewGeneratorHandler(nil, nil, mods.ModelDirs),
		Chat:      chatHandler,
		MCP:       NewMCPHandler(mcp.NewServer(reg, "lowcode", Version, nil)),
	}, RouterOptions{})

	_, err = auth.CreateUser(ctx, db, "admin@example.com", "Admin", password, []string{auth.AdminRole})
	require.NoError(t, err)
	_, err = auth.CreateUser(ctx, db, "viewer@example.com", "Viewer", password, nil)
	require.NoError(t, err)

	return &testServer{router: router, db: db, paths: paths, registry: reg, chat: chatHandler}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token auth.Token `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token.AccessToken)
	return out.Token.AccessToken
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, body(t, w)["version"])
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "admin@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, float64(maxLoginAttempts-1), body(t, w)["attempts_remaining"])

	token := s.login(t, "admin@example.com")
	w = s.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := body(t, w)
	assert.Equal(t, []interface{}{auth.AdminRole}, out["roles"])
	assert.Len(t, out["capabilities"], len(auth.Capabilities))
}

func TestLoginRateLimiter(t *testing.T) {
	rl := NewLoginRateLimiter()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < maxLoginAttempts; i++ {
		ok, _, _ := rl.Allow("k")
		require.True(t, ok)
	}
	ok, remaining, retry := rl.Allow("k")
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.Equal(t, loginBlock, retry)

	now = now.Add(loginBlock + time.Second)
	ok, _, _ = rl.Allow("k")
	assert.True(t, ok)

	now = now.Add(3 * loginBlock)
	assert.Equal(t, 1, rl.Cleanup())
}

func TestAdminRequiresCapability(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/admin/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/admin/models", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/admin/models", s.login(t, "viewer@example.com"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/admin/models", s.login(t, "admin@example.com"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCreateModel(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/admin/models", token, gin.H{
		"name":   "produto",
		"fields": []gin.H{{"name": "nome", "type": "STRING", "allowNull": false}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.FileExists(t, filepath.Join(s.paths.Models, "produto.model"))

	w = s.do(t, http.MethodGet, "/admin/models/produtos", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Produto", body(t, w)["data"].(map[string]interface{})["className"])

	w = s.do(t, http.MethodGet, "/admin/models/produto/source", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body(t, w)["data"].(map[string]interface{})["source"], "model Produto {")

	w = s.do(t, http.MethodGet, "/admin/migrations", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body(t, w)["pending"])

	w = s.do(t, http.MethodPost, "/admin/migrations/run", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, s.db.Migrator().HasTable("produtos"))

	w = s.do(t, http.MethodGet, "/admin/models/produtoz", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body(t, w)["available"], "produto")
}

func TestAdminPreviewWritesNothing(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/admin/models/preview", token, gin.H{
		"name":   "pessoa",
		"module": "enderecos",
		"fields": []gin.H{{"name": "nome", "type": "STRING"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "end_pessoas", data["tableName"])
	assert.Contains(t, data["source"], "model Pessoa {")
	assert.NoFileExists(t, filepath.Join(s.paths.Models, "pessoa.model"))
}

const produtosDDL = `CREATE TABLE "produtos" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "nome" VARCHAR(255) NOT NULL,
  "createdAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP, "updatedAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP)`

func TestDynamicCrud(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.db.Exec(produtosDDL).Error)
	def := models.NewModelDefinition("produto", "Produto", "", meta.Definition{
		Fields:  []meta.Field{{Name: "nome", Type: meta.TypeString, AllowNull: meta.BoolPtr(false)}},
		Options: meta.Options{"tableName": "produtos"},
	})
	require.NoError(t, s.db.Create(&def).Error)
	require.NoError(t, s.db.Create(&models.Crud{Name: "produtos", Resource: "produto", Endpoint: "/api/produtos", Active: true}).Error)
	token := s.login(t, "admin@example.com")
	w := s.do(t, http.MethodPost, "/admin/reload", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/produtos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/produtos", token, gin.H{"nome": "Caneta"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := body(t, w)["data"].(map[string]interface{})["id"]

	w = s.do(t, http.MethodPut, "/api/produtos/1", token, gin.H{"nome": "Lapis"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/produtos?filter=Lap", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := body(t, w)["data"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].(map[string]interface{})["id"])

	w = s.do(t, http.MethodDelete, "/api/produtos/1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/produtos/1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/nada", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body(t, w)["available"], "produtos")
}

func TestBindingsAreCallable(t *testing.T) {
	s := newTestServer(t, nil)

	for _, name := range []string{"models_getAllModels", "getMigrations", "listMigrations", "getSeeders", "getFunctions", "getModelByName"} {
		assert.True(t, s.registry.Has(name), name)
	}

	ctx := functions.WithCaller(context.Background(), 1)
	res := s.registry.Call(ctx, "getMigrations", nil)
	assert.True(t, res.Result.Success, res.Result.Message)

	res = s.registry.Call(ctx, "getModelByName", map[string]interface{}{"name": "nothing"})
	assert.False(t, res.Result.Success)
}

func TestMCPOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/api/mcp", token, gin.H{
		"jsonrpc": "2.0", "id": 7, "method": "tools/call",
		"params": gin.H{"name": "getModels", "arguments": gin.H{}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Mcp-Session-Id"))
	out := body(t, w)
	assert.Equal(t, float64(7), out["id"])
	result := out["result"].(map[string]interface{})
	assert.Equal(t, false, result["isError"])

	w = s.do(t, http.MethodPost, "/api/mcp", token, gin.H{"jsonrpc": "2.0", "method": "notifications/initialized"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodPost, "/api/mcp", s.login(t, "viewer@example.com"), gin.H{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChatUnavailableWithoutProvider(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/chatia", s.login(t, "admin@example.com"), gin.H{"message": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatRunsDeferredCallsAfterReply(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{
		"Creating it.\n",
		`{"function":"getModels","params":{}}` + "\n",
		`{"function":"createModel","params":{"name":"tarefa","fields":[{"name":"titulo","type":"STRING"}]}}`,
	}}
	s := newTestServer(t, llm)
	token := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/api/chatia", token, gin.H{"message": "create a task model"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := body(t, w)
	assert.Equal(t, []interface{}{"createModel"}, out["pending"])
	results := out["functionResults"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "getModels", results[0].(map[string]interface{})["function"])
	assert.NotContains(t, out["response"], `"function"`)

	s.chat.Wait()
	_, err := os.Stat(filepath.Join(s.paths.Models, "tarefa.model"))
	assert.NoError(t, err)

	w = s.do(t, http.MethodGet, "/api/chatia/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body(t, w)["data"])

	w = s.do(t, http.MethodDelete, "/api/chatia/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/chatia/session", token, nil)
	assert.Empty(t, body(t, w)["data"])
}

func TestChatStreamsEvents(t *testing.T) {
	llm := &scriptedLLM{chunks: []string{"Listing ", `{"function":"getModels",`, `"params":{}}`}}
	s := newTestServer(t, llm)
	token := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/api/chatia?stream=true", token, gin.H{"message": "list models"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))

	stream := w.Body.String()
	for _, event := range []string{chat.EventStart, chat.EventPartial, chat.EventFunction, chat.EventComplete} {
		assert.Contains(t, stream, "event:"+event)
	}
	assert.Less(t, strings.Index(stream, "event:"+chat.EventStart), strings.Index(stream, "event:"+chat.EventComplete))
}
