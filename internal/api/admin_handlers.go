// Package api - Admin handlers for models, migrations, seeders and modules
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/functions"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/module"
)

// AdminHandler contains admin API handlers
type AdminHandler struct {
	tools    *functions.Tools
	registry *functions.Registry
	logger   *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(tools *functions.Tools, registry *functions.Registry, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{tools: tools, registry: registry, logger: logger}
}

// respondResult writes a tool outcome. Unsuccessful results are 400s,
// errors are mapped through the error taxonomy.
func respondResult(c *gin.Context, res functions.Result, err error, status int) {
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Success {
		status = http.StatusBadRequest
	}
	body := gin.H{"success": res.Success, "message": res.Message}
	if res.Data != nil {
		body["data"] = res.Data
	}
	c.JSON(status, body)
}

func bindBody(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return false
	}
	return true
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels returns the registered models
// GET /admin/models
func (h *AdminHandler) ListModels(c *gin.Context) {
	list := h.tools.Models(c.Query("module"))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

// GetModel returns one model with its definition
// GET /admin/models/:name
func (h *AdminHandler) GetModel(c *gin.Context) {
	snap := h.tools.Schema.Snapshot()
	model, ok := snap.Lookup(c.Param("name"))
	if !ok {
		respondError(c, apperrors.NewNotFound("model", c.Param("name"), snap.Names()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": model})
}

// CreateModel runs the model creation cascade
// POST /admin/models
func (h *AdminHandler) CreateModel(c *gin.Context) {
	var in functions.ModelInput
	if !bindBody(c, &in) {
		return
	}
	res, err := h.tools.CreateModel(c.Request.Context(), in)
	respondResult(c, res, err, http.StatusCreated)
}

// UpdateModel merges the payload into an existing model
// PUT /admin/models/:name
func (h *AdminHandler) UpdateModel(c *gin.Context) {
	var in functions.ModelInput
	if !bindBody(c, &in) {
		return
	}
	in.Name = c.Param("name")
	res, err := h.tools.UpdateModel(c.Request.Context(), in)
	respondResult(c, res, err, http.StatusOK)
}

// DeleteModel removes a model; ?dropTable=false keeps its table
// DELETE /admin/models/:name
func (h *AdminHandler) DeleteModel(c *gin.Context) {
	drop := c.DefaultQuery("dropTable", "true") != "false"
	res, err := h.tools.DeleteModel(c.Request.Context(), c.Param("name"), drop)
	respondResult(c, res, err, http.StatusOK)
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// MigrationStatus lists migration files and whether each is applied
// GET /admin/migrations
func (h *AdminHandler) MigrationStatus(c *gin.Context) {
	status, err := h.tools.Migrator.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status, "pending": pending(status)})
}

// GenerateMigration writes a migration for a model
// POST /admin/migrations
func (h *AdminHandler) GenerateMigration(c *gin.Context) {
	var req struct {
		ModelName string `json:"modelName"`
		IsNew     *bool  `json:"isNew"`
	}
	if !bindBody(c, &req) {
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		respondError(c, apperrors.NewValidationError("modelName", "modelName is required"))
		return
	}
	res, err := h.tools.GenerateMigration(c.Request.Context(), req.ModelName, req.IsNew)
	respondResult(c, res, err, http.StatusCreated)
}

// RunMigrations applies pending migrations
// POST /admin/migrations/run
func (h *AdminHandler) RunMigrations(c *gin.Context) {
	applied, err := h.tools.Migrator.Up(c.Request.Context())
	h.reload(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error(), "data": applied})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%d migrations applied", len(applied)),
		"data":    applied,
	})
}

// RollbackMigrations reverts the last applied migrations
// POST /admin/migrations/rollback
func (h *AdminHandler) RollbackMigrations(c *gin.Context) {
	var req struct {
		Steps int `json:"steps"`
	}
	if !bindBody(c, &req) {
		return
	}
	if req.Steps <= 0 {
		req.Steps = 1
	}
	reverted, err := h.tools.Migrator.Down(c.Request.Context(), req.Steps)
	if err != nil {
		respondError(c, err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%d migrations reverted", len(reverted)),
		"data":    reverted,
	})
}

// =============================================================================
// SEEDERS
// =============================================================================

// SeederStatus lists seeder files and whether each has run
// GET /admin/seeders
func (h *AdminHandler) SeederStatus(c *gin.Context) {
	status, err := h.tools.Seeds.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

// GenerateSeeder writes a seeder from rows or sample rows
// POST /admin/seeders
func (h *AdminHandler) GenerateSeeder(c *gin.Context) {
	var req struct {
		ModelName string                   `json:"modelName"`
		Data      []map[string]interface{} `json:"data"`
		Count     int                      `json:"count"`
		Module    string                   `json:"module"`
		TableName string                   `json:"tableName"`
	}
	if !bindBody(c, &req) {
		return
	}
	res, err := h.tools.GenerateSeeder(req.ModelName, req.Data, req.Count, req.Module, req.TableName)
	respondResult(c, res, err, http.StatusCreated)
}

// RunSeeders runs one named seeder or every pending one
// POST /admin/seeders/run
func (h *AdminHandler) RunSeeders(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if !bindBody(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if req.Name != "" {
		applied, err := h.tools.Seeds.Apply(ctx, req.Name)
		if err != nil {
			respondError(c, err)
			return
		}
		msg := "Seeder " + req.Name + " applied"
		if !applied {
			msg = "Seeder " + req.Name + " was already applied"
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
		return
	}
	applied, err := h.tools.Seeds.Up(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error(), "data": applied})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%d seeders applied", len(applied)),
		"data":    applied,
	})
}

// =============================================================================
// MODULES
// =============================================================================

// ListModules returns the modules in dependency order
// GET /admin/modules
func (h *AdminHandler) ListModules(c *gin.Context) {
	list, err := h.tools.Modules.Discover()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
}

// CreateModule scaffolds a module
// POST /admin/modules
func (h *AdminHandler) CreateModule(c *gin.Context) {
	var spec module.CreateSpec
	if !bindBody(c, &spec) {
		return
	}
	m, err := h.tools.Modules.Create(spec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Module " + m.Name + " created", "data": m})
}

// InstallModule installs a module and its dependencies
// POST /admin/modules/:name/install
func (h *AdminHandler) InstallModule(c *gin.Context) {
	m, err := h.tools.Modules.Install(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Module " + m.Name + " installed", "data": m})
}

// UninstallModule disables a module after reverting its install seeders
// POST /admin/modules/:name/uninstall
func (h *AdminHandler) UninstallModule(c *gin.Context) {
	m, err := h.tools.Modules.Uninstall(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Module " + m.Name + " uninstalled", "data": m})
}

// DeleteModule removes a module directory
// DELETE /admin/modules/:name
func (h *AdminHandler) DeleteModule(c *gin.Context) {
	name := c.Param("name")
	if err := h.tools.Modules.Delete(name); err != nil {
		respondError(c, err)
		return
	}
	h.reload(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Module " + name + " deleted"})
}

// =============================================================================
// FUNCTIONS AND RELOAD
// =============================================================================

// ListFunctions returns every callable under its canonical name
// GET /admin/functions
func (h *AdminHandler) ListFunctions(c *gin.Context) {
	list := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list, "count": len(list)})
}

// Reload rebuilds the model registry
// POST /admin/reload
func (h *AdminHandler) Reload(c *gin.Context) {
	snap, err := h.tools.Schema.Reload(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Registry reloaded: " + strconv.Itoa(len(snap.Names())) + " models",
		"data":    gin.H{"version": snap.Version, "models": snap.Names()},
	})
}

func (h *AdminHandler) reload(c *gin.Context) {
	if _, err := h.tools.Schema.Reload(c.Request.Context()); err != nil {
		h.logger.Warn("registry reload failed", zap.Error(err))
	}
}

// =============================================================================
// FUNCTION BINDINGS
// =============================================================================

// Bindings is the registration table exposing admin handlers as callable
// functions. Names taken by manual tools stay with the tools.
func (h *AdminHandler) Bindings() []functions.Binding {
	return []functions.Binding{
		{Controller: "models", Method: "getAllModels", Kind: functions.KindList, Handler: h.ListModels,
			Plural: "models", Description: "List registered models"},
		{Controller: "models", Method: "getModelByName", Kind: functions.KindGet, Handler: h.GetModel,
			Singular: "model", Param: "name", Description: "Get a registered model by name"},
		{Controller: "migrations", Method: "getMigrationStatus", Kind: functions.KindList, Handler: h.MigrationStatus,
			Plural: "migrations", Description: "List migration files and whether each is applied"},
		{Controller: "migrations", Method: "rollbackMigrations", Kind: functions.KindAction, Handler: h.RollbackMigrations,
			Description: "Revert the last applied migrations",
			InputSchema: functions.Schema(map[string]string{"steps": "integer"})},
		{Controller: "seeders", Method: "getSeederStatus", Kind: functions.KindList, Handler: h.SeederStatus,
			Plural: "seeders", Description: "List seeder files and whether each has run"},
		{Controller: "modules", Method: "deleteModule", Kind: functions.KindDelete, Handler: h.DeleteModule,
			Param: "name", Description: "Delete a module directory"},
		{Controller: "functions", Method: "getAllFunctions", Kind: functions.KindList, Handler: h.ListFunctions,
			Plural: "functions", Description: "List every callable function"},
	}
}

func pending(list []migration.FileStatus) int {
	count := 0
	for _, s := range list {
		if !s.Applied {
			count++
		}
	}
	return count
}
