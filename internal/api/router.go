// Package api - Router setup
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/aethra/lowcode/internal/auth"
	"github.com/aethra/lowcode/internal/config"
)

// Handlers groups everything the router mounts
type Handlers struct {
	API       *Handler
	Admin     *AdminHandler
	Auth      *AuthHandler
	Generator *GeneratorHandler
	Chat      *ChatHandler
	MCP       *MCPHandler
}

// RouterOptions configures the engine itself
type RouterOptions struct {
	CORS config.CORSConfig
	// AccessLog enables gin's request logger
	AccessLog bool
}

// SetupRouter creates and configures the Gin router
func SetupRouter(h Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.AccessLog {
		r.Use(gin.Logger())
	}

	// When credentials are used, specific origins must be provided (not *)
	corsConfig := cors.Config{
		AllowOrigins:     opts.CORS.Origins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Mcp-Session-Id"},
		AllowCredentials: opts.CORS.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.New(corsConfig))

	api := h.API
	r.Use(api.UserMiddleware())

	// Health check (no auth required)
	r.GET("/api/health", api.Health)

	// ==========================================================================
	// AUTH API
	// ==========================================================================
	r.POST("/auth/login", h.Auth.Login)
	authProtected := r.Group("/auth", api.RequireAuthMiddleware())
	{
		authProtected.GET("/me", h.Auth.GetMe)
		authProtected.POST("/change-password", h.Auth.ChangePassword)
	}

	// ==========================================================================
	// ADMIN API - models, migrations, seeders, modules, functions
	// Every route requires a named capability
	// ==========================================================================
	admin := r.Group("/admin", api.RequireAuthMiddleware())
	{
		read := api.RequireCapability(auth.CapModelsRead)
		write := api.RequireCapability(auth.CapModelsWrite)

		admin.GET("/models", read, h.Admin.ListModels)
		admin.POST("/models", write, h.Admin.CreateModel)
		admin.POST("/models/preview", read, h.Generator.Preview)
		admin.GET("/models/:name", read, h.Admin.GetModel)
		admin.GET("/models/:name/source", read, h.Generator.Source)
		admin.PUT("/models/:name", write, h.Admin.UpdateModel)
		admin.DELETE("/models/:name", write, h.Admin.DeleteModel)

		admin.GET("/generator/cache", read, h.Generator.Cache)
		admin.DELETE("/generator/cache", write, h.Generator.InvalidateCache)

		migrate := api.RequireCapability(auth.CapMigrationsRun)
		admin.GET("/migrations", read, h.Admin.MigrationStatus)
		admin.POST("/migrations", write, h.Admin.GenerateMigration)
		admin.POST("/migrations/run", migrate, h.Admin.RunMigrations)
		admin.POST("/migrations/rollback", migrate, h.Admin.RollbackMigrations)

		admin.GET("/seeders", read, h.Admin.SeederStatus)
		admin.POST("/seeders", write, h.Admin.GenerateSeeder)
		admin.POST("/seeders/run", api.RequireCapability(auth.CapSeedersRun), h.Admin.RunSeeders)

		modules := admin.Group("/modules", api.RequireCapability(auth.CapModulesManage))
		modules.GET("", h.Admin.ListModules)
		modules.POST("", h.Admin.CreateModule)
		modules.POST("/:name/install", h.Admin.InstallModule)
		modules.POST("/:name/uninstall", h.Admin.UninstallModule)
		modules.DELETE("/:name", h.Admin.DeleteModule)

		admin.GET("/functions", api.RequireCapability(auth.CapFunctionsRead), h.Admin.ListFunctions)
		admin.POST("/reload", api.RequireCapability(auth.CapRegistryReload), h.Admin.Reload)
	}

	// ==========================================================================
	// CHAT AND MCP
	// ==========================================================================
	chatRoutes := r.Group("/api/chatia", api.RequireAuthMiddleware(), api.RequireCapability(auth.CapChatUse))
	{
		chatRoutes.POST("", h.Chat.Chat)
		chatRoutes.GET("/ws", h.Chat.WebSocket)
		chatRoutes.GET("/session", h.Chat.History)
		chatRoutes.DELETE("/session", h.Chat.ClearSession)
	}
	r.POST("/api/mcp", api.RequireAuthMiddleware(), api.RequireCapability(auth.CapMCPUse), h.MCP.Handle)

	// ==========================================================================
	// DYNAMIC CRUD - any registered model
	// ==========================================================================
	data := r.Group("/api", api.RequireAuthMiddleware())
	{
		for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
			data.Handle(method, "/:resource", api.Resource)
			data.Handle(method, "/:resource/:id", api.Resource)
		}
	}

	return r
}
