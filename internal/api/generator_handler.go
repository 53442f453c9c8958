// Package api - Model source generator handler
package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/functions"
	"github.com/aethra/lowcode/internal/generator"
	"github.com/aethra/lowcode/internal/meta"
)

// GeneratorHandler exposes the model source codec and its compile cache
type GeneratorHandler struct {
	codec    generator.Codec
	compiler *generator.Compiler
	dirs     func() []string
}

// NewGeneratorHandler creates a new generator handler. dirs lists the model
// directories searched for sources.
func NewGeneratorHandler(codec generator.Codec, compiler *generator.Compiler, dirs func() []string) *GeneratorHandler {
	if codec == nil {
		codec = generator.NewCodec()
	}
	if compiler == nil {
		compiler = generator.NewCompiler(codec)
	}
	return &GeneratorHandler{codec: codec, compiler: compiler, dirs: dirs}
}

// Preview renders the source a model definition would produce without
// writing it
// POST /admin/models/preview
func (h *GeneratorHandler) Preview(c *gin.Context) {
	var in functions.ModelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body"))
		return
	}
	if in.ClassName == "" {
		in.ClassName = meta.Capitalize(in.Name)
	}
	if in.ClassName == "" {
		respondError(c, apperrors.NewValidationError("name", "model name is required"))
		return
	}

	src, err := h.codec.Encode(generator.Spec{
		Name: in.Name, ClassName: in.ClassName, Module: in.Module,
		Fields: in.Fields, Associations: in.Associations, Options: in.Options,
	})
	if err != nil {
		respondError(c, apperrors.NewValidationError("fields", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"source":    src,
			"tableName": meta.ResolveTableName(in.ClassName, in.Module, in.Options),
		},
	})
}

// Source returns the model file of name with what the parser reads from it
// GET /admin/models/:name/source
func (h *GeneratorHandler) Source(c *gin.Context) {
	name := c.Param("name")
	for i, dir := range h.dirs() {
		store := generator.NewStore(dir)
		src, err := store.Read(name)
		if err != nil {
			continue
		}
		path, _ := store.Path(name)
		comp := h.compiler.Compile(path, src)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"path":       comp.Path,
				"module":     moduleOfDir(dir, i),
				"source":     src,
				"parsed":     comp.Source,
				"hash":       comp.Hash,
				"compiledAt": comp.CompiledAt,
			},
		})
		return
	}
	respondError(c, apperrors.NewNotFound("model source", name, nil))
}

// Cache lists the parsed sources held by the compiler
// GET /admin/generator/cache
func (h *GeneratorHandler) Cache(c *gin.Context) {
	all := h.compiler.All()
	out := make([]gin.H, 0, len(all))
	for _, comp := range all {
		out = append(out, gin.H{
			"path":       comp.Path,
			"className":  comp.Source.ClassName,
			"hash":       comp.Hash,
			"compiledAt": comp.CompiledAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

// InvalidateCache clears the compile cache
// DELETE /admin/generator/cache
func (h *GeneratorHandler) InvalidateCache(c *gin.Context) {
	h.compiler.InvalidateCache()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cache invalidated"})
}

// moduleOfDir names the module owning a models directory; the first
// directory is the application's own
func moduleOfDir(dir string, index int) string {
	if index == 0 {
		return ""
	}
	return filepath.Base(filepath.Dir(dir))
}
