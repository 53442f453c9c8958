// Package engine - Dynamic CRUD resolver
// Routes /api/<resource> requests to the model behind a Crud interface and
// runs list/get/create/update/delete against its table.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aethra/lowcode/internal/database"
	apperrors "github.com/aethra/lowcode/internal/errors"
	"github.com/aethra/lowcode/internal/meta"
	"github.com/aethra/lowcode/internal/migration"
	"github.com/aethra/lowcode/internal/models"
	"github.com/aethra/lowcode/internal/registry"
)

// Schema supplies the current registry snapshot
type Schema interface {
	Snapshot() *registry.Snapshot
}

// Request is one dynamic CRUD call
type Request struct {
	Resource string
	Method   string
	ID       string
	Query    url.Values
	Body     map[string]interface{}
}

// Response is the status and JSON payload of a dynamic CRUD call
type Response struct {
	Status  int
	Payload map[string]interface{}
}

// Resolver handles dynamic CRUD requests
type Resolver struct {
	db      *gorm.DB
	schema  Schema
	dialect migration.Dialect
	logger  *zap.Logger
}

// NewResolver creates a resolver over db using the registry snapshots of schema
func NewResolver(db *gorm.DB, schema Schema, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		db:      db,
		schema:  schema,
		dialect: migration.ParseDialect(database.DialectName(db)),
		logger:  logger,
	}
}

// target is everything a single request operates on
type target struct {
	snap     *registry.Snapshot
	crud     *models.Crud
	model    *meta.Model
	includes []include
}

// Handle resolves the resource and runs the operation implied by the method.
// Errors are mapped to their HTTP status; unknown errors become 500 with the
// original message.
func (r *Resolver) Handle(ctx context.Context, req Request) Response {
	payload, status, err := r.handle(ctx, req)
	if err != nil {
		code, body := apperrors.ToHTTPError(err)
		if code >= http.StatusInternalServerError {
			r.logger.Error("dynamic crud failed",
				zap.String("resource", req.Resource), zap.String("method", req.Method), zap.Error(err))
		}
		return Response{Status: code, Payload: body}
	}
	return Response{Status: status, Payload: payload}
}

func (r *Resolver) handle(ctx context.Context, req Request) (map[string]interface{}, int, error) {
	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, 0, apperrors.NewMethodNotAllowedError(req.Method)
	}

	t, err := r.resolve(ctx, req.Resource)
	if err != nil {
		return nil, 0, err
	}

	switch method {
	case http.MethodGet:
		if req.ID == "" {
			res, err := r.list(ctx, t, parseListParams(req.Query))
			if err != nil {
				return nil, 0, err
			}
			return map[string]interface{}{
				"success":    true,
				"data":       res.Rows,
				"pagination": res.pagination(),
			}, http.StatusOK, nil
		}
		row, err := r.get(ctx, r.db, t, req.ID)
		return envelope(row), http.StatusOK, err

	case http.MethodPost:
		row, err := r.create(ctx, t, req.Body)
		return envelope(row), http.StatusCreated, err

	case http.MethodPut, http.MethodPatch:
		if req.ID == "" {
			return nil, 0, apperrors.NewBadRequestError("id is required")
		}
		row, err := r.update(ctx, t, req.ID, req.Body)
		return envelope(row), http.StatusOK, err

	default:
		if req.ID == "" {
			return nil, 0, apperrors.NewBadRequestError("id is required")
		}
		if err := r.delete(ctx, t, req.ID); err != nil {
			return nil, 0, err
		}
		return map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("%s %s deleted", t.model.Name, req.ID),
		}, http.StatusOK, nil
	}
}

func envelope(row map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"success": true, "data": row}
}

// resolve finds the Crud and its model in the current snapshot
func (r *Resolver) resolve(ctx context.Context, resource string) (*target, error) {
	crud, err := r.findCrud(ctx, resource)
	if err != nil {
		return nil, err
	}

	snap := r.schema.Snapshot()
	model, ok := ResolveModel(snap, crud.Resource)
	if !ok {
		return nil, apperrors.NewNotFound("model", crud.Resource, snap.Names())
	}

	t := &target{snap: snap, crud: crud, model: model}
	t.includes = r.includes(snap, model, crud)
	return t, nil
}

// findCrud looks up an active Crud by name, then by endpoint
func (r *Resolver) findCrud(ctx context.Context, resource string) (*models.Crud, error) {
	resource = strings.Trim(strings.TrimSpace(resource), "/")
	if resource == "" {
		return nil, apperrors.NewNotFoundError("crud")
	}

	var crud models.Crud
	err := r.db.WithContext(ctx).
		Where("active = ? AND name = ?", true, resource).
		First(&crud).Error
	if err == nil {
		return &crud, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var all []models.Crud
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&all).Error; err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for i := range all {
		if endpointMatches(all[i].Endpoint, resource) {
			return &all[i], nil
		}
		names = append(names, all[i].Name)
	}
	return nil, apperrors.NewNotFound("crud", resource, names)
}

// endpointMatches compares a stored endpoint such as "/api/pessoas" with the
// requested resource segment
func endpointMatches(endpoint, resource string) bool {
	ep := strings.Trim(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return false
	}
	ep = strings.TrimPrefix(ep, "api/")
	return strings.EqualFold(ep, resource)
}

// irregular plurals the variant rules cannot derive
var specialModelNames = map[string]string{
	"people":     "person",
	"children":   "child",
	"addresses":  "address",
	"statuses":   "status",
	"categories": "category",
	"companies":  "company",
	"countries":  "country",
	"cities":     "city",
}

// ResolveModel maps a Crud's declared resource to a registered model: the
// name and its plural/singular variants, the irregular plural table, then
// capitalisation variants of the class name.
func ResolveModel(snap *registry.Snapshot, resource string) (*meta.Model, bool) {
	name := strings.TrimSpace(resource)
	if name == "" {
		return nil, false
	}
	for _, v := range meta.NameVariants(name) {
		if m, ok := snap.Get(v); ok {
			return m, true
		}
	}
	if singular, ok := specialModelNames[strings.ToLower(name)]; ok {
		if m, ok := snap.Get(singular); ok {
			return m, true
		}
	}
	for _, v := range []string{name, meta.Capitalize(name), meta.ToPascal(name), strings.ToLower(name)} {
		if m, ok := snap.Lookup(v); ok {
			return m, true
		}
	}
	return nil, false
}
