// Package functions exposes administrative operations as named callables
// for the chat and MCP surfaces. Manually declared tools and controller
// bindings share one name table; every outcome is coerced into a Result.
package functions

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/aethra/lowcode/internal/errors"
)

// Descriptor describes a callable for tool listings
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Result is the outcome of one call
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FunctionResult pairs a call with its result
type FunctionResult struct {
	Function string                 `json:"function"`
	Params   map[string]interface{} `json:"params"`
	Result   Result                 `json:"result"`
}

// Func is the callable behind a name
type Func func(ctx context.Context, args Args) (Result, error)

// Tool is a manually declared callable
type Tool struct {
	Descriptor
	Aliases []string
	Func    Func
}

type entry struct {
	desc   Descriptor
	fn     Func
	manual bool
}

// Registry maps names and aliases to callables
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*entry
	byLower map[string]*entry
	order   []*entry

	engine *gin.Engine
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName:  map[string]*entry{},
		byLower: map[string]*entry{},
		engine:  gin.New(),
		logger:  logger,
	}
}

// Register adds a manual tool. Manual tools replace controller bindings
// registered under the same name.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Func == nil {
		return apperrors.NewValidationError("tool", "name and func are required")
	}
	if t.InputSchema == nil {
		t.InputSchema = Schema(nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[t.Name]; ok && existing.manual {
		return apperrors.NewConflictError("function " + t.Name)
	}
	e := &entry{desc: t.Descriptor, fn: t.Func, manual: true}
	r.order = append(r.order, e)
	for _, name := range append([]string{t.Name}, t.Aliases...) {
		r.put(name, e, true)
	}
	return nil
}

// Bind adds a controller binding under its canonical name and aliases.
// Names already taken are skipped; the names actually bound are returned.
func (r *Registry) Bind(b Binding) []string {
	names := b.Names()
	if len(names) == 0 || b.Handler == nil {
		return nil
	}
	e := &entry{
		desc: Descriptor{Name: names[0], Description: b.describe(), InputSchema: b.schema()},
		fn:   b.callable(r.engine),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var bound []string
	for _, name := range names {
		if r.put(name, e, false) {
			bound = append(bound, name)
		}
	}
	if len(bound) > 0 && bound[0] == names[0] {
		r.order = append(r.order, e)
	}
	return bound
}

// put stores e under name. Manual entries overwrite bindings; otherwise the
// first registration keeps the name.
func (r *Registry) put(name string, e *entry, manual bool) bool {
	if existing, ok := r.byName[name]; ok && (existing.manual || !manual) {
		return false
	}
	r.byName[name] = e
	lower := strings.ToLower(name)
	if existing, ok := r.byLower[lower]; !ok || (manual && !existing.manual) {
		r.byLower[lower] = e
	}
	if existing, ok := r.byName[lower]; ok && manual && !existing.manual {
		r.byName[lower] = e
	}
	return true
}

// List returns one descriptor per callable, under its canonical name
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, e := range r.order {
		if r.byName[e.desc.Name] == e {
			out = append(out, e.desc)
		}
	}
	return out
}

// Names returns every registered name including aliases, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name resolves to a callable
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Canonical returns the canonical name behind name or an alias
func (r *Registry) Canonical(name string) (string, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	return e.desc.Name, true
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[name]; ok {
		return e, true
	}
	e, ok := r.byLower[strings.ToLower(name)]
	return e, ok
}

// Call dispatches name with params. It never panics: errors and panics
// become unsuccessful results.
func (r *Registry) Call(ctx context.Context, name string, params map[string]interface{}) (out FunctionResult) {
	if params == nil {
		params = map[string]interface{}{}
	}
	out = FunctionResult{Function: name, Params: params}

	e, ok := r.lookup(name)
	if !ok {
		out.Result = Result{Message: apperrors.NewNotFound("function", name, r.canonicalNames()).Error()}
		return out
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("function panicked",
				zap.String("function", name), zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			out.Result = Result{Message: fmt.Sprintf("%s failed: %v", name, rec)}
		}
	}()

	res, err := e.fn(ctx, Args(params))
	out.Result = coerce(res, err)
	if err != nil {
		r.logger.Warn("function failed", zap.String("function", name), zap.Error(err))
	}
	return out
}

func (r *Registry) canonicalNames() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Name
	}
	return out
}

// coerce normalises a handler outcome into a Result with a message
func coerce(res Result, err error) Result {
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}
	if res.Message == "" {
		if res.Success {
			res.Message = "Operation completed"
		} else {
			res.Message = "Operation failed"
		}
	}
	return res
}

// Ok is a successful Result
func Ok(message string, data interface{}) (Result, error) {
	return Result{Success: true, Message: message, Data: data}, nil
}
