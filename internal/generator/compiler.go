package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"sync"
	"time"
)

// CompiledModel represents a parsed model source
type CompiledModel struct {
	Path       string
	Source     ModelSource
	Hash       string
	CompiledAt time.Time
}

// ModelCache caches parsed model sources in memory
type ModelCache struct {
	mu     sync.RWMutex
	byPath map[string]*CompiledModel
	byHash map[string]*CompiledModel // key: content hash (for dedup)
}

// Compiler parses model sources and caches the result by content hash, so a
// reload only re-parses files that changed.
type Compiler struct {
	codec Codec
	cache *ModelCache
}

// NewCompiler creates a new model compiler
func NewCompiler(codec Codec) *Compiler {
	if codec == nil {
		codec = NewCodec()
	}
	return &Compiler{
		codec: codec,
		cache: &ModelCache{
			byPath: make(map[string]*CompiledModel),
			byHash: make(map[string]*CompiledModel),
		},
	}
}

// Compile parses src, reusing a cached result when the content is unchanged
func (c *Compiler) Compile(path, src string) *CompiledModel {
	hash := hashCode(src)

	c.cache.mu.RLock()
	hit, ok := c.cache.byHash[hash]
	c.cache.mu.RUnlock()
	if ok {
		comp := &CompiledModel{Path: path, Source: hit.Source, Hash: hash, CompiledAt: hit.CompiledAt}
		c.cacheModel(comp)
		return comp
	}

	comp := &CompiledModel{
		Path:       path,
		Source:     c.codec.Decode(src),
		Hash:       hash,
		CompiledAt: time.Now(),
	}
	c.cacheModel(comp)
	return comp
}

// CompileFile reads and compiles a model source file
func (c *Compiler) CompileFile(path string) (*CompiledModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Compile(path, string(data)), nil
}

// Get returns a cached model by path
func (c *Compiler) Get(path string) *CompiledModel {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return c.cache.byPath[path]
}

// All returns every cached model ordered by path
func (c *Compiler) All() []*CompiledModel {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	result := make([]*CompiledModel, 0, len(c.cache.byPath))
	for _, comp := range c.cache.byPath {
		result = append(result, comp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

func (c *Compiler) cacheModel(comp *CompiledModel) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.byPath[comp.Path] = comp
	c.cache.byHash[comp.Hash] = comp
}

// Invalidate drops one path from the cache
func (c *Compiler) Invalidate(path string) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if comp, ok := c.cache.byPath[path]; ok {
		delete(c.cache.byHash, comp.Hash)
		delete(c.cache.byPath, path)
	}
}

// InvalidateCache clears the model cache
func (c *Compiler) InvalidateCache() {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.byPath = make(map[string]*CompiledModel)
	c.cache.byHash = make(map[string]*CompiledModel)
}

func hashCode(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}
