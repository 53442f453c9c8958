// Package module discovers feature modules on disk, orders them by their
// dependencies and installs or uninstalls them.
package module

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// nameRegex matches normalized module names
var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// SystemModule is always ordered first
const SystemModule = "system"

// Descriptor file names, in lookup order
const (
	JSONDescriptor = "module.json"
	YAMLDescriptor = "module.yaml"
)

// Scaffold directories created for a new module
var Scaffold = []string{"models", "migrations", "seeders", "routes", "controllers"}

// Module is a feature module described by module.json or module.yaml
type Module struct {
	Name         string   `json:"name" yaml:"name"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description" yaml:"description"`
	Version      string   `json:"version" yaml:"version"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	IsSystem     bool     `json:"isSystem" yaml:"isSystem"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Path         string   `json:"path,omitempty" yaml:"-"`

	descriptor string
}

// Dir returns one of the module's scaffold directories
func (m Module) Dir(kind string) string {
	return filepath.Join(m.Path, kind)
}

// DependsOn reports whether name is a direct dependency
func (m Module) DependsOn(name string) bool {
	for _, d := range m.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}

// load reads the descriptor of the module in dir
func load(dir string) (Module, bool, error) {
	for _, name := range []string{JSONDescriptor, YAMLDescriptor} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Module{}, false, err
		}

		var m Module
		if name == JSONDescriptor {
			err = json.Unmarshal(data, &m)
		} else {
			err = yaml.Unmarshal(data, &m)
		}
		if err != nil {
			return Module{}, false, fmt.Errorf("invalid %s: %w", path, err)
		}
		if m.Name == "" {
			m.Name = filepath.Base(dir)
		}
		m.Path = dir
		m.descriptor = name
		return m, true, nil
	}
	return Module{}, false, nil
}

// save writes the descriptor back in the format it was read in
func save(m Module) error {
	name := m.descriptor
	if name == "" {
		name = JSONDescriptor
	}
	var data []byte
	var err error
	if name == YAMLDescriptor {
		data, err = yaml.Marshal(m)
	} else {
		data, err = json.MarshalIndent(m, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return err
	}

	path := filepath.Join(m.Path, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NormalizeName lowercases a module name and replaces spaces and
// underscores with dashes
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(name)
}
