// Package manifest loads the deployment manifest: the owner account, this
// service's address, and the code references an upgrade may activate.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Module is one deployable code reference.
type Module struct {
	Ref  string `toml:"ref"`
	Note string `toml:"note"`
}

// Manifest declares a registry deployment.
type Manifest struct {
	Owner   string   `toml:"owner"`
	Service string   `toml:"service"`
	Modules []Module `toml:"module"`
}

// Load reads and validates the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	if strings.TrimSpace(m.Owner) == "" {
		return fmt.Errorf("manifest owner is required")
	}
	if strings.TrimSpace(m.Service) == "" {
		return fmt.Errorf("manifest service is required")
	}
	seen := make(map[string]struct{}, len(m.Modules))
	for i, mod := range m.Modules {
		ref := strings.TrimSpace(mod.Ref)
		if ref == "" {
			return fmt.Errorf("module %d: ref is required", i)
		}
		if _, ok := seen[ref]; ok {
			return fmt.Errorf("module ref %q is duplicated", ref)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

// Refs returns the declared code references in manifest order.
func (m Manifest) Refs() []string {
	refs := make([]string, 0, len(m.Modules))
	for _, mod := range m.Modules {
		refs = append(refs, strings.TrimSpace(mod.Ref))
	}
	return refs
}

// HasRef reports whether ref is declared by the manifest.
func (m Manifest) HasRef(ref string) bool {
	for _, mod := range m.Modules {
		if strings.TrimSpace(mod.Ref) == ref {
			return true
		}
	}
	return false
}
