// Package plugin implements the Plugin Host: discovery and lifecycle
// management of sandboxed extensions, hook dispatch with priority ordering
// and a per-plugin circuit breaker, and route/command/service registration.
package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/core/runtime/corerr"
	"github.com/agentmesh/core/runtime/schema"
)

// Provides declares what a plugin registers, purely for discovery-time
// introspection; the actual registration happens when register(api) runs.
type Provides struct {
	Tools    []string `yaml:"tools,omitempty"`
	Hooks    []string `yaml:"hooks,omitempty"`
	Routes   []string `yaml:"routes,omitempty"`
	Commands []string `yaml:"commands,omitempty"`
	Planners []string `yaml:"planners,omitempty"`
	Services []string `yaml:"services,omitempty"`
}

// Manifest is the decoded plugin.yaml.
type Manifest struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Entry       string   `yaml:"entry"`
	Permissions []string `yaml:"permissions,omitempty"`
	Provides    Provides `yaml:"provides,omitempty"`

	// Dir is the absolute plugin directory the manifest was discovered in.
	// Not part of plugin.yaml itself.
	Dir string `yaml:"-"`
}

// Discovered is one plugin.yaml found by Discover, with its content hash
// for reload detection.
type Discovered struct {
	Manifest Manifest
	Hash     string // hex sha256 over manifest bytes + entry file bytes
}

var validator = schema.New()

// Discover walks one level under dir, parses every plugin.yaml it finds
// against the PluginManifest schema, rejects manifests whose entry
// resolves outside the plugin directory, and computes a content hash so
// reloads can be detected.
func Discover(dir string) ([]Discovered, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, corerr.Wrap(corerr.IOError, "read plugin directory", err)
	}

	var out []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, "plugin.yaml")
		raw, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, corerr.Wrap(corerr.IOError, "read "+manifestPath, err)
		}

		manifest, err := parseManifest(raw, pluginDir)
		if err != nil {
			return nil, err
		}

		entryHash, err := os.ReadFile(manifest.Entry)
		if err != nil {
			return nil, corerr.Wrap(corerr.IOError, "read plugin entry", err)
		}

		h := sha256.New()
		h.Write(raw)
		h.Write(entryHash)
		out = append(out, Discovered{
			Manifest: manifest,
			Hash:     hex.EncodeToString(h.Sum(nil)),
		})
	}
	return out, nil
}

func parseManifest(raw []byte, pluginDir string) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, corerr.Wrap(corerr.BadInput, "parse plugin.yaml", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, corerr.Wrap(corerr.BadInput, "parse plugin.yaml", err)
	}
	if res, err := validator.Validate(schema.PluginManifestSchema, doc); err != nil {
		return Manifest{}, err
	} else if !res.Valid {
		return Manifest{}, corerr.Newf(corerr.BadInput, "plugin.yaml failed validation: %v", res.Errors)
	}

	absDir, err := filepath.Abs(pluginDir)
	if err != nil {
		return Manifest{}, corerr.Wrap(corerr.IOError, "resolve plugin directory", err)
	}
	resolved, err := filepath.Abs(filepath.Join(absDir, m.Entry))
	if err != nil {
		return Manifest{}, corerr.Wrap(corerr.IOError, "resolve plugin entry path", err)
	}
	rel, err := filepath.Rel(absDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return Manifest{}, corerr.Newf(corerr.BadInput, "plugin %q entry %q resolves outside plugin directory", m.ID, m.Entry)
	}

	m.Dir = absDir
	m.Entry = resolved
	return m, nil
}
