package tool

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// MemRegistry is an in-process Registry backed by a map, suitable for a
// single runtime instance; a plugin-contributed registry composes
// multiple MemRegistry-like sources behind the same interface.
type MemRegistry struct {
	mu        sync.RWMutex
	manifests map[string][]Manifest // name -> versions, append order
	internals map[string]Internal
}

// NewMemRegistry constructs an empty MemRegistry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		manifests: make(map[string][]Manifest),
		internals: make(map[string]Internal),
	}
}

// Register adds a manifest version for a tool, and its internal
// implementation if Runner is RunnerInternal.
func (r *MemRegistry) Register(manifest Manifest, impl Internal) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	if _, err := semver.NewVersion(manifest.Version); err != nil {
		return fmt.Errorf("tool: manifest %q has invalid semver version %q: %w", manifest.Name, manifest.Version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[manifest.Name] = append(r.manifests[manifest.Name], manifest)
	if manifest.Runner == RunnerInternal && impl != nil {
		r.internals[manifest.Name] = impl
	}
	return nil
}

// Resolve returns the highest registered version of name satisfying
// versionRange (a Masterminds/semver constraint string, e.g. ">=1.0.0
// <2.0.0"); an empty versionRange matches the newest registered version.
func (r *MemRegistry) Resolve(name, versionRange string) (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.manifests[name]
	if !ok || len(versions) == 0 {
		return Manifest{}, fmt.Errorf("tool: no manifest registered for %q", name)
	}
	if versionRange == "" {
		return newestVersion(versions)
	}

	constraint, err := semver.NewConstraint(versionRange)
	if err != nil {
		return Manifest{}, fmt.Errorf("tool: invalid version_range %q for %q: %w", versionRange, name, err)
	}

	var best *Manifest
	var bestVer *semver.Version
	for i := range versions {
		v, err := semver.NewVersion(versions[i].Version)
		if err != nil || !constraint.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = &versions[i]
		}
	}
	if best == nil {
		return Manifest{}, fmt.Errorf("tool: no version of %q satisfies range %q", name, versionRange)
	}
	return *best, nil
}

// Internal returns the registered in-process implementation for name.
func (r *MemRegistry) Internal(name string) (Internal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.internals[name]
	return fn, ok
}

func newestVersion(versions []Manifest) (Manifest, error) {
	var best Manifest
	var bestVer *semver.Version
	for _, m := range versions {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = m
		}
	}
	if bestVer == nil {
		return Manifest{}, fmt.Errorf("tool: no valid semver version registered")
	}
	return best, nil
}
