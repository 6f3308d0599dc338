// Package catalog models the package index an environment composes from:
// a base collection parameterized by platform, extended by overlay channel
// manifests that publish versioned toolchain builds.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"devpin/pkg/platform"
)

// VersionNotFoundError reports a toolchain selection that the extended
// catalog cannot satisfy for one platform. It is fatal for that platform;
// composition never falls back to another version.
type VersionNotFoundError struct {
	Toolchain string
	Version   string
	Platform  platform.ID
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("toolchain %s version %s is not available for %s", e.Toolchain, e.Version, e.Platform)
}

// BaseFile is the index document at a base collection snapshot root.
const BaseFile = "catalog.yaml"

// OverlayFile is the channel manifest at an overlay snapshot root.
const OverlayFile = "channels.yaml"

// Package is one entry of the base collection. An empty platform list
// means the package builds everywhere.
type Package struct {
	Name      string   `yaml:"name"`
	Version   string   `yaml:"version"`
	Platforms []string `yaml:"platforms,omitempty"`
}

type baseDoc struct {
	Collection string    `yaml:"collection"`
	Packages   []Package `yaml:"packages"`
}

type platformBuild struct {
	Path string `yaml:"path"`
}

type versionEntry struct {
	Components []string                 `yaml:"components,omitempty"`
	Extensions []string                 `yaml:"extensions,omitempty"`
	Platforms  map[string]platformBuild `yaml:"platforms"`
}

type overlayDoc struct {
	Toolchains map[string]map[string]versionEntry `yaml:"toolchains"`
}

type toolchainSource struct {
	entry versionEntry
	dir   string
}

// Catalog is the package index visible to one platform: the base
// collection's packages that build there, plus every overlay's toolchain
// channels. Later overlays win on toolchain/version collisions.
type Catalog struct {
	Collection string
	Platform   platform.ID

	packages   map[string]Package
	toolchains map[string]map[string]toolchainSource
}

// Load builds the catalog for p from a base collection snapshot and
// overlay snapshots applied in order.
func Load(baseDir string, p platform.ID, overlayDirs ...string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, BaseFile))
	if err != nil {
		return nil, fmt.Errorf("read base collection index: %w", err)
	}
	var base baseDoc
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode base collection index: %w", err)
	}

	c := &Catalog{
		Collection: base.Collection,
		Platform:   p,
		packages:   make(map[string]Package, len(base.Packages)),
		toolchains: make(map[string]map[string]toolchainSource),
	}
	for _, pkg := range base.Packages {
		if pkg.Name == "" {
			return nil, fmt.Errorf("base collection %s lists a package without a name", base.Collection)
		}
		if supportsPlatform(pkg.Platforms, p) {
			c.packages[pkg.Name] = pkg
		}
	}

	for _, dir := range overlayDirs {
		if err := c.applyOverlay(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func supportsPlatform(supported []string, p platform.ID) bool {
	if len(supported) == 0 {
		return true
	}
	for _, s := range supported {
		if s == string(p) {
			return true
		}
	}
	return false
}

func (c *Catalog) applyOverlay(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, OverlayFile))
	if err != nil {
		return fmt.Errorf("read overlay manifest: %w", err)
	}
	var doc overlayDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode overlay manifest: %w", err)
	}

	for name, versions := range doc.Toolchains {
		channel := c.toolchains[name]
		if channel == nil {
			channel = make(map[string]toolchainSource, len(versions))
			c.toolchains[name] = channel
		}
		for version, entry := range versions {
			channel[version] = toolchainSource{entry: entry, dir: dir}
		}
	}
	return nil
}

// Package returns a base-collection package visible on this platform.
func (c *Catalog) Package(name string) (Package, bool) {
	pkg, ok := c.packages[name]
	return pkg, ok
}

// Versions lists the channel versions published for a toolchain, sorted.
func (c *Catalog) Versions(name string) []string {
	channel := c.toolchains[name]
	versions := make([]string, 0, len(channel))
	for v := range channel {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Toolchain selects the authored version of a named toolchain for this
// catalog's platform. An unknown toolchain, an unpublished version, or a
// version without a build for the platform is a VersionNotFoundError.
func (c *Catalog) Toolchain(name, version string) (*Toolchain, error) {
	notFound := &VersionNotFoundError{Toolchain: name, Version: version, Platform: c.Platform}

	channel, ok := c.toolchains[name]
	if !ok {
		return nil, notFound
	}
	src, ok := channel[version]
	if !ok {
		return nil, notFound
	}
	build, ok := src.entry.Platforms[string(c.Platform)]
	if !ok {
		return nil, notFound
	}

	return &Toolchain{
		Name:        name,
		Version:     version,
		Platform:    c.Platform,
		Components:  append([]string(nil), src.entry.Components...),
		Available:   append([]string(nil), src.entry.Extensions...),
		Path:        build.Path,
		SnapshotDir: src.dir,
	}, nil
}

// Toolchain is one selected toolchain build for one platform.
type Toolchain struct {
	Name       string
	Version    string
	Platform   platform.ID
	Components []string
	// Available names the extensions this build can be augmented with.
	Available []string
	// Path locates the build relative to its overlay snapshot root.
	Path        string
	SnapshotDir string
	// Extensions holds the augmentations applied by WithExtensions.
	Extensions []string
}

// WithExtensions returns a copy augmented with exts, deduplicated in
// request order. Unknown extension names fail the composition.
func (t *Toolchain) WithExtensions(exts ...string) (*Toolchain, error) {
	available := make(map[string]bool, len(t.Available))
	for _, name := range t.Available {
		available[name] = true
	}

	clone := *t
	clone.Extensions = make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, name := range exts {
		if seen[name] {
			continue
		}
		if !available[name] {
			return nil, fmt.Errorf("toolchain %s %s has no extension %q for %s", t.Name, t.Version, name, t.Platform)
		}
		seen[name] = true
		clone.Extensions = append(clone.Extensions, name)
	}
	return &clone, nil
}

// HasExtension reports whether ext was applied to this selection.
func (t *Toolchain) HasExtension(ext string) bool {
	for _, name := range t.Extensions {
		if name == ext {
			return true
		}
	}
	return false
}
