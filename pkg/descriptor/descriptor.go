// Package descriptor loads and validates devpin.yaml, the declarative
// description of a pinned development environment: a registry of named
// input coordinates plus the shell composition bound to them.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the descriptor file name looked up in a project root.
const DefaultFile = "devpin.yaml"

// CurrentVersion is the only descriptor schema version understood.
const CurrentVersion = 1

// Kind discriminates coordinate variants.
type Kind string

const (
	// KindChannel locates a versioned release channel index.
	KindChannel Kind = "channel"
	// KindGit locates a git repository, optionally at a ref.
	KindGit Kind = "git"
)

// Coordinate locates one external input. Exactly one of Channel or Git is
// set. Data marks an input that is fetched and pinned but never evaluated.
type Coordinate struct {
	Channel string `yaml:"channel,omitempty"`
	Git     string `yaml:"git,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
	Data    bool   `yaml:"data,omitempty"`
}

// Kind reports the coordinate variant.
func (c Coordinate) Kind() (Kind, error) {
	switch {
	case c.Channel != "" && c.Git != "":
		return "", errors.New("coordinate sets both channel and git")
	case c.Channel != "":
		if c.Ref != "" {
			return "", errors.New("channel coordinate cannot carry a ref")
		}
		return KindChannel, nil
	case c.Git != "":
		return KindGit, nil
	default:
		return "", errors.New("coordinate sets neither channel nor git")
	}
}

// Locator returns the coordinate's identity as recorded in lock files.
// A git ref is part of the identity: changing the ref must invalidate
// any pin taken under the old one.
func (c Coordinate) Locator() string {
	if c.Channel != "" {
		return c.Channel
	}
	if c.Ref != "" {
		return c.Git + "#" + c.Ref
	}
	return c.Git
}

// Toolchain pins one compiler toolchain by name and authored version.
type Toolchain struct {
	Name       string   `yaml:"name"`
	Version    string   `yaml:"version"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// Shell binds composition roles to declared inputs.
type Shell struct {
	// Base names the input providing the base package collection.
	Base string `yaml:"base"`
	// Overlays name inputs whose channel manifests extend the catalog.
	Overlays []string `yaml:"overlays,omitempty"`
	// Platforms optionally names the input publishing the default
	// platform list. The built-in list applies when unset.
	Platforms string `yaml:"platforms,omitempty"`
	Toolchain Toolchain `yaml:"toolchain"`
}

// Descriptor is a parsed devpin.yaml.
type Descriptor struct {
	Version int                   `yaml:"version"`
	Inputs  map[string]Coordinate `yaml:"inputs"`
	Shell   Shell                 `yaml:"shell"`
}

// Load reads and validates the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates descriptor bytes.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks structural rules: schema version, coordinate shapes, role
// bindings referring to declared non-data inputs, and a complete toolchain
// selection with an authored version string.
func (d *Descriptor) Validate() error {
	if d.Version != CurrentVersion {
		return fmt.Errorf("unsupported descriptor version %d", d.Version)
	}
	if len(d.Inputs) == 0 {
		return errors.New("descriptor declares no inputs")
	}
	for name, c := range d.Inputs {
		if name == "" {
			return errors.New("input with empty name")
		}
		if _, err := c.Kind(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	if d.Shell.Base == "" {
		return errors.New("shell.base is required")
	}
	if err := d.checkRole("shell.base", d.Shell.Base); err != nil {
		return err
	}
	for _, name := range d.Shell.Overlays {
		if err := d.checkRole("shell.overlays", name); err != nil {
			return err
		}
	}
	if d.Shell.Platforms != "" {
		if err := d.checkRole("shell.platforms", d.Shell.Platforms); err != nil {
			return err
		}
	}
	tc := d.Shell.Toolchain
	if tc.Name == "" {
		return errors.New("shell.toolchain.name is required")
	}
	if tc.Version == "" {
		return errors.New("shell.toolchain.version is required")
	}
	for _, ext := range tc.Extensions {
		if ext == "" {
			return errors.New("shell.toolchain.extensions contains an empty name")
		}
	}
	return nil
}

// checkRole verifies that a composition role names a declared input that is
// not marked data-only.
func (d *Descriptor) checkRole(role, name string) error {
	c, ok := d.Inputs[name]
	if !ok {
		return fmt.Errorf("%s names undeclared input %q", role, name)
	}
	if c.Data {
		return fmt.Errorf("%s names data-only input %q", role, name)
	}
	return nil
}

// InputNames returns the declared input names in sorted order.
func (d *Descriptor) InputNames() []string {
	names := make([]string, 0, len(d.Inputs))
	for name := range d.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
