// Package platform names the targets an environment can be composed for.
package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID identifies a target platform as "<arch>-<os>", for example
// "x86_64-linux" or "aarch64-darwin".
type ID string

// EnvOverride names the environment variable that forces the host platform.
const EnvOverride = "DEVPIN_PLATFORM"

// ListFile is the platform list document a platform provider input
// publishes at its snapshot root.
const ListFile = "platforms.yaml"

func (id ID) String() string { return string(id) }

// Arch returns the architecture half of the identifier.
func (id ID) Arch() string {
	arch, _, _ := strings.Cut(string(id), "-")
	return arch
}

// OS returns the operating-system half of the identifier.
func (id ID) OS() string {
	_, osName, _ := strings.Cut(string(id), "-")
	return osName
}

// Parse validates s against the <arch>-<os> grammar.
func Parse(s string) (ID, error) {
	arch, osName, ok := strings.Cut(s, "-")
	if !ok || arch == "" || osName == "" {
		return "", fmt.Errorf("invalid platform %q: want <arch>-<os>", s)
	}
	return ID(s), nil
}

// goarch maps Go architecture names onto the identifier grammar.
var goarch = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"riscv64": "riscv64",
}

// Host reports the platform the current process runs on. DEVPIN_PLATFORM
// overrides detection when it parses.
func Host() ID {
	if v := os.Getenv(EnvOverride); v != "" {
		if id, err := Parse(v); err == nil {
			return id
		}
	}
	arch := runtime.GOARCH
	if mapped, ok := goarch[arch]; ok {
		arch = mapped
	}
	return ID(arch + "-" + runtime.GOOS)
}

// listDoc is the on-disk shape of a platform list published by a platform
// provider input (platforms.yaml at the snapshot root).
type listDoc struct {
	Default []string `yaml:"default"`
}

// ParseList decodes a platform list document and validates every entry.
// Duplicates collapse, order is preserved.
func ParseList(data []byte) ([]ID, error) {
	var doc listDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode platform list: %w", err)
	}
	if len(doc.Default) == 0 {
		return nil, errors.New("platform list declares no default platforms")
	}
	out := make([]ID, 0, len(doc.Default))
	seen := make(map[ID]bool, len(doc.Default))
	for _, s := range doc.Default {
		id, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
