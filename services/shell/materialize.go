// Package shell turns composed environment specs into something a
// developer can sit in: it materializes snapshot trees into PATH entries
// and variables, renders activation scripts, and enters the shell.
package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devpin/pkg/catalog"
	"devpin/pkg/compose"
	"devpin/pkg/platform"
	"devpin/pkg/render"
)

// Var is one exported environment variable. Order is meaningful: the
// activation script exports them in sequence.
type Var struct {
	Name  string
	Value string
}

// Env is the on-disk materialization of a composed spec: the directories
// to put on PATH and the variables to export.
type Env struct {
	Platform   platform.ID
	Toolchain  catalog.Toolchain
	Collection string
	LockDigest string
	InstallDir string
	BinDirs    []string
	Vars       []Var
}

// Materialize maps a composed spec onto the local snapshot store. It
// fails when the selected build or a requested extension is missing from
// the unpacked snapshot, which means the overlay manifest advertises
// builds the snapshot does not carry.
func Materialize(spec *compose.ShellSpec) (*Env, error) {
	tc := spec.Toolchain

	installDir := filepath.Join(tc.SnapshotDir, filepath.FromSlash(tc.Path))
	info, err := os.Stat(installDir)
	if err != nil {
		return nil, fmt.Errorf("toolchain %s %s build missing from snapshot: %w", tc.Name, tc.Version, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("toolchain %s %s build path %s is not a directory", tc.Name, tc.Version, installDir)
	}

	binDir := filepath.Join(installDir, "bin")
	if info, err := os.Stat(binDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("toolchain %s %s build has no bin directory at %s", tc.Name, tc.Version, binDir)
	}

	env := &Env{
		Platform:   spec.Platform,
		Toolchain:  tc,
		Collection: spec.Collection,
		LockDigest: spec.LockDigest,
		InstallDir: installDir,
		BinDirs:    []string{binDir},
	}

	env.Vars = append(env.Vars,
		Var{Name: platform.EnvOverride, Value: spec.Platform.String()},
		Var{Name: "DEVPIN_TOOLCHAIN", Value: tc.Name + "-" + tc.Version},
		Var{Name: "DEVPIN_COLLECTION", Value: spec.Collection},
		Var{Name: "DEVPIN_LOCK_DIGEST", Value: spec.LockDigest},
	)

	for _, ext := range tc.Extensions {
		dir := filepath.Join(installDir, "extensions", ext)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("toolchain %s %s extension %q missing from snapshot at %s", tc.Name, tc.Version, ext, dir)
		}
		if ext == compose.SourceExtension {
			env.Vars = append(env.Vars, Var{Name: envVarName(tc.Name) + "_SRC_PATH", Value: dir})
		}
	}

	return env, nil
}

// Script renders the activation script for this environment.
func (e *Env) Script(engine *render.Engine) (string, error) {
	return engine.Render(render.ActivateScript, struct {
		BinDirs []string
		Vars    []Var
	}{BinDirs: e.BinDirs, Vars: e.Vars})
}

// Banner renders the one-line entry banner.
func (e *Env) Banner(engine *render.Engine) (string, error) {
	return engine.Render(render.Banner, struct {
		Toolchain  string
		Version    string
		Platform   string
		LockDigest string
	}{
		Toolchain:  e.Toolchain.Name,
		Version:    e.Toolchain.Version,
		Platform:   e.Platform.String(),
		LockDigest: e.LockDigest,
	})
}

// Environ merges the environment into a process environment. PATH is
// prepended with the bin directories; other variables replace existing
// entries of the same name or are appended.
func (e *Env) Environ(base []string) []string {
	overrides := make(map[string]string, len(e.Vars))
	for _, v := range e.Vars {
		overrides[v.Name] = v.Value
	}

	prefix := strings.Join(e.BinDirs, string(os.PathListSeparator))

	out := make([]string, 0, len(base)+len(e.Vars)+1)
	sawPath := false
	for _, kv := range base {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		if name == "PATH" {
			sawPath = true
			if prefix != "" {
				value = prefix + string(os.PathListSeparator) + value
			}
			out = append(out, name+"="+value)
			continue
		}
		if v, ok := overrides[name]; ok {
			out = append(out, name+"="+v)
			delete(overrides, name)
			continue
		}
		out = append(out, kv)
	}

	if !sawPath && prefix != "" {
		out = append(out, "PATH="+prefix)
	}
	for _, v := range e.Vars {
		if _, ok := overrides[v.Name]; ok {
			out = append(out, v.Name+"="+v.Value)
		}
	}
	return out
}

// envVarName maps a toolchain name onto an environment variable stem:
// uppercased, with anything outside [A-Z0-9] collapsed to underscores.
func envVarName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
