package shell

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"devpin/pkg/catalog"
	"devpin/pkg/compose"
	"devpin/pkg/render"
)

const buildPath = "toolchains/rust/1.57.0/x86_64-linux"

// fakeSnapshot lays a toolchain build tree out the way an unpacked
// overlay snapshot carries it.
func fakeSnapshot(t *testing.T, withBin, withSrc bool) string {
	t.Helper()
	snapDir := t.TempDir()
	install := filepath.Join(snapDir, filepath.FromSlash(buildPath))
	if err := os.MkdirAll(install, 0o755); err != nil {
		t.Fatalf("mkdir install: %v", err)
	}
	if withBin {
		if err := os.MkdirAll(filepath.Join(install, "bin"), 0o755); err != nil {
			t.Fatalf("mkdir bin: %v", err)
		}
		if err := os.WriteFile(filepath.Join(install, "bin", "cargo"), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("write cargo: %v", err)
		}
	}
	if withSrc {
		if err := os.MkdirAll(filepath.Join(install, "extensions", "src"), 0o755); err != nil {
			t.Fatalf("mkdir extension: %v", err)
		}
	}
	return snapDir
}

func fakeSpec(snapDir string) *compose.ShellSpec {
	return &compose.ShellSpec{
		Platform: "x86_64-linux",
		Toolchain: catalog.Toolchain{
			Name:        "rust",
			Version:     "1.57.0",
			Platform:    "x86_64-linux",
			Components:  []string{"rustc", "cargo"},
			Available:   []string{"src"},
			Path:        buildPath,
			SnapshotDir: snapDir,
			Extensions:  []string{"src"},
		},
		Collection: "pkgset-25.05",
		LockDigest: "0123456789abcdef0123456789abcdef",
	}
}

func TestMaterialize(t *testing.T) {
	snapDir := fakeSnapshot(t, true, true)
	env, err := Materialize(fakeSpec(snapDir))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	install := filepath.Join(snapDir, filepath.FromSlash(buildPath))
	if env.InstallDir != install {
		t.Fatalf("InstallDir = %q, want %q", env.InstallDir, install)
	}
	if len(env.BinDirs) != 1 || env.BinDirs[0] != filepath.Join(install, "bin") {
		t.Fatalf("BinDirs = %v", env.BinDirs)
	}

	want := map[string]string{
		"DEVPIN_PLATFORM":    "x86_64-linux",
		"DEVPIN_TOOLCHAIN":   "rust-1.57.0",
		"DEVPIN_COLLECTION":  "pkgset-25.05",
		"DEVPIN_LOCK_DIGEST": "0123456789abcdef0123456789abcdef",
		"RUST_SRC_PATH":      filepath.Join(install, "extensions", "src"),
	}
	got := make(map[string]string, len(env.Vars))
	for _, v := range env.Vars {
		got[v.Name] = v.Value
	}
	for name, value := range want {
		if got[name] != value {
			t.Fatalf("var %s = %q, want %q", name, got[name], value)
		}
	}
}

func TestMaterializeMissingBin(t *testing.T) {
	snapDir := fakeSnapshot(t, false, true)
	_, err := Materialize(fakeSpec(snapDir))
	if err == nil || !strings.Contains(err.Error(), "no bin directory") {
		t.Fatalf("Materialize() error = %v, want missing bin", err)
	}
}

func TestMaterializeMissingExtension(t *testing.T) {
	snapDir := fakeSnapshot(t, true, false)
	_, err := Materialize(fakeSpec(snapDir))
	if err == nil || !strings.Contains(err.Error(), `extension "src" missing`) {
		t.Fatalf("Materialize() error = %v, want missing extension", err)
	}
}

func TestEnvironMergesProcessEnvironment(t *testing.T) {
	env := &Env{
		BinDirs: []string{"/store/trees/sha256-aa/rust/bin"},
		Vars: []Var{
			{Name: "DEVPIN_PLATFORM", Value: "x86_64-linux"},
			{Name: "DEVPIN_TOOLCHAIN", Value: "rust-1.57.0"},
		},
	}

	base := []string{
		"HOME=/home/dev",
		"PATH=/usr/local/bin:/usr/bin",
		"DEVPIN_PLATFORM=stale",
	}
	got := env.Environ(base)

	want := []string{
		"HOME=/home/dev",
		"PATH=/store/trees/sha256-aa/rust/bin:/usr/local/bin:/usr/bin",
		"DEVPIN_PLATFORM=x86_64-linux",
		"DEVPIN_TOOLCHAIN=rust-1.57.0",
	}
	if len(got) != len(want) {
		t.Fatalf("Environ() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Environ()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEnvironWithoutBasePath(t *testing.T) {
	env := &Env{BinDirs: []string{"/tc/bin"}}
	got := env.Environ([]string{"HOME=/home/dev"})
	found := false
	for _, kv := range got {
		if kv == "PATH=/tc/bin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Environ() = %v, want synthesized PATH", got)
	}
}

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "rust", want: "RUST"},
		{name: "dashed", in: "zig-dev", want: "ZIG_DEV"},
		{name: "symbols", in: "g++", want: "G__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := envVarName(tt.in); got != tt.want {
				t.Fatalf("envVarName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScriptRendersActivation(t *testing.T) {
	snapDir := fakeSnapshot(t, true, true)
	env, err := Materialize(fakeSpec(snapDir))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	engine, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}
	script, err := env.Script(engine)
	if err != nil {
		t.Fatalf("Script() error = %v", err)
	}

	if !strings.Contains(script, "export PATH") {
		t.Fatalf("script missing PATH export:\n%s", script)
	}
	if !strings.Contains(script, `export DEVPIN_TOOLCHAIN="rust-1.57.0"`) {
		t.Fatalf("script missing toolchain export:\n%s", script)
	}
	if !strings.Contains(script, "RUST_SRC_PATH") {
		t.Fatalf("script missing source extension export:\n%s", script)
	}
}
