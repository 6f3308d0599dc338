package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"devpin/pkg/platform"
)

const baseYAML = `collection: pkgset-25.05
packages:
  - name: hello
    version: "2.12"
  - name: linux-headers
    version: "6.6"
    platforms: [x86_64-linux, aarch64-linux]
`

const overlayYAML = `toolchains:
  rust:
    "1.57.0":
      components: [rustc, cargo, rust-std]
      extensions: [src, analysis]
      platforms:
        x86_64-linux:
          path: toolchains/rust/1.57.0/x86_64-linux
        aarch64-darwin:
          path: toolchains/rust/1.57.0/aarch64-darwin
    "1.56.1":
      components: [rustc, cargo]
      extensions: [src]
      platforms:
        x86_64-linux:
          path: toolchains/rust/1.56.1/x86_64-linux
`

func writeSnapshot(t *testing.T, file, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatalf("write snapshot file: %v", err)
	}
	return dir
}

func loadFixture(t *testing.T, p string) *Catalog {
	t.Helper()
	base := writeSnapshot(t, BaseFile, baseYAML)
	overlay := writeSnapshot(t, OverlayFile, overlayYAML)
	c, err := Load(base, platform.ID(p), overlay)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c
}

func TestLoadFiltersBaseByPlatform(t *testing.T) {
	linux := loadFixture(t, "x86_64-linux")
	if _, ok := linux.Package("hello"); !ok {
		t.Fatal("hello should build everywhere")
	}
	if _, ok := linux.Package("linux-headers"); !ok {
		t.Fatal("linux-headers should build on x86_64-linux")
	}

	darwin := loadFixture(t, "aarch64-darwin")
	if _, ok := darwin.Package("linux-headers"); ok {
		t.Fatal("linux-headers should not build on darwin")
	}
}

func TestToolchainSelection(t *testing.T) {
	c := loadFixture(t, "x86_64-linux")

	tc, err := c.Toolchain("rust", "1.57.0")
	if err != nil {
		t.Fatalf("Toolchain() error = %v", err)
	}
	if tc.Path != "toolchains/rust/1.57.0/x86_64-linux" {
		t.Fatalf("Path = %q", tc.Path)
	}
	if !reflect.DeepEqual(tc.Components, []string{"rustc", "cargo", "rust-std"}) {
		t.Fatalf("Components = %v", tc.Components)
	}
	if got := c.Versions("rust"); !reflect.DeepEqual(got, []string{"1.56.1", "1.57.0"}) {
		t.Fatalf("Versions() = %v", got)
	}
}

func TestToolchainVersionNotFound(t *testing.T) {
	tests := []struct {
		name      string
		platform  string
		toolchain string
		version   string
	}{
		{name: "unknown toolchain", platform: "x86_64-linux", toolchain: "zig", version: "0.11.0"},
		{name: "unpublished version", platform: "x86_64-linux", toolchain: "rust", version: "9.9.9"},
		{name: "platform gap", platform: "aarch64-linux", toolchain: "rust", version: "1.57.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loadFixture(t, tt.platform)
			_, err := c.Toolchain(tt.toolchain, tt.version)
			var notFound *VersionNotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("Toolchain() error = %T (%v), want *VersionNotFoundError", err, err)
			}
			if notFound.Version != tt.version || string(notFound.Platform) != tt.platform {
				t.Fatalf("VersionNotFoundError = %+v", notFound)
			}
			for _, part := range []string{tt.toolchain, tt.version, tt.platform} {
				if !strings.Contains(err.Error(), part) {
					t.Fatalf("error %q does not mention %q", err, part)
				}
			}
		})
	}
}

func TestLaterOverlayWins(t *testing.T) {
	base := writeSnapshot(t, BaseFile, baseYAML)
	first := writeSnapshot(t, OverlayFile, overlayYAML)
	second := writeSnapshot(t, OverlayFile, `toolchains:
  rust:
    "1.56.1":
      components: [rustc]
      extensions: [src]
      platforms:
        x86_64-linux:
          path: patched/rust/1.56.1
`)

	c, err := Load(base, "x86_64-linux", first, second)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tc, err := c.Toolchain("rust", "1.56.1")
	if err != nil {
		t.Fatalf("Toolchain() error = %v", err)
	}
	if tc.Path != "patched/rust/1.56.1" {
		t.Fatalf("Path = %q, want the later overlay's build", tc.Path)
	}
	if tc.SnapshotDir != second {
		t.Fatalf("SnapshotDir = %q, want %q", tc.SnapshotDir, second)
	}
	// Untouched versions keep the earlier overlay's build.
	older, err := c.Toolchain("rust", "1.57.0")
	if err != nil {
		t.Fatalf("Toolchain() error = %v", err)
	}
	if older.SnapshotDir != first {
		t.Fatalf("SnapshotDir = %q, want %q", older.SnapshotDir, first)
	}
}

func TestWithExtensions(t *testing.T) {
	c := loadFixture(t, "x86_64-linux")
	tc, err := c.Toolchain("rust", "1.57.0")
	if err != nil {
		t.Fatalf("Toolchain() error = %v", err)
	}

	augmented, err := tc.WithExtensions("src", "analysis", "src")
	if err != nil {
		t.Fatalf("WithExtensions() error = %v", err)
	}
	if !reflect.DeepEqual(augmented.Extensions, []string{"src", "analysis"}) {
		t.Fatalf("Extensions = %v", augmented.Extensions)
	}
	if !augmented.HasExtension("src") {
		t.Fatal("HasExtension(src) = false")
	}
	if tc.HasExtension("src") {
		t.Fatal("WithExtensions mutated the receiver")
	}

	if _, err := tc.WithExtensions("llvm-tools"); err == nil {
		t.Fatal("WithExtensions() accepted an unknown extension")
	}
}

func TestLoadMissingManifests(t *testing.T) {
	base := writeSnapshot(t, BaseFile, baseYAML)
	empty := t.TempDir()

	if _, err := Load(empty, "x86_64-linux"); err == nil {
		t.Fatal("Load() succeeded without a base index")
	}
	if _, err := Load(base, "x86_64-linux", empty); err == nil {
		t.Fatal("Load() succeeded without an overlay manifest")
	}
}
