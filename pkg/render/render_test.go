package render

import (
	"strings"
	"testing"
)

func TestNewParsesEmbeddedTemplates(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e == nil {
		t.Fatal("New() returned nil engine")
	}
}

func TestRenderActivateScript(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	data := struct {
		BinDirs []string
		Vars    []struct{ Name, Value string }
	}{
		BinDirs: []string{"/cache/trees/sha256-ab/bin", "/cache/trees/sha256-cd/bin"},
		Vars: []struct{ Name, Value string }{
			{Name: "DEVPIN_PLATFORM", Value: "x86_64-linux"},
			{Name: "RUST_SRC_PATH", Value: "/cache/trees/sha256-ab/extensions/src"},
		},
	}

	out, err := e.Render(ActivateScript, data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		`PATH="/cache/trees/sha256-ab/bin:/cache/trees/sha256-cd/bin:$PATH"`,
		"export PATH",
		`export DEVPIN_PLATFORM="x86_64-linux"`,
		`export RUST_SRC_PATH="/cache/trees/sha256-ab/extensions/src"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("Render() output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderActivateScriptNoBinDirs(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := e.Render(ActivateScript, struct {
		BinDirs []string
		Vars    []struct{ Name, Value string }
	}{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(out, "export PATH") {
		t.Fatalf("Render() should omit PATH block without bin dirs:\n%s", out)
	}
}

func TestRenderBanner(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := e.Render(Banner, struct {
		Toolchain  string
		Version    string
		Platform   string
		LockDigest string
	}{"rust", "1.57.0", "x86_64-linux", "deadbeef"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "rust 1.57.0 on x86_64-linux") {
		t.Fatalf("Render() banner = %q", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := e.Render("nope.tmpl", nil); err == nil {
		t.Fatal("Render() with unknown template expected error")
	}
}
