package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"devpin/pkg/catalog"
	"devpin/pkg/descriptor"
	"devpin/pkg/fetch"
	"devpin/pkg/fetch/fetchtest"
	"devpin/pkg/lockfile"
	"devpin/pkg/platform"
	"devpin/pkg/resolve"
)

const sessionBaseYAML = `collection: pkgset-25.05
packages:
  - name: hello
    version: "2.12"
`

const sessionOverlayYAML = `toolchains:
  rust:
    "1.57.0":
      components: [rustc, cargo, rust-std]
      extensions: [src]
      platforms:
        x86_64-linux: {path: toolchains/rust/1.57.0/x86_64-linux}
        aarch64-linux: {path: toolchains/rust/1.57.0/aarch64-linux}
        x86_64-darwin: {path: toolchains/rust/1.57.0/x86_64-darwin}
        aarch64-darwin: {path: toolchains/rust/1.57.0/aarch64-darwin}
`

const sessionGappedOverlayYAML = `toolchains:
  rust:
    "1.57.0":
      components: [rustc, cargo, rust-std]
      extensions: [src]
      platforms:
        x86_64-linux: {path: toolchains/rust/1.57.0/x86_64-linux}
        aarch64-linux: {path: toolchains/rust/1.57.0/aarch64-linux}
        x86_64-darwin: {path: toolchains/rust/1.57.0/x86_64-darwin}
`

const sessionPlatformsYAML = `default:
  - x86_64-linux
  - aarch64-linux
  - x86_64-darwin
  - aarch64-darwin
`

func overlayFiles(overlayYAML string) map[string]string {
	return map[string]string{
		catalog.OverlayFile: overlayYAML,
		"toolchains/rust/1.57.0/x86_64-linux/bin/cargo":             "#!/bin/sh\necho cargo 1.57.0\n",
		"toolchains/rust/1.57.0/x86_64-linux/bin/rustc":             "#!/bin/sh\necho rustc 1.57.0\n",
		"toolchains/rust/1.57.0/x86_64-linux/extensions/src/lib.rs": "// sysroot sources\n",
	}
}

// publishInputs stands up the fixture host with the reference inputs.
func publishInputs(t *testing.T, overlayYAML string) *fetchtest.Server {
	t.Helper()
	srv := fetchtest.NewServer()
	t.Cleanup(srv.Close)

	srv.AddChannelRelease("pkgset-25.05", "pkgset-25.05.100", map[string]string{catalog.BaseFile: sessionBaseYAML})
	srv.AddRepo("toolchain-overlay", "main", overlayFiles(overlayYAML))
	srv.AddRepo("platform-sets", "main", map[string]string{platform.ListFile: sessionPlatformsYAML})
	srv.AddRepo("compat-shim", "main", map[string]string{"default.nix": "{}\n"})
	return srv
}

func writeDescriptor(t *testing.T, dir string, srv *fetchtest.Server, version, overlayRef string) {
	t.Helper()
	doc := fmt.Sprintf(`version: 1
inputs:
  pkgset:
    channel: %s
  toolchain-overlay:
    git: %s
    ref: %s
  platform-sets:
    git: %s
  compat-shim:
    git: %s
    data: true
shell:
  base: pkgset
  overlays: [toolchain-overlay]
  platforms: platform-sets
  toolchain:
    name: rust
    version: %q
    extensions: [src]
`, srv.ChannelURL("pkgset-25.05"), srv.RepoURL("toolchain-overlay"), overlayRef,
		srv.RepoURL("platform-sets"), srv.RepoURL("compat-shim"), version)
	if err := os.WriteFile(filepath.Join(dir, descriptor.DefaultFile), []byte(doc), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
}

func newConfig(t *testing.T, dir string) Config {
	t.Helper()
	store, err := fetch.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return Config{Dir: dir, Platform: "x86_64-linux", Store: store}
}

func TestPrepareBuildsSession(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")

	res, err := Prepare(context.Background(), newConfig(t, dir))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if res.Env.Toolchain.Name != "rust" || res.Env.Toolchain.Version != "1.57.0" {
		t.Fatalf("toolchain = %s-%s, want rust-1.57.0", res.Env.Toolchain.Name, res.Env.Toolchain.Version)
	}
	if !res.Env.Toolchain.HasExtension("src") {
		t.Fatal("source extension not applied")
	}
	if len(res.Env.BinDirs) != 1 {
		t.Fatalf("BinDirs = %v, want one entry", res.Env.BinDirs)
	}
	if info, err := os.Stat(res.Env.BinDirs[0]); err != nil || !info.IsDir() {
		t.Fatalf("bin dir %q not materialized: %v", res.Env.BinDirs[0], err)
	}

	lock, err := lockfile.Read(filepath.Join(dir, lockfile.DefaultFile))
	if err != nil {
		t.Fatalf("lock not written: %v", err)
	}
	if lock.Digest != res.Set.Digest {
		t.Fatalf("lock digest = %s, want %s", lock.Digest, res.Set.Digest)
	}
	if res.Env.LockDigest != lock.Digest {
		t.Fatalf("env lock digest = %s, want %s", res.Env.LockDigest, lock.Digest)
	}
}

func TestPrepareSecondRunStaysOffline(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")
	cfg := newConfig(t, dir)

	first, err := Prepare(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	hits := srv.ArchiveHits()

	// The channel moving on does not touch a locked project.
	srv.AddChannelRelease("pkgset-25.05", "pkgset-25.05.200", map[string]string{catalog.BaseFile: sessionBaseYAML})

	second, err := Prepare(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if second.Lock.Digest != first.Lock.Digest {
		t.Fatalf("digest drifted: %s -> %s", first.Lock.Digest, second.Lock.Digest)
	}
	if got := srv.ArchiveHits(); got != hits {
		t.Fatalf("archive hits = %d, want %d (locked run must stay offline)", got, hits)
	}
}

func TestPrepareUnknownVersionFails(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "9.9.9", "main")

	_, err := Prepare(context.Background(), newConfig(t, dir))
	var notFound *catalog.VersionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Prepare() error = %v, want VersionNotFoundError", err)
	}
	if notFound.Version != "9.9.9" || notFound.Platform != "x86_64-linux" {
		t.Fatalf("error names %s on %s, want 9.9.9 on x86_64-linux", notFound.Version, notFound.Platform)
	}
}

func TestPrepareUnresolvedInputProducesNothing(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")

	// Point the base collection at a dead host while the rest stays live.
	doc, err := os.ReadFile(filepath.Join(dir, descriptor.DefaultFile))
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	broken := strings.Replace(string(doc), srv.ChannelURL("pkgset-25.05"), "http://127.0.0.1:1/channels/pkgset-25.05", 1)
	if err := os.WriteFile(filepath.Join(dir, descriptor.DefaultFile), []byte(broken), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	_, err = Prepare(context.Background(), newConfig(t, dir))
	var unresolved *resolve.UnresolvedInputError
	if !errors.As(err, &unresolved) {
		t.Fatalf("Prepare() error = %v, want UnresolvedInputError", err)
	}
	if unresolved.Input != "pkgset" {
		t.Fatalf("unresolved input = %q, want pkgset", unresolved.Input)
	}
	if _, err := os.Stat(filepath.Join(dir, lockfile.DefaultFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock written despite failed resolve: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, StateDir)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("state dir created despite failed resolve: %v", err)
	}
}

func TestPrepareAllIsolatesPlatforms(t *testing.T) {
	srv := publishInputs(t, sessionGappedOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")

	res, err := PrepareAll(context.Background(), newConfig(t, dir))
	if err != nil {
		t.Fatalf("PrepareAll() error = %v", err)
	}

	if len(res.Platforms) != 4 {
		t.Fatalf("platforms = %v, want the published list of 4", res.Platforms)
	}
	if len(res.Composed.Specs) != 3 {
		t.Fatalf("specs = %d, want 3", len(res.Composed.Specs))
	}
	if len(res.Composed.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(res.Composed.Errors))
	}

	var notFound *catalog.VersionNotFoundError
	if !errors.As(res.Composed.Errors["aarch64-darwin"], &notFound) {
		t.Fatalf("aarch64-darwin error = %v, want VersionNotFoundError", res.Composed.Errors["aarch64-darwin"])
	}
}

func TestVerifyReportsDrift(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")
	cfg := newConfig(t, dir)

	if _, err := Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	report, err := Verify(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.InSync() || len(report.Changed) != 0 {
		t.Fatalf("fresh lock reported drifted: %+v", report)
	}

	// Retarget the overlay ref; verification must flag the input without
	// rewriting the lock.
	released := overlayFiles(sessionOverlayYAML)
	released["RELEASE"] = "1.57\n"
	srv.AddRepo("toolchain-overlay", "release", released)
	writeDescriptor(t, dir, srv, "1.57.0", "release")

	before, err := os.ReadFile(filepath.Join(dir, lockfile.DefaultFile))
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}

	report, err = Verify(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.InSync() {
		t.Fatal("ref retarget not reported as drift")
	}
	if len(report.Changed) != 1 || report.Changed[0] != "toolchain-overlay" {
		t.Fatalf("Changed = %v, want [toolchain-overlay]", report.Changed)
	}

	after, err := os.ReadFile(filepath.Join(dir, lockfile.DefaultFile))
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("Verify rewrote the lock file")
	}
}

func TestVerifyWithoutLock(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")

	if _, err := Verify(context.Background(), newConfig(t, dir)); err == nil {
		t.Fatal("Verify() without a lock expected error")
	}
}

func TestPrepareTamperedLockFails(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")
	cfg := newConfig(t, dir)

	if _, err := Prepare(context.Background(), cfg); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	path := filepath.Join(dir, lockfile.DefaultFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	edited := strings.Replace(string(data), "pkgset-25.05.100", "pkgset-25.05.999", 1)
	if edited == string(data) {
		t.Fatal("fixture lock missing expected revision")
	}
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	_, err = Prepare(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("Prepare() error = %v, want digest mismatch", err)
	}
}

func TestWriteScript(t *testing.T) {
	srv := publishInputs(t, sessionOverlayYAML)
	dir := t.TempDir()
	writeDescriptor(t, dir, srv, "1.57.0", "main")

	res, err := Prepare(context.Background(), newConfig(t, dir))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	path, err := WriteScript(res, dir)
	if err != nil {
		t.Fatalf("WriteScript() error = %v", err)
	}
	if path != filepath.Join(dir, StateDir, ScriptName) {
		t.Fatalf("script path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	script := string(data)
	if !strings.Contains(script, "export PATH") || !strings.Contains(script, "RUST_SRC_PATH") {
		t.Fatalf("script incomplete:\n%s", script)
	}
}
