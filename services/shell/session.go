package shell

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"devpin/pkg/compose"
	"devpin/pkg/descriptor"
	"devpin/pkg/fetch"
	"devpin/pkg/lockfile"
	"devpin/pkg/platform"
	"devpin/pkg/resolve"
)

// StateDir is the project-local directory activation scripts are
// written into.
const StateDir = ".devpin"

// Config carries the knobs for a session pipeline run.
type Config struct {
	// Dir is the project directory holding the descriptor and lock.
	// Empty means the current directory.
	Dir string
	// Platform overrides the host platform for single-platform runs.
	Platform platform.ID
	// Store overrides the default snapshot store.
	Store *fetch.Store
	// HTTPClient overrides the default fetch client.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Result is a prepared single-platform session: the resolved and locked
// input set and the materialized environment.
type Result struct {
	Descriptor *descriptor.Descriptor
	Set        *resolve.Set
	Lock       *lockfile.Lock
	Spec       *compose.ShellSpec
	Env        *Env
}

// MultiResult is the outcome of a full multi-platform pass over one
// descriptor: one resolve, one composition attempt per platform.
type MultiResult struct {
	Descriptor *descriptor.Descriptor
	Set        *resolve.Set
	Lock       *lockfile.Lock
	Platforms  []platform.ID
	Composed   *compose.Set
}

// DriftReport compares a fresh resolution against the lock on disk.
type DriftReport struct {
	Locked   string
	Resolved string
	// Changed lists inputs whose pins differ, sorted by name.
	Changed []string
}

// InSync reports whether the lock still describes what resolution
// produces.
func (r *DriftReport) InSync() bool { return r.Locked == r.Resolved }

// Prepare runs the single-platform pipeline: load the descriptor,
// resolve and pin every input, compose the target platform, and
// materialize the result. The lock file is written when resolution
// produced a different pin set than the one on disk; a failed resolve
// leaves the lock untouched.
func Prepare(ctx context.Context, cfg Config) (*Result, error) {
	desc, set, lock, err := resolveProject(ctx, &cfg, true)
	if err != nil {
		return nil, err
	}

	composer, err := compose.New(desc, set)
	if err != nil {
		return nil, err
	}

	target := cfg.Platform
	if target == "" {
		target = platform.Host()
	}

	spec, err := composer.One(ctx, target)
	if err != nil {
		return nil, err
	}

	env, err := Materialize(spec)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Debug().
		Str("platform", target.String()).
		Str("toolchain", env.Toolchain.Name+"-"+env.Toolchain.Version).
		Str("lock", shortDigest(lock.Digest)).
		Msg("session prepared")

	return &Result{Descriptor: desc, Set: set, Lock: lock, Spec: spec, Env: env}, nil
}

// PrepareAll resolves once and composes every platform in the project's
// platform list. Per-platform failures land in the composed set; only
// resolution failures abort the pass.
func PrepareAll(ctx context.Context, cfg Config) (*MultiResult, error) {
	desc, set, lock, err := resolveProject(ctx, &cfg, true)
	if err != nil {
		return nil, err
	}

	composer, err := compose.New(desc, set)
	if err != nil {
		return nil, err
	}
	platforms, err := composer.Platforms()
	if err != nil {
		return nil, err
	}

	composed := composer.All(ctx, platforms)
	return &MultiResult{
		Descriptor: desc,
		Set:        set,
		Lock:       lock,
		Platforms:  platforms,
		Composed:   composed,
	}, nil
}

// Verify re-resolves the descriptor against the existing lock and
// reports drift. It never writes the lock file. A missing lock is an
// error: there is nothing to verify against.
func Verify(ctx context.Context, cfg Config) (*DriftReport, error) {
	dir := projectDir(&cfg)
	prior, err := lockfile.Read(filepath.Join(dir, lockfile.DefaultFile))
	if err != nil {
		return nil, fmt.Errorf("no usable lock to verify: %w", err)
	}

	desc, set, _, err := resolveWith(ctx, &cfg, prior, false)
	if err != nil {
		return nil, err
	}

	report := &DriftReport{Locked: prior.Digest, Resolved: set.Digest}
	for _, name := range desc.InputNames() {
		snap, ok := set.Snapshot(name)
		if !ok {
			continue
		}
		entry, had := prior.Entry(name)
		coord := desc.Inputs[name]
		if !had || entry.Locator != coord.Locator() || entry.Revision != snap.Revision || entry.SHA256 != snap.SHA256 {
			report.Changed = append(report.Changed, name)
		}
	}
	for name := range prior.Inputs {
		if _, ok := desc.Inputs[name]; !ok {
			report.Changed = append(report.Changed, name)
		}
	}
	sort.Strings(report.Changed)
	return report, nil
}

func projectDir(cfg *Config) string {
	if cfg.Dir == "" {
		return "."
	}
	return cfg.Dir
}

func resolveProject(ctx context.Context, cfg *Config, write bool) (*descriptor.Descriptor, *resolve.Set, *lockfile.Lock, error) {
	dir := projectDir(cfg)
	prior, err := lockfile.Read(filepath.Join(dir, lockfile.DefaultFile))
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		prior = nil
	default:
		return nil, nil, nil, err
	}
	return resolveWith(ctx, cfg, prior, write)
}

func resolveWith(ctx context.Context, cfg *Config, prior *lockfile.Lock, write bool) (*descriptor.Descriptor, *resolve.Set, *lockfile.Lock, error) {
	dir := projectDir(cfg)

	desc, err := descriptor.Load(filepath.Join(dir, descriptor.DefaultFile))
	if err != nil {
		return nil, nil, nil, err
	}

	store := cfg.Store
	if store == nil {
		root, err := fetch.DefaultRoot()
		if err != nil {
			return nil, nil, nil, err
		}
		store, err = fetch.NewStore(root)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	client, err := fetch.NewClient(store, cfg.HTTPClient)
	if err != nil {
		return nil, nil, nil, err
	}
	resolver, err := resolve.New(client)
	if err != nil {
		return nil, nil, nil, err
	}

	set, err := resolver.Resolve(ctx, desc, prior)
	if err != nil {
		return nil, nil, nil, err
	}

	lock := set.Lock(time.Now())
	if prior != nil && prior.Digest == lock.Digest {
		return desc, set, prior, nil
	}
	if write {
		if err := lock.Write(filepath.Join(dir, lockfile.DefaultFile)); err != nil {
			return nil, nil, nil, err
		}
		cfg.Logger.Info().
			Int("inputs", len(lock.Inputs)).
			Str("digest", shortDigest(lock.Digest)).
			Msg("lock updated")
	}
	return desc, set, lock, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
