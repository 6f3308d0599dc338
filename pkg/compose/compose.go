// Package compose builds shell specifications from a resolved input set:
// per platform, the base collection extended by the overlay manifests
// yields a catalog, the authored toolchain version is selected and
// augmented, and the result is one ShellSpec. The multi-platform driver
// fans the composer out over the default platform list with per-platform
// isolation.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"devpin/infra/defaults"
	"devpin/pkg/catalog"
	"devpin/pkg/descriptor"
	"devpin/pkg/platform"
	"devpin/pkg/resolve"
)

// SourceExtension is the editor/tooling source extension every
// composition carries, whether or not the descriptor asks for it.
const SourceExtension = "src"

// ShellSpec is the composed environment for one platform. Its tool set is
// the single augmented toolchain selection.
type ShellSpec struct {
	Platform  platform.ID
	Toolchain catalog.Toolchain
	// Collection names the base collection release the catalog came from.
	Collection string
	// LockDigest ties the shell to the locked input set it was composed from.
	LockDigest string
}

// Composer builds shell specs for one descriptor over one resolved set.
type Composer struct {
	desc *descriptor.Descriptor
	set  *resolve.Set
}

// New wires a composer to a descriptor and the set resolved from it.
func New(desc *descriptor.Descriptor, set *resolve.Set) (*Composer, error) {
	if desc == nil {
		return nil, errors.New("descriptor is required")
	}
	if set == nil {
		return nil, errors.New("resolved set is required")
	}
	return &Composer{desc: desc, set: set}, nil
}

// Platforms returns the default platform list for this composition: the
// platform provider input's published list when the role is bound, the
// built-in list otherwise.
func (c *Composer) Platforms() ([]platform.ID, error) {
	name := c.desc.Shell.Platforms
	if name == "" {
		return defaults.Platforms(), nil
	}
	snap, ok := c.set.Snapshot(name)
	if !ok {
		return nil, fmt.Errorf("platform provider %q is not in the resolved set", name)
	}
	data, err := os.ReadFile(filepath.Join(snap.Dir, platform.ListFile))
	if err != nil {
		return nil, fmt.Errorf("read platform list from %q: %w", name, err)
	}
	ids, err := platform.ParseList(data)
	if err != nil {
		return nil, fmt.Errorf("platform list from %q: %w", name, err)
	}
	return ids, nil
}

// One composes the shell spec for a single platform. A missing toolchain
// version surfaces as catalog.VersionNotFoundError; there is no fallback.
func (c *Composer) One(ctx context.Context, p platform.ID) (*ShellSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baseSnap, ok := c.set.Snapshot(c.desc.Shell.Base)
	if !ok {
		return nil, fmt.Errorf("base input %q is not in the resolved set", c.desc.Shell.Base)
	}
	overlayDirs := make([]string, 0, len(c.desc.Shell.Overlays))
	for _, name := range c.desc.Shell.Overlays {
		snap, ok := c.set.Snapshot(name)
		if !ok {
			return nil, fmt.Errorf("overlay input %q is not in the resolved set", name)
		}
		overlayDirs = append(overlayDirs, snap.Dir)
	}

	cat, err := catalog.Load(baseSnap.Dir, p, overlayDirs...)
	if err != nil {
		return nil, fmt.Errorf("load catalog for %s: %w", p, err)
	}

	tc := c.desc.Shell.Toolchain
	selected, err := cat.Toolchain(tc.Name, tc.Version)
	if err != nil {
		return nil, err
	}
	augmented, err := selected.WithExtensions(append([]string{SourceExtension}, tc.Extensions...)...)
	if err != nil {
		return nil, err
	}

	return &ShellSpec{
		Platform:   p,
		Toolchain:  *augmented,
		Collection: cat.Collection,
		LockDigest: c.set.Digest,
	}, nil
}

// Set is the outcome of a multi-platform pass: independent per-platform
// results, with failures isolated to their platform.
type Set struct {
	Specs  map[platform.ID]*ShellSpec
	Errors map[platform.ID]error
}

// Platforms lists every platform the pass touched, sorted.
func (s *Set) Platforms() []platform.ID {
	ids := make([]platform.ID, 0, len(s.Specs)+len(s.Errors))
	for p := range s.Specs {
		ids = append(ids, p)
	}
	for p := range s.Errors {
		ids = append(ids, p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AllFailed reports whether no platform composed.
func (s *Set) AllFailed() bool {
	return len(s.Specs) == 0 && len(s.Errors) > 0
}

// All composes every platform in ps concurrently. Each composition writes
// only its own result slot; one platform's failure never suppresses or
// corrupts another platform's result.
func (c *Composer) All(ctx context.Context, ps []platform.ID) *Set {
	type slot struct {
		spec *ShellSpec
		err  error
	}
	slots := make([]slot, len(ps))

	var wg sync.WaitGroup
	for i, p := range ps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spec, err := c.One(ctx, p)
			slots[i] = slot{spec: spec, err: err}
		}()
	}
	wg.Wait()

	out := &Set{
		Specs:  make(map[platform.ID]*ShellSpec, len(ps)),
		Errors: make(map[platform.ID]error),
	}
	for i, p := range ps {
		if slots[i].err != nil {
			out.Errors[p] = slots[i].err
			continue
		}
		out.Specs[p] = slots[i].spec
	}
	return out
}
