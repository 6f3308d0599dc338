// Package resolve turns a descriptor's input registry into a locked input
// set: every coordinate fetched, pinned, and content-addressed, or the
// whole pass fails.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devpin/pkg/descriptor"
	"devpin/pkg/fetch"
	"devpin/pkg/lockfile"
)

// UnresolvedInputError reports an input that could not be fetched or
// pinned. A single unresolved input fails the whole pass; there is no
// partial resolution.
type UnresolvedInputError struct {
	Input   string
	Locator string
	Err     error
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("unresolved input %q (%s): %v", e.Input, e.Locator, e.Err)
}

func (e *UnresolvedInputError) Unwrap() error { return e.Err }

// Resolved is one pinned input with its materialized snapshot.
type Resolved struct {
	Name     string
	Coord    descriptor.Coordinate
	Snapshot fetch.Snapshot
}

// Set is a locked input set: every declared input pinned and snapshotted,
// identified by the canonical digest over its pins.
type Set struct {
	Inputs map[string]Resolved
	Digest string
}

// Snapshot returns the snapshot resolved for an input name.
func (s *Set) Snapshot(name string) (fetch.Snapshot, bool) {
	res, ok := s.Inputs[name]
	return res.Snapshot, ok
}

// Lock converts the set into a lock artifact.
func (s *Set) Lock(now time.Time) *lockfile.Lock {
	return lockfile.New(s.entries(), now)
}

func (s *Set) entries() map[string]lockfile.Entry {
	entries := make(map[string]lockfile.Entry, len(s.Inputs))
	for name, res := range s.Inputs {
		entries[name] = lockfile.Entry{
			Locator:  res.Coord.Locator(),
			Revision: res.Snapshot.Revision,
			SHA256:   res.Snapshot.SHA256,
		}
	}
	return entries
}

// Resolver fetches registry inputs into a store.
type Resolver struct {
	client *fetch.Client
}

// New wires a resolver to a fetch client.
func New(client *fetch.Client) (*Resolver, error) {
	if client == nil {
		return nil, errors.New("fetch client is required")
	}
	return &Resolver{client: client}, nil
}

// Resolve pins every input declared by d, fetching concurrently. Each
// input writes into its own result slot; nothing is shared between
// fetches. Entries of prior whose locator still matches the descriptor
// are reused as pins, so a fresh lock reproduces the recorded revisions
// byte for byte. Stale entries re-pin. On failure the error for the first
// input in name order is returned.
func (r *Resolver) Resolve(ctx context.Context, d *descriptor.Descriptor, prior *lockfile.Lock) (*Set, error) {
	if d == nil {
		return nil, errors.New("descriptor is required")
	}
	names := d.InputNames()

	type slot struct {
		res Resolved
		err error
	}
	slots := make([]slot, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		coord := d.Inputs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := r.resolveOne(ctx, coord, pinFor(prior, name, coord))
			if err != nil {
				slots[i].err = &UnresolvedInputError{Input: name, Locator: coord.Locator(), Err: err}
				return
			}
			slots[i].res = Resolved{Name: name, Coord: coord, Snapshot: *snap}
		}()
	}
	wg.Wait()

	for _, s := range slots {
		if s.err != nil {
			return nil, s.err
		}
	}

	set := &Set{Inputs: make(map[string]Resolved, len(names))}
	for _, s := range slots {
		set.Inputs[s.res.Name] = s.res
	}
	set.Digest = lockfile.Digest(set.entries())
	return set, nil
}

func (r *Resolver) resolveOne(ctx context.Context, coord descriptor.Coordinate, pin *fetch.Pin) (*fetch.Snapshot, error) {
	f, err := r.client.For(coord)
	if err != nil {
		return nil, err
	}
	return f.Resolve(ctx, pin)
}

// pinFor maps a prior lock entry to a fetch pin when its locator still
// matches the descriptor's coordinate.
func pinFor(prior *lockfile.Lock, name string, coord descriptor.Coordinate) *fetch.Pin {
	if prior == nil {
		return nil
	}
	e, ok := prior.Entry(name)
	if !ok || e.Locator != coord.Locator() {
		return nil
	}
	return &fetch.Pin{Revision: e.Revision, SHA256: e.SHA256}
}
