// Package lockfile reads and writes devpin.lock, the persisted record of a
// resolved input set: one pinned entry per input plus a canonical digest
// over the whole set.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the lock file name kept next to a descriptor.
const DefaultFile = "devpin.lock"

// CurrentVersion is the only lock schema version understood.
const CurrentVersion = 1

// Entry pins one input: the locator it resolved from, the revision it
// pinned to, and the content hash of the fetched archive.
type Entry struct {
	Locator  string `yaml:"locator"`
	Revision string `yaml:"revision"`
	SHA256   string `yaml:"sha256"`
}

// Lock is a parsed devpin.lock.
type Lock struct {
	Version   int              `yaml:"version"`
	Generated time.Time        `yaml:"generated"`
	Digest    string           `yaml:"digest"`
	Inputs    map[string]Entry `yaml:"inputs"`
}

// New builds a lock over entries, stamping the generation time and the
// canonical digest.
func New(entries map[string]Entry, now time.Time) *Lock {
	return &Lock{
		Version:   CurrentVersion,
		Generated: now.UTC().Truncate(time.Second),
		Digest:    Digest(entries),
		Inputs:    entries,
	}
}

// Digest computes the content digest of a pinned set: entries in input
// name order, independent of generation time.
func Digest(entries map[string]Entry) string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		e := entries[name]
		fmt.Fprintf(h, "%s %s %s %s\n", name, e.Locator, e.Revision, e.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Read loads and validates the lock at path. A missing file surfaces as
// fs.ErrNotExist through the wrapped error.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates lock bytes.
func Parse(data []byte) (*Lock, error) {
	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks the schema version, entry completeness, and that the
// recorded digest still matches the entries. A digest mismatch means the
// file was edited by hand.
func (l *Lock) Validate() error {
	if l.Version != CurrentVersion {
		return fmt.Errorf("unsupported lock version %d", l.Version)
	}
	if len(l.Inputs) == 0 {
		return errors.New("lock pins no inputs")
	}
	for name, e := range l.Inputs {
		if e.Locator == "" || e.Revision == "" || e.SHA256 == "" {
			return fmt.Errorf("lock entry %q is incomplete", name)
		}
	}
	if want := Digest(l.Inputs); l.Digest != want {
		return fmt.Errorf("lock digest mismatch: recorded %s, computed %s", l.Digest, want)
	}
	return nil
}

// Entry returns the pinned entry for an input name.
func (l *Lock) Entry(name string) (Entry, bool) {
	e, ok := l.Inputs[name]
	return e, ok
}

// Write writes the lock to path atomically.
func (l *Lock) Write(path string) error {
	if err := l.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".devpin-lock-*")
	if err != nil {
		return fmt.Errorf("create lock temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close lock temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace lock: %w", err)
	}
	return nil
}
