package lockfile

import (
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleEntries() map[string]Entry {
	return map[string]Entry{
		"pkgset": {
			Locator:  "https://channels.devpin.dev/pkgset-25.05",
			Revision: "pkgset-25.05.4321",
			SHA256:   strings.Repeat("a", 64),
		},
		"toolchain-overlay": {
			Locator:  "https://forge.devpin.dev/overlays/toolchain-overlay",
			Revision: strings.Repeat("b", 40),
			SHA256:   strings.Repeat("c", 64),
		},
	}
}

func TestDigestStable(t *testing.T) {
	first := Digest(sampleEntries())
	second := Digest(sampleEntries())
	if first != second {
		t.Fatalf("Digest() = %q then %q, want stable", first, second)
	}

	changed := sampleEntries()
	e := changed["pkgset"]
	e.Revision = "pkgset-25.05.9999"
	changed["pkgset"] = e
	if Digest(changed) == first {
		t.Fatal("Digest() unchanged after revision change")
	}
}

func TestDigestIgnoresGeneratedTime(t *testing.T) {
	a := New(sampleEntries(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(sampleEntries(), time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC))
	if a.Digest != b.Digest {
		t.Fatalf("digests differ across generation times: %q vs %q", a.Digest, b.Digest)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	lock := New(sampleEntries(), time.Now())

	if err := lock.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Digest != lock.Digest {
		t.Fatalf("Digest = %q, want %q", got.Digest, lock.Digest)
	}
	if !reflect.DeepEqual(got.Inputs, lock.Inputs) {
		t.Fatalf("Inputs = %+v, want %+v", got.Inputs, lock.Inputs)
	}
	if !got.Generated.Equal(lock.Generated) {
		t.Fatalf("Generated = %v, want %v", got.Generated, lock.Generated)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), DefaultFile))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Read() error = %v, want fs.ErrNotExist", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Lock)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Lock) {},
		},
		{
			name:    "wrong version",
			mutate:  func(l *Lock) { l.Version = 7 },
			wantErr: "unsupported lock version",
		},
		{
			name:    "no inputs",
			mutate:  func(l *Lock) { l.Inputs = nil },
			wantErr: "pins no inputs",
		},
		{
			name: "incomplete entry",
			mutate: func(l *Lock) {
				e := l.Inputs["pkgset"]
				e.SHA256 = ""
				l.Inputs["pkgset"] = e
			},
			wantErr: "incomplete",
		},
		{
			name:    "hand edited digest",
			mutate:  func(l *Lock) { l.Digest = strings.Repeat("f", 64) },
			wantErr: "digest mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := New(sampleEntries(), time.Now())
			tt.mutate(lock)
			err := lock.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEntryLookup(t *testing.T) {
	lock := New(sampleEntries(), time.Now())
	if _, ok := lock.Entry("pkgset"); !ok {
		t.Fatal("Entry(pkgset) missing")
	}
	if _, ok := lock.Entry("absent"); ok {
		t.Fatal("Entry(absent) found")
	}
}
