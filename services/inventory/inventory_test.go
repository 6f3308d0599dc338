package inventory

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestSessionReportNormalize(t *testing.T) {
	r := SessionReport{
		Platform:   "  x86_64-linux ",
		Toolchain:  "rust\t",
		Version:    " 1.57.0",
		LockDigest: " abc ",
	}
	r.Normalize()

	if r.Platform != "x86_64-linux" || r.Toolchain != "rust" || r.Version != "1.57.0" || r.LockDigest != "abc" {
		t.Fatalf("Normalize() = %+v", r)
	}
	if r.Host == nil {
		t.Fatal("Normalize() left host facts nil")
	}
}

func TestSessionReportValidate(t *testing.T) {
	tests := []struct {
		name    string
		report  SessionReport
		wantErr bool
	}{
		{
			name:   "complete",
			report: SessionReport{Platform: "x86_64-linux", Toolchain: "rust", Version: "1.57.0"},
		},
		{
			name:   "lock digest optional",
			report: SessionReport{Platform: "aarch64-darwin", Toolchain: "rust", Version: "1.57.0", LockDigest: ""},
		},
		{
			name:    "missing platform",
			report:  SessionReport{Toolchain: "rust", Version: "1.57.0"},
			wantErr: true,
		},
		{
			name:    "missing version",
			report:  SessionReport{Platform: "x86_64-linux", Toolchain: "rust"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()

	if err := Record(ctx, nil, Entry{Actor: "envd", Action: "lock_recorded"}); err == nil {
		t.Fatal("Record() without a pool expected error")
	}

	err := Record(ctx, &pgxpool.Pool{}, Entry{Obj: "demo"})
	if err == nil || !strings.Contains(err.Error(), "actor") {
		t.Fatalf("Record() without actor/action error = %v", err)
	}
}

func TestDiff(t *testing.T) {
	previous := map[string]any{
		"pkgset":            map[string]any{"revision": "25.05.100"},
		"toolchain-overlay": map[string]any{"revision": "aaa"},
		"compat-shim":       map[string]any{"revision": "ccc"},
	}
	current := map[string]any{
		"pkgset":            map[string]any{"revision": "25.05.100"},
		"toolchain-overlay": map[string]any{"revision": "bbb"},
		"platform-sets":     map[string]any{"revision": "ddd"},
	}

	got := Diff(previous, current)

	want := map[string]map[string]any{
		"toolchain-overlay": {
			"old": map[string]any{"revision": "aaa"},
			"new": map[string]any{"revision": "bbb"},
		},
		"compat-shim": {
			"old": map[string]any{"revision": "ccc"},
			"new": nil,
		},
		"platform-sets": {
			"old": nil,
			"new": map[string]any{"revision": "ddd"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Diff() = %#v, want %#v", got, want)
	}

	if d := Diff(nil, nil); len(d) != 0 {
		t.Fatalf("Diff(nil, nil) = %#v, want empty", d)
	}
}
