package descriptor

import (
	"reflect"
	"strings"
	"testing"
)

const referenceYAML = `version: 1
inputs:
  pkgset:
    channel: https://channels.devpin.dev/pkgset-25.05
  toolchain-overlay:
    git: https://forge.devpin.dev/overlays/toolchain-overlay
    ref: main
  platform-sets:
    git: https://forge.devpin.dev/devpin/platform-sets
  compat-shim:
    git: https://forge.devpin.dev/devpin/compat-shim
    data: true
shell:
  base: pkgset
  overlays: [toolchain-overlay]
  platforms: platform-sets
  toolchain:
    name: rust
    version: "1.57.0"
    extensions: [src]
`

func TestParseReference(t *testing.T) {
	d, err := Parse([]byte(referenceYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(d.Inputs) != 4 {
		t.Fatalf("len(Inputs) = %d, want 4", len(d.Inputs))
	}
	if got := d.Shell.Toolchain.Version; got != "1.57.0" {
		t.Fatalf("toolchain version = %q, want %q", got, "1.57.0")
	}
	if !d.Inputs["compat-shim"].Data {
		t.Fatal("compat-shim should be data-only")
	}
	want := []string{"compat-shim", "pkgset", "platform-sets", "toolchain-overlay"}
	if got := d.InputNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("InputNames() = %v, want %v", got, want)
	}
}

func TestCoordinateKind(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		want    Kind
		wantErr bool
	}{
		{
			name:  "channel",
			coord: Coordinate{Channel: "https://channels.devpin.dev/pkgset-25.05"},
			want:  KindChannel,
		},
		{
			name:  "git with ref",
			coord: Coordinate{Git: "https://forge.devpin.dev/x/y", Ref: "v1"},
			want:  KindGit,
		},
		{
			name:  "data only changes evaluation, not kind",
			coord: Coordinate{Git: "https://forge.devpin.dev/x/y", Data: true},
			want:  KindGit,
		},
		{
			name:    "both set",
			coord:   Coordinate{Channel: "https://a", Git: "https://b"},
			wantErr: true,
		},
		{
			name:    "neither set",
			coord:   Coordinate{},
			wantErr: true,
		},
		{
			name:    "ref on channel",
			coord:   Coordinate{Channel: "https://a", Ref: "main"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.coord.Kind()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Kind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Fatalf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(yaml string) string
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(y string) string { return strings.Replace(y, "version: 1", "version: 2", 1) },
			wantErr: "unsupported descriptor version",
		},
		{
			name:    "base undeclared",
			mutate:  func(y string) string { return strings.Replace(y, "base: pkgset", "base: nope", 1) },
			wantErr: "undeclared input",
		},
		{
			name:    "base is data-only",
			mutate:  func(y string) string { return strings.Replace(y, "base: pkgset", "base: compat-shim", 1) },
			wantErr: "data-only input",
		},
		{
			name:    "overlay undeclared",
			mutate:  func(y string) string { return strings.Replace(y, "[toolchain-overlay]", "[missing]", 1) },
			wantErr: "undeclared input",
		},
		{
			name:    "missing toolchain version",
			mutate:  func(y string) string { return strings.Replace(y, `version: "1.57.0"`, "", 1) },
			wantErr: "toolchain.version is required",
		},
		{
			name:    "missing toolchain name",
			mutate:  func(y string) string { return strings.Replace(y, "name: rust", "", 1) },
			wantErr: "toolchain.name is required",
		},
		{
			name:    "empty extension",
			mutate:  func(y string) string { return strings.Replace(y, "[src]", `[""]`, 1) },
			wantErr: "empty name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(referenceYAML)))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLocatorCarriesGitRef(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  string
	}{
		{
			name:  "channel",
			coord: Coordinate{Channel: "https://channels.devpin.dev/pkgset-25.05"},
			want:  "https://channels.devpin.dev/pkgset-25.05",
		},
		{
			name:  "git default branch",
			coord: Coordinate{Git: "https://forge.devpin.dev/devpin/platform-sets"},
			want:  "https://forge.devpin.dev/devpin/platform-sets",
		},
		{
			name:  "git with ref",
			coord: Coordinate{Git: "https://forge.devpin.dev/overlays/toolchain-overlay", Ref: "main"},
			want:  "https://forge.devpin.dev/overlays/toolchain-overlay#main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coord.Locator(); got != tt.want {
				t.Fatalf("Locator() = %q, want %q", got, tt.want)
			}
		})
	}
}
