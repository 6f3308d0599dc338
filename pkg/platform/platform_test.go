package platform

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{
			name:  "linux amd64",
			input: "x86_64-linux",
			want:  "x86_64-linux",
		},
		{
			name:  "darwin arm64",
			input: "aarch64-darwin",
			want:  "aarch64-darwin",
		},
		{
			name:    "missing separator",
			input:   "x86_64",
			wantErr: true,
		},
		{
			name:    "empty arch",
			input:   "-linux",
			wantErr: true,
		},
		{
			name:    "empty os",
			input:   "aarch64-",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Fatalf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIDHalves(t *testing.T) {
	id := ID("x86_64-linux")
	if got := id.Arch(); got != "x86_64" {
		t.Fatalf("Arch() = %q, want %q", got, "x86_64")
	}
	if got := id.OS(); got != "linux" {
		t.Fatalf("OS() = %q, want %q", got, "linux")
	}
}

func TestHostOverride(t *testing.T) {
	t.Setenv(EnvOverride, "riscv64-linux")
	if got := Host(); got != "riscv64-linux" {
		t.Fatalf("Host() = %q, want %q", got, "riscv64-linux")
	}

	t.Setenv(EnvOverride, "not-a-platform-")
	if got := Host(); got == "not-a-platform-" {
		t.Fatalf("Host() accepted invalid override %q", got)
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ID
		wantErr bool
	}{
		{
			name: "full default set",
			input: "default:\n" +
				"  - x86_64-linux\n" +
				"  - aarch64-linux\n" +
				"  - x86_64-darwin\n" +
				"  - aarch64-darwin\n",
			want: []ID{"x86_64-linux", "aarch64-linux", "x86_64-darwin", "aarch64-darwin"},
		},
		{
			name:  "duplicates collapse in order",
			input: "default: [x86_64-linux, x86_64-linux, aarch64-linux]\n",
			want:  []ID{"x86_64-linux", "aarch64-linux"},
		},
		{
			name:    "empty document",
			input:   "default: []\n",
			wantErr: true,
		},
		{
			name:    "invalid entry",
			input:   "default: [x86_64]\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			input:   "default: [unterminated\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseList([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseList() = %v, want %v", got, tt.want)
			}
		})
	}
}
