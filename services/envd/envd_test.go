package envd

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	gos3 "devpin/pkg/s3"
)

func TestHashToken(t *testing.T) {
	first := hashToken("devpin-token")
	if len(first) != 64 {
		t.Fatalf("hashToken() length = %d, want 64", len(first))
	}
	if first != hashToken("devpin-token") {
		t.Error("hashToken() is not deterministic")
	}
	if first == hashToken("devpin-token2") {
		t.Error("hashToken() collides on distinct values")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "bare value", header: "sometoken"},
		{name: "bearer", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "padded value", header: "Bearer   abc123  ", want: "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/projects", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Fatalf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateDescriptorMap(t *testing.T) {
	valid := map[string]any{
		"version": 1,
		"inputs": map[string]any{
			"pkgset": map[string]any{"channel": "https://channels.devpin.dev/pkgset-25.05"},
		},
		"shell": map[string]any{
			"base": "pkgset",
			"toolchain": map[string]any{
				"name":    "rust",
				"version": "1.57.0",
			},
		},
	}
	if err := validateDescriptorMap(valid); err != nil {
		t.Fatalf("validateDescriptorMap() error = %v", err)
	}

	missingBase := map[string]any{
		"version": 1,
		"inputs": map[string]any{
			"pkgset": map[string]any{"channel": "https://channels.devpin.dev/pkgset-25.05"},
		},
		"shell": map[string]any{
			"toolchain": map[string]any{"name": "rust", "version": "1.57.0"},
		},
	}
	if err := validateDescriptorMap(missingBase); err == nil {
		t.Error("validateDescriptorMap() accepted a shell without a base input")
	}

	badVersion := map[string]any{"version": 9}
	if err := validateDescriptorMap(badVersion); err == nil {
		t.Error("validateDescriptorMap() accepted an unsupported version")
	}
}

func TestNewValidatesStore(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("New(nil store) did not error")
	}
	if _, err := New(&Store{}, Config{}); err == nil {
		t.Error("New() without DB did not error")
	}
	if _, err := New(&Store{DB: &pgxpool.Pool{}}, Config{}); err == nil {
		t.Error("New() without ORM did not error")
	}

	t.Setenv("S3_BUCKET", "")
	store := &Store{DB: &pgxpool.Pool{}, ORM: &gorm.DB{}, S3: &gos3.Client{}}
	if _, err := New(store, Config{}); err == nil {
		t.Error("New() with S3 but no bucket did not error")
	}

	api, err := New(store, Config{SnapshotBucket: "devpin-snapshots"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if api.config.PresignTTL != presignURLExpiry {
		t.Errorf("PresignTTL default = %v, want %v", api.config.PresignTTL, presignURLExpiry)
	}
}
