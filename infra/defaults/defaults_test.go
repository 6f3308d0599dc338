package defaults

import (
	"testing"

	"devpin/pkg/descriptor"
)

func TestPlatforms(t *testing.T) {
	ids := Platforms()
	if len(ids) != 4 {
		t.Fatalf("len(Platforms()) = %d, want 4", len(ids))
	}
	if ids[0] != "x86_64-linux" {
		t.Fatalf("Platforms()[0] = %q, want x86_64-linux", ids[0])
	}
}

func TestDescriptorParses(t *testing.T) {
	d, err := descriptor.Parse(Descriptor())
	if err != nil {
		t.Fatalf("reference descriptor invalid: %v", err)
	}
	if d.Shell.Toolchain.Version == "" {
		t.Fatal("reference descriptor pins no toolchain version")
	}
}
